package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"algotrader/internal/models"
)

// Collection is a typed view over one entity kind.
type Collection[T any] struct {
	entities Entities
	kind     models.EntityKind
}

// NewCollection returns a typed collection for kind.
func NewCollection[T any](entities Entities, kind models.EntityKind) Collection[T] {
	return Collection[T]{entities: entities, kind: kind}
}

// Strategies returns the Strategy collection.
func Strategies(e Entities) Collection[models.Strategy] {
	return NewCollection[models.Strategy](e, models.KindStrategy)
}

// Signals returns the Signal collection.
func Signals(e Entities) Collection[models.Signal] {
	return NewCollection[models.Signal](e, models.KindSignal)
}

// Backtests returns the Backtest collection.
func Backtests(e Entities) Collection[models.Backtest] {
	return NewCollection[models.Backtest](e, models.KindBacktest)
}

// Trades returns the Trade collection.
func Trades(e Entities) Collection[models.Trade] {
	return NewCollection[models.Trade](e, models.KindTrade)
}

// Watchlist returns the WatchlistAsset collection.
func Watchlist(e Entities) Collection[models.WatchlistAsset] {
	return NewCollection[models.WatchlistAsset](e, models.KindWatchlistAsset)
}

// Users returns the User collection.
func Users(e Entities) Collection[models.User] {
	return NewCollection[models.User](e, models.KindUser)
}

// Kind returns the entity kind of the collection.
func (c Collection[T]) Kind() models.EntityKind {
	return c.kind
}

// List returns the records of the collection.
func (c Collection[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	recs, err := c.entities.List(ctx, c.kind, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := FromRecord(rec, &v); err != nil {
			return nil, fmt.Errorf("decoding %s %s: %w", c.kind, rec.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Create persists v and returns the stored copy with gateway-owned fields.
func (c Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var out T
	rec, err := ToRecord(v)
	if err != nil {
		return out, err
	}
	stripMeta(rec)

	created, err := c.entities.Create(ctx, c.kind, rec)
	if err != nil {
		return out, err
	}
	err = FromRecord(created, &out)
	return out, err
}

// Update replaces the mutable fields of record id with v.
func (c Collection[T]) Update(ctx context.Context, id string, v T) (T, error) {
	rec, err := ToRecord(v)
	if err != nil {
		var zero T
		return zero, err
	}
	stripMeta(rec)
	return c.Patch(ctx, id, rec)
}

// Patch updates only the given fields of record id.
func (c Collection[T]) Patch(ctx context.Context, id string, fields Record) (T, error) {
	var out T
	updated, err := c.entities.Update(ctx, c.kind, id, fields)
	if err != nil {
		return out, err
	}
	err = FromRecord(updated, &out)
	return out, err
}

// Delete removes record id.
func (c Collection[T]) Delete(ctx context.Context, id string) error {
	return c.entities.Delete(ctx, c.kind, id)
}

// ToRecord converts a typed entity into a Record.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	rec := Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return rec, nil
}

// FromRecord converts a Record into a typed entity.
func FromRecord(rec Record, out any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func stripMeta(rec Record) {
	for _, k := range []string{"id", "created_date", "updated_date", "created_by"} {
		delete(rec, k)
	}
}
