package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
)

// entityRow stores one record as a JSON document. Rows are scoped to the
// user that created them.
type entityRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Kind      string    `gorm:"size:64;index:idx_entities_kind_owner"`
	Owner     string    `gorm:"size:255;index:idx_entities_kind_owner"`
	Data      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (entityRow) TableName() string { return "entities" }

func (r entityRow) record() (gateway.Record, error) {
	rec := gateway.Record{}
	if r.Data != "" {
		if err := json.Unmarshal([]byte(r.Data), &rec); err != nil {
			return nil, fmt.Errorf("decoding %s %s: %w", r.Kind, r.ID, err)
		}
	}
	rec["id"] = r.ID
	rec["created_date"] = r.CreatedAt.UTC().Format(gateway.TimestampLayout)
	rec["updated_date"] = r.UpdatedAt.UTC().Format(gateway.TimestampLayout)
	rec["created_by"] = r.Owner
	return rec, nil
}

// metaFields are owned by the store and never taken from callers.
var metaFields = []string{"id", "created_date", "updated_date", "created_by"}

func encodeFields(fields gateway.Record) (string, error) {
	clean := make(gateway.Record, len(fields))
	for k, v := range fields {
		clean[k] = v
	}
	for _, k := range metaFields {
		delete(clean, k)
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", apperrors.NewValidationError("fields", nil, err.Error())
	}
	return string(data), nil
}

// EntityStore is the per-user record store behind the entities endpoints.
// User records live in the users table and are served by Authenticator.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore creates an EntityStore on db.
func NewEntityStore(db *gorm.DB) *EntityStore {
	return &EntityStore{db: db}
}

func checkKind(kind models.EntityKind) error {
	if !kind.Valid() || kind == models.KindUser {
		return apperrors.Wrapf(apperrors.ErrNotFound, "entity %s", kind)
	}
	return nil
}

// List returns owner's records of kind, ordered by opts.Sort.
func (s *EntityStore) List(ctx context.Context, owner string, kind models.EntityKind, opts gateway.ListOptions) ([]gateway.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	var rows []entityRow
	err := s.db.WithContext(ctx).
		Where("kind = ? AND owner = ?", string(kind), owner).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError(string(kind), err)
	}

	recs := make([]gateway.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	gateway.SortRecords(recs, opts.Sort)
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// Create stores fields as a new record owned by owner.
func (s *EntityStore) Create(ctx context.Context, owner string, kind models.EntityKind, fields gateway.Record) (gateway.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	data, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	row := entityRow{ID: uuid.NewString(), Kind: string(kind), Owner: owner, Data: data}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, apperrors.NewPersistenceError(string(kind), err)
	}
	return row.record()
}

// Update merges fields into record id.
func (s *EntityStore) Update(ctx context.Context, owner string, kind models.EntityKind, id string, fields gateway.Record) (gateway.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	var out gateway.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findRow(tx, owner, kind, id)
		if err != nil {
			return err
		}
		current, err := row.record()
		if err != nil {
			return err
		}
		for k, v := range fields {
			current[k] = v
		}
		if row.Data, err = encodeFields(current); err != nil {
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return apperrors.NewPersistenceError(string(kind), err)
		}
		out, err = row.record()
		return err
	})
	return out, err
}

// Delete removes record id.
func (s *EntityStore) Delete(ctx context.Context, owner string, kind models.EntityKind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND kind = ? AND owner = ?", id, string(kind), owner).
		Delete(&entityRow{})
	if res.Error != nil {
		return apperrors.NewPersistenceError(string(kind), res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func findRow(tx *gorm.DB, owner string, kind models.EntityKind, id string) (entityRow, error) {
	var row entityRow
	err := tx.Where("id = ? AND kind = ? AND owner = ?", id, string(kind), owner).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, apperrors.Wrapf(apperrors.ErrNotFound, "%s %s", kind, id)
	}
	if err != nil {
		return row, apperrors.NewPersistenceError(string(kind), err)
	}
	return row, nil
}
