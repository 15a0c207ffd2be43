package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/logging"
	"algotrader/internal/models"
)

// Call is one function invocation.
type Call struct {
	User    *models.User
	Payload map[string]any
}

// Reply lets a function put a message next to its data.
type Reply struct {
	Data    any
	Message string
}

// Function serves one remote function. The returned value becomes the
// envelope's data, or a Reply for data plus message.
type Function func(ctx context.Context, call Call) (any, error)

// Registry maps function names to implementations.
type Registry struct {
	mu     sync.RWMutex
	fns    map[string]Function
	logger zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{fns: make(map[string]Function), logger: logger}
}

// Register adds or replaces function name.
func (r *Registry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for n := range r.fns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs function name and wraps the outcome in the
// {success, data, error} envelope. Validation failures answer 400, auth
// failures 401/403; other failures still answer 200 with success=false,
// the way the functions report upstream rejections.
func (r *Registry) Invoke(ctx context.Context, name string, call Call) (int, models.FunctionEnvelope, error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return http.StatusNotFound, models.FunctionEnvelope{}, apperrors.Wrapf(apperrors.ErrUnknownFunction, "%s", name)
	}
	if call.Payload == nil {
		call.Payload = map[string]any{}
	}

	start := time.Now()
	out, err := fn(ctx, call)
	op := name
	if action := stringParam(call.Payload, "action"); action != "" {
		op += "." + action
	}
	logging.LogRemoteCall(logging.FromContext(ctx), http.MethodPost, op, time.Since(start), err)

	if err != nil {
		env := models.FunctionEnvelope{Success: false, Error: err.Error()}
		var rce *apperrors.RemoteCallError
		if apperrors.As(err, &rce) && rce.Message != "" {
			env.Error = rce.Message
			env.Details = err.Error()
		}
		switch {
		case apperrors.Is(err, apperrors.ErrNotAuthenticated):
			return http.StatusUnauthorized, env, nil
		case apperrors.Classify(err) == apperrors.KindPermission:
			return http.StatusForbidden, env, nil
		case apperrors.Classify(err) == apperrors.KindValidation:
			return http.StatusBadRequest, env, nil
		}
		return http.StatusOK, env, nil
	}

	env := models.FunctionEnvelope{Success: true}
	data := out
	if reply, ok := out.(Reply); ok {
		env.Message = reply.Message
		data = reply.Data
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return http.StatusInternalServerError, env, fmt.Errorf("encoding %s result: %w", op, err)
		}
		env.Data = raw
	}
	return http.StatusOK, env, nil
}

// Actions dispatches on the payload's "action" field.
func Actions(name string, actions map[string]Function) Function {
	return func(ctx context.Context, call Call) (any, error) {
		action := stringParam(call.Payload, "action")
		fn, ok := actions[action]
		if !ok {
			return nil, apperrors.NewValidationError("action", action, fmt.Sprintf("is not supported by %s", name))
		}
		return fn(ctx, call)
	}
}

func stringParam(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func requireString(p map[string]any, key string) (string, error) {
	v := stringParam(p, key)
	if v == "" {
		return "", apperrors.NewValidationError(key, nil, "is required")
	}
	return v, nil
}

func floatParam(p map[string]any, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func boolParam(p map[string]any, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func stringsParam(p map[string]any, key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	}
	clean := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return clean
}
