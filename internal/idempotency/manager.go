package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const lockTTL = time.Minute

var ErrRequestInProgress = errors.New("request with this key is already in progress")

// Response is a replayable HTTP response.
type Response struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Operation produces the response to store. Returning store=false leaves the key
// unused so the client may retry, e.g. after a transient failure.
type Operation func(ctx context.Context) (resp *Response, store bool, err error)

type Result struct {
	Response  *Response
	FromCache bool
}

type Manager interface {
	Execute(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fn Operation,
	) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		log:   log,
	}
}

func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	locked, err := m.store.Lock(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}

	if !locked {
		if cached, err := m.cached(ctx, key); err != nil || cached != nil {
			return cached, err
		}
		return nil, ErrRequestInProgress
	}

	defer func() {
		_ = m.store.ReleaseLock(context.WithoutCancel(ctx), key)
	}()

	// the previous holder may have finished between our Get and Lock
	if cached, err := m.cached(ctx, key); err != nil || cached != nil {
		return cached, err
	}

	resp, store, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	if store {
		data, err := encodeResponse(resp)
		if err != nil {
			return nil, err
		}
		if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: data}, ttl); err != nil {
			m.log.WarnContext(ctx, "failed to store idempotent response", slog.String("key", key), slog.Any("error", err))
		}
	}

	return &Result{Response: resp}, nil
}

func (m *manager) cached(ctx context.Context, key string) (*Result, error) {
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != StatusCompleted {
		return nil, nil
	}

	resp, err := decodeResponse(record.Response)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, FromCache: true}, nil
}
