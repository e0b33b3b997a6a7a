package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Opener lazily opens one SQLiteStore and hands the same handle to every
// caller. Concurrent first calls share a single open attempt. A failed open
// is not cached, so a later call retries.
type Opener struct {
	DSN    string
	Logger zerolog.Logger

	group singleflight.Group
	mu    sync.Mutex
	store *SQLiteStore
}

// NewOpener returns an Opener for dsn.
func NewOpener(dsn string, log zerolog.Logger) *Opener {
	return &Opener{DSN: dsn, Logger: log}
}

// Open returns the cached handle, opening it on first use.
func (o *Opener) Open(ctx context.Context) (*SQLiteStore, error) {
	if s := o.cached(); s != nil {
		return s, nil
	}

	v, err, shared := o.group.Do(o.DSN, func() (any, error) {
		if s := o.cached(); s != nil {
			return s, nil
		}

		s, err := NewSQLiteStoreWithDSN(ctx, o.DSN)
		if err != nil {
			o.Logger.Error().Err(err).Str("dsn", o.DSN).Msg("open store failed")
			return nil, err
		}

		o.mu.Lock()
		o.store = s
		o.mu.Unlock()

		o.Logger.Info().Str("dsn", o.DSN).Int("schema", SchemaVersion).Msg("store opened")
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		o.Logger.Debug().Str("dsn", o.DSN).Msg("joined in-flight store open")
	}
	return v.(*SQLiteStore), nil
}

func (o *Opener) cached() *SQLiteStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store
}

// Close closes the cached handle, if any. The next Open reopens.
func (o *Opener) Close() error {
	o.mu.Lock()
	s := o.store
	o.store = nil
	o.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

var (
	sharedMu      sync.Mutex
	sharedOpeners = map[string]*Opener{}
)

// Shared returns the process-wide store for dsn. The handle lives for the
// lifetime of the process.
func Shared(ctx context.Context, dsn string) (*SQLiteStore, error) {
	sharedMu.Lock()
	o, ok := sharedOpeners[dsn]
	if !ok {
		o = NewOpener(dsn, zerolog.Nop())
		sharedOpeners[dsn] = o
	}
	sharedMu.Unlock()

	return o.Open(ctx)
}
