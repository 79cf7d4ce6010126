// Package upsert merges incoming records into the persisted sequence.
package upsert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ASHISH26940/recordstore/internal/record"
)

// DefaultKeyField is the field used to match records when none is configured.
const DefaultKeyField = "nosis"

// Store is the persistence the service needs.
type Store interface {
	Load() record.Sequence
	LoadStrict() (record.Sequence, error)
	Save(seq record.Sequence) error
}

// Options configures a Service.
type Options struct {
	// KeyField names the field identifying a record.
	KeyField string
	// StrictLoad makes unreadable or corrupt store content an error instead
	// of an empty sequence.
	StrictLoad bool
	Logger     *slog.Logger
}

// Service applies upserts against a Store. Calls are serialized so that
// concurrent upserts never lose each other's changes.
type Service struct {
	mu       sync.Mutex
	store    Store
	keyField string
	strict   bool
	logger   *slog.Logger
}

// NewService creates a Service on top of store.
func NewService(store Store, opts Options) *Service {
	if opts.KeyField == "" {
		opts.KeyField = DefaultKeyField
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:    store,
		keyField: opts.KeyField,
		strict:   opts.StrictLoad,
		logger:   opts.Logger,
	}
}

// KeyField returns the field used to match records.
func (s *Service) KeyField() string { return s.keyField }

// Records returns the persisted sequence.
func (s *Service) Records(ctx context.Context) (record.Sequence, error) {
	return s.load()
}

// Upsert merges incoming into the first record sharing its key value, or
// appends it when there is none, then persists and returns the full sequence.
// A record without a key value is always appended.
func (s *Service) Upsert(ctx context.Context, incoming record.Record) (record.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.load()
	if err != nil {
		return nil, err
	}
	if i := seq.Index(s.keyField, incoming); i >= 0 {
		seq[i] = record.Merge(seq[i], incoming)
		s.logger.DebugContext(ctx, "Merged record", "index", i)
	} else {
		seq = append(seq, incoming)
		s.logger.DebugContext(ctx, "Appended record", "index", len(seq)-1)
	}
	if err := s.store.Save(seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *Service) load() (record.Sequence, error) {
	if s.strict {
		return s.store.LoadStrict()
	}
	return s.store.Load(), nil
}
