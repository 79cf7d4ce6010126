// Package store keeps the record sequence in a single JSON file on disk,
// together with a backup copy of the previous content.
// It is safe for concurrent use.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ASHISH26940/recordstore/internal/persistence"
	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/tidwall/pretty"
)

// ErrCorrupt is returned by LoadStrict when the store file does not hold a record sequence.
var ErrCorrupt = errors.New("store file is corrupt")

var emptyContent = []byte("[]")

// WriteFunc replaces the content of path with data.
type WriteFunc func(path string, data []byte) error

// Option configures a Store.
type Option func(*Store)

// WithWriter replaces the function used to write the store and restore the backup.
func WithWriter(w WriteFunc) Option {
	return func(s *Store) { s.write = w }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the file-backed record store.
type Store struct {
	mu         sync.RWMutex
	path       string
	backupPath string
	write      WriteFunc
	logger     *slog.Logger
	digest     string // SHA-1 of the last content written or seen by Initialize
}

// New returns a Store persisting to path and backing up to backupPath.
// Nothing is touched on disk until Initialize or Save is called.
func New(path, backupPath string, opts ...Option) *Store {
	s := &Store{
		path:       path,
		backupPath: backupPath,
		write:      persistence.WriteFile,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup file path.
func (s *Store) BackupPath() string { return s.backupPath }

// Digest returns the SHA-1 of the content this store last wrote.
func (s *Store) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

// Initialize creates the store file holding an empty sequence if it does not
// exist yet. Existing content is never touched.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := persistence.Exists(s.path)
	if err != nil {
		return fmt.Errorf("checking store file: %w", err)
	}
	if ok {
		if data, err := os.ReadFile(s.path); err == nil {
			s.digest = persistence.Digest(data)
		}
		return nil
	}
	s.logger.Info("Creating new store file", "path", s.path)
	if err := s.writeLocked(emptyContent); err != nil {
		return fmt.Errorf("creating store file: %w", err)
	}
	return nil
}

// Load returns the persisted sequence. Read and parse failures are logged
// and reported as an empty sequence.
func (s *Store) Load() record.Sequence {
	seq, err := s.LoadStrict()
	if err != nil {
		s.logger.Error("Failed to read store file", "path", s.path, "err", err)
		return record.Sequence{}
	}
	return seq
}

// LoadStrict returns the persisted sequence, or the read error. Content that
// does not parse as a record sequence is reported as ErrCorrupt.
func (s *Store) LoadStrict() (record.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	seq, err := record.ParseSequence(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return seq, nil
}

// Save replaces the store content with seq.
//
// The current store file is first copied to the backup file. If writing the
// new content fails, the backup taken by this call is copied back and the
// write error is returned whether or not that restore succeeded.
func (s *Store) Save(seq record.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backedUp := s.backupLocked()

	err := s.writeSequenceLocked(seq)
	if err == nil {
		return nil
	}
	s.logger.Error("Failed to write store file", "path", s.path, "err", err)

	if !backedUp {
		// The backup file, if any, predates the current content.
		s.logger.Warn("No fresh backup to restore from", "backup", s.backupPath)
	} else if rerr := s.restoreLocked(); rerr != nil {
		s.logger.Error("Failed to restore store file from backup", "backup", s.backupPath, "err", rerr)
	} else {
		s.logger.Info("Restored store file from backup", "backup", s.backupPath)
	}
	return fmt.Errorf("saving store: %w", err)
}

// RestoreBackup copies the backup file over the store file.
func (s *Store) RestoreBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked()
}

func (s *Store) backupLocked() bool {
	ok, err := persistence.Exists(s.path)
	if err != nil || !ok {
		s.logger.Info("No existing store file to back up", "path", s.path)
		return false
	}
	if err := persistence.Copy(s.backupPath, s.path); err != nil {
		s.logger.Warn("Failed to back up store file", "path", s.path, "backup", s.backupPath, "err", err)
		return false
	}
	return true
}

func (s *Store) writeSequenceLocked(seq record.Sequence) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	return s.writeLocked(pretty.Pretty(data))
}

func (s *Store) restoreLocked() error {
	data, err := os.ReadFile(s.backupPath)
	if err != nil {
		return fmt.Errorf("reading backup file: %w", err)
	}
	return s.writeLocked(data)
}

func (s *Store) writeLocked(data []byte) error {
	if err := s.write(s.path, data); err != nil {
		return err
	}
	s.digest = persistence.Digest(data)
	return nil
}
