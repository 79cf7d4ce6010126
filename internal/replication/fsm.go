// Package replication puts record upserts behind a Raft log so that every
// node of a cluster applies the same writes in the same order.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ASHISH26940/recordstore/internal/persistence"
	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/hashicorp/raft"
)

// OpUpsert is the only command carried by the log.
const OpUpsert = "UPSERT"

// Command is a single entry committed to the Raft log.
type Command struct {
	Op     string        `json:"op"`
	Record record.Record `json:"record"`
}

// ApplyResult is the response of FSM.Apply for a command.
type ApplyResult struct {
	Records record.Sequence
	Err     error
}

// Upserter applies one upsert to the local store.
type Upserter interface {
	Upsert(ctx context.Context, incoming record.Record) (record.Sequence, error)
}

// RecordStore is the part of the store used for snapshots and index recovery.
type RecordStore interface {
	LoadStrict() (record.Sequence, error)
	Save(seq record.Sequence) error
	Digest() string
}

// FSM applies committed log entries to the record store.
//
// The store file outlives the Raft log, so the index of the last applied
// entry is kept next to it; entries at or below that index are skipped when
// Raft replays its log on startup. The index file also holds the digest of
// the store file as of that index. A store file that no longer matches it was
// saved by the next entry before the process stopped, so that entry counts
// as applied.
type FSM struct {
	mu        sync.Mutex
	upserter  Upserter
	store     RecordStore
	indexPath string
	applied   uint64
	logger    *slog.Logger
}

// NewFSM creates an FSM. indexPath holds the last applied index.
func NewFSM(upserter Upserter, store RecordStore, indexPath string, logger *slog.Logger) (*FSM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FSM{
		upserter:  upserter,
		store:     store,
		indexPath: indexPath,
		logger:    logger,
	}
	data, err := os.ReadFile(indexPath)
	switch {
	case err == nil:
		index, digest, err := parseIndex(data)
		if err != nil {
			return nil, fmt.Errorf("parsing applied index %s: %w", indexPath, err)
		}
		f.applied = index
		if digest != "" && digest != store.Digest() {
			f.applied++
			logger.Warn("FSM: store saved past recorded index", "index", f.applied)
			f.setAppliedLocked(f.applied)
		}
	case errors.Is(err, os.ErrNotExist):
		f.setAppliedLocked(0)
	default:
		return nil, fmt.Errorf("reading applied index: %w", err)
	}
	return f, nil
}

// parseIndex reads "<index> <digest>". The digest is optional.
func parseIndex(data []byte) (uint64, string, error) {
	parts := strings.Fields(string(data))
	if len(parts) == 0 || len(parts) > 2 {
		return 0, "", fmt.Errorf("malformed index %q", data)
	}
	index, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", err
	}
	if len(parts) == 1 {
		return index, "", nil
	}
	return index, parts[1], nil
}

// Applied returns the index of the last applied entry.
func (f *FSM) Applied() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

// Apply applies a Raft log entry to the record store.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		f.logger.Error("FSM: failed to decode command", "index", entry.Index, "err", err)
		return &ApplyResult{Err: fmt.Errorf("decoding command: %w", err)}
	}
	if entry.Index <= f.applied {
		f.logger.Debug("FSM: skipping applied entry", "index", entry.Index)
		seq, err := f.store.LoadStrict()
		return &ApplyResult{Records: seq, Err: err}
	}

	switch cmd.Op {
	case OpUpsert:
		seq, err := f.upserter.Upsert(context.Background(), cmd.Record)
		if err != nil {
			return &ApplyResult{Err: err}
		}
		f.setAppliedLocked(entry.Index)
		return &ApplyResult{Records: seq}
	default:
		f.logger.Warn("FSM: unrecognized command op", "op", cmd.Op)
		return &ApplyResult{Err: fmt.Errorf("unrecognized command op %q", cmd.Op)}
	}
}

// Snapshot captures the current records and applied index.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, err := f.store.LoadStrict()
	if err != nil {
		return nil, err
	}
	return &snapshot{Index: f.applied, Records: seq}, nil
}

// Restore replaces the store content with a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Records == nil {
		snap.Records = record.Sequence{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.Save(snap.Records); err != nil {
		return err
	}
	f.setAppliedLocked(snap.Index)
	f.logger.Info("FSM: restored snapshot", "index", snap.Index, "records", len(snap.Records))
	return nil
}

func (f *FSM) setAppliedLocked(index uint64) {
	f.applied = index
	line := strconv.FormatUint(index, 10) + " " + f.store.Digest()
	if err := persistence.WriteFile(f.indexPath, []byte(line)); err != nil {
		f.logger.Error("FSM: failed to persist applied index", "index", index, "err", err)
	}
}

type snapshot struct {
	Index   uint64          `json:"index"`
	Records record.Sequence `json:"records"`
}

// Persist writes the snapshot to sink.
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op; the snapshot holds no resources.
func (s *snapshot) Release() {}
