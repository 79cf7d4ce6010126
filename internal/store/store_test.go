package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ASHISH26940/recordstore/internal/persistence"
	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk full")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(filepath.Join(dir, "data.json"), filepath.Join(dir, "data.json.bak"), opts...)
}

func mustSeq(t *testing.T, s string) record.Sequence {
	t.Helper()
	seq, err := record.ParseSequence([]byte(s))
	require.NoError(t, err)
	return seq
}

func compact(t *testing.T, seq record.Sequence) string {
	t.Helper()
	b, err := json.Marshal(seq)
	require.NoError(t, err)
	return string(b)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// flakyWriter fails the first n writes, optionally truncating the target
// first to mimic a write that died half way.
type flakyWriter struct {
	mu       sync.Mutex
	failures int
	truncate bool
	calls    int
}

func (w *flakyWriter) write(path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures != 0 {
		w.failures--
		if w.truncate {
			_ = os.WriteFile(path, []byte(`[{"nosis":`), 0o644)
		}
		return errDisk
	}
	return persistence.WriteFile(path, data)
}

func TestStore_Initialize(t *testing.T) {
	s := newTestStore(t)

	// 1. Creates an empty sequence on first run.
	require.NoError(t, s.Initialize())
	assert.Equal(t, "[]", readFile(t, s.Path()))
	assert.NotEmpty(t, s.Digest())

	// 2. Idempotent.
	require.NoError(t, s.Initialize())
	assert.Equal(t, "[]", readFile(t, s.Path()))

	// 3. Never overwrites existing content.
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a"}]`)))
	before := readFile(t, s.Path())
	require.NoError(t, s.Initialize())
	assert.Equal(t, before, readFile(t, s.Path()))
}

func TestStore_InitializeWriteError(t *testing.T) {
	w := &flakyWriter{failures: -1}
	s := newTestStore(t, WithWriter(w.write))
	require.ErrorIs(t, s.Initialize(), errDisk)
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Initialize())

	sequences := []string{
		`[]`,
		`[{"nosis":"a","v":1}]`,
		`[{"nosis":"a","v":2,"w":9},{"nosis":"b","nested":{"z":[1,2,{"q":null}],"a":true}},{"x":"no key"}]`,
	}
	for _, in := range sequences {
		t.Run(in, func(t *testing.T) {
			require.NoError(t, s.Save(mustSeq(t, in)))
			assert.Equal(t, in, compact(t, s.Load()))

			seq, err := s.LoadStrict()
			require.NoError(t, err)
			assert.Equal(t, in, compact(t, seq))
		})
	}
}

func TestStore_SaveIsPrettyPrinted(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("x", 100)
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a","long":"`+long+`"}]`)))
	content := readFile(t, s.Path())
	assert.Contains(t, content, "\n    \"nosis\": \"a\",\n")
	assert.True(t, strings.HasSuffix(content, "\n"))
}

func TestStore_LoadInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{not json`), 0o644))

	seq := s.Load()
	assert.NotNil(t, seq)
	assert.Empty(t, seq)

	_, err := s.LoadStrict()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newTestStore(t)

	assert.Empty(t, s.Load())

	_, err := s.LoadStrict()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStore_SaveWritesBackup(t *testing.T) {
	s := newTestStore(t)

	// No store file yet: nothing to back up, save still succeeds.
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a"}]`)))
	_, err := os.Stat(s.BackupPath())
	require.ErrorIs(t, err, os.ErrNotExist)
	first := readFile(t, s.Path())

	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a"},{"nosis":"b"}]`)))
	assert.Equal(t, first, readFile(t, s.BackupPath()))

	second := readFile(t, s.Path())
	require.NoError(t, s.Save(mustSeq(t, `[]`)))
	assert.Equal(t, second, readFile(t, s.BackupPath()))
}

func TestStore_SaveFailureRestoresBackup(t *testing.T) {
	w := &flakyWriter{}
	s := newTestStore(t, WithWriter(w.write))
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a","v":1}]`)))
	before := readFile(t, s.Path())

	// The write fails after clobbering the file; the restore succeeds.
	w.failures = 1
	w.truncate = true
	err := s.Save(mustSeq(t, `[{"nosis":"a","v":2}]`))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, before, readFile(t, s.Path()))
	assert.Equal(t, `[{"nosis":"a","v":1}]`, compact(t, s.Load()))
	assert.Equal(t, 3, w.calls)
}

func TestStore_SaveFailureWhenRestoreFails(t *testing.T) {
	w := &flakyWriter{}
	s := newTestStore(t, WithWriter(w.write))
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a"}]`)))

	w.failures = 2
	err := s.Save(mustSeq(t, `[{"nosis":"b"}]`))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, 0, w.failures, "restore must have been attempted")
}

func TestStore_SaveFailureWithoutStoreFile(t *testing.T) {
	w := &flakyWriter{failures: 1}
	s := newTestStore(t, WithWriter(w.write))

	// A stale backup from an earlier run must not be restored.
	require.NoError(t, os.WriteFile(s.BackupPath(), []byte(`[{"stale":true}]`), 0o644))
	err := s.Save(mustSeq(t, `[{"nosis":"a"}]`))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, 1, w.calls)
	_, err = os.Stat(s.Path())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStore_RestoreBackup(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.RestoreBackup(), "no backup yet")

	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"a"}]`)))
	require.NoError(t, s.Save(mustSeq(t, `[{"nosis":"b"}]`)))
	require.NoError(t, s.RestoreBackup())
	assert.Equal(t, `[{"nosis":"a"}]`, compact(t, s.Load()))
	assert.Equal(t, persistence.Digest([]byte(readFile(t, s.Path()))), s.Digest())
}

func TestStore_Concurrency(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Initialize())

	var wg sync.WaitGroup
	numGoroutines := 20
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if j%2 == 0 {
					assert.NoError(t, s.Save(mustSeq(t, fmt.Sprintf(`[{"nosis":"%d-%d"}]`, id, j))))
				} else {
					_, err := s.LoadStrict()
					assert.NoError(t, err)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Load(), 1)
}
