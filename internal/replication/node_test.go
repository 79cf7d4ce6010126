package replication

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newInmemNode starts a single-node cluster on in-memory transport and storage.
func newInmemNode(t *testing.T, fsm *FSM) *Node {
	t.Helper()
	conf := raft.DefaultConfig()
	conf.LocalID = "node1"
	conf.Logger = hclog.NewNullLogger()
	conf.HeartbeatTimeout = 50 * time.Millisecond
	conf.ElectionTimeout = 50 * time.Millisecond
	conf.LeaderLeaseTimeout = 50 * time.Millisecond
	conf.CommitTimeout = 5 * time.Millisecond

	logs := raft.NewInmemStore()
	addr, transport := raft.NewInmemTransport("")
	r, err := raft.NewRaft(conf, fsm, logs, logs, raft.NewInmemSnapshotStore(), transport)
	require.NoError(t, err)
	require.NoError(t, r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: conf.LocalID, Address: addr}},
	}).Error())

	n := newNode(r, nil, time.Second, quietLogger())
	t.Cleanup(func() { _ = n.Shutdown() })
	require.Eventually(t, n.IsLeader, 5*time.Second, 10*time.Millisecond)
	return n
}

func TestNode_Upsert(t *testing.T) {
	f := newFixture(t)
	n := newInmemNode(t, f.fsm)
	ctx := context.Background()

	a, err := record.Parse([]byte(`{"nosis":"a","v":1}`))
	require.NoError(t, err)
	seq, err := n.Upsert(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, `[{"nosis":"a","v":1}]`, compact(t, seq))

	b, err := record.Parse([]byte(`{"nosis":"a","w":9}`))
	require.NoError(t, err)
	seq, err = n.Upsert(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, `[{"nosis":"a","v":1,"w":9}]`, compact(t, seq))
	assert.Equal(t, compact(t, seq), compact(t, f.store.Load()))
	assert.Positive(t, f.fsm.Applied())
}

func TestNode_NotLeader(t *testing.T) {
	f := newFixture(t)
	n := newInmemNode(t, f.fsm)
	require.NoError(t, n.Shutdown())

	_, err := n.Upsert(context.Background(), record.New())
	require.ErrorIs(t, err, ErrNotLeader)
	var nle *NotLeaderError
	require.True(t, errors.As(err, &nle))

	require.ErrorIs(t, n.Join("node2", "127.0.0.1:9999"), ErrNotLeader)
}

func TestNotLeaderError(t *testing.T) {
	assert.Contains(t, (&NotLeaderError{}).Error(), "no leader")
	assert.Contains(t, (&NotLeaderError{Leader: "10.0.0.1:9080"}).Error(), "10.0.0.1:9080")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNewNode_ReleasesTransportOnError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{"snapshot store", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshots"), nil, 0o644))
		}},
		{"bolt store", func(t *testing.T, dir string) {
			require.NoError(t, os.Mkdir(filepath.Join(dir, "raft.db"), 0o755))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dir := t.TempDir()
			tt.setup(t, dir)
			addr := freeAddr(t)

			_, err := NewNode(Config{
				NodeID:    "node1",
				Bind:      addr,
				DataDir:   dir,
				LogLevel:  "error",
				LogOutput: io.Discard,
			}, f.fsm, quietLogger())
			require.Error(t, err)

			l, err := net.Listen("tcp", addr)
			require.NoError(t, err, "raft transport still holds %s", addr)
			_ = l.Close()
		})
	}
}
