package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrNotLeader is returned for writes sent to a follower.
var ErrNotLeader = errors.New("not the raft leader")

// NotLeaderError carries the current leader address, if known.
type NotLeaderError struct {
	Leader string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "not the raft leader, no leader elected"
	}
	return "not the raft leader, leader is " + e.Leader
}

func (e *NotLeaderError) Unwrap() error { return ErrNotLeader }

// Config configures a Node.
type Config struct {
	NodeID       string
	Bind         string
	DataDir      string
	Bootstrap    bool // Form a single-node cluster; run on the first node only
	ApplyTimeout time.Duration
	LogLevel     string
	LogOutput    io.Writer
}

// Node is a Raft member whose FSM is the record store.
type Node struct {
	raft    *raft.Raft
	closer  io.Closer
	timeout time.Duration
	logger  *slog.Logger
}

// IndexFile returns the path of the applied index file for dataDir.
func IndexFile(dataDir string) string {
	return filepath.Join(dataDir, "applied.idx")
}

// NewNode starts a Raft node on a TCP transport with a BoltDB log store and
// file snapshots under cfg.DataDir.
func NewNode(cfg Config, fsm *FSM, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating raft data directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: cfg.LogOutput,
	})

	addr, err := net.ResolveTCPAddr("tcp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolving raft address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.Bind, addr, 3, 10*time.Second, cfg.LogOutput)
	if err != nil {
		return nil, fmt.Errorf("creating raft transport: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, cfg.LogOutput)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("creating bolt store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		_ = logStore.Close()
		_ = transport.Close()
		return nil, fmt.Errorf("creating raft node: %w", err)
	}

	if cfg.Bootstrap {
		logger.Info("Bootstrapping cluster", "node_id", cfg.NodeID)
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			n := newNode(r, logStore, cfg.ApplyTimeout, logger)
			if serr := n.Shutdown(); serr != nil {
				logger.Warn("Raft shutdown after failed bootstrap", "err", serr)
			}
			return nil, fmt.Errorf("bootstrapping cluster: %w", err)
		}
	}
	return newNode(r, logStore, cfg.ApplyTimeout, logger), nil
}

func newNode(r *raft.Raft, closer io.Closer, timeout time.Duration, logger *slog.Logger) *Node {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Node{raft: r, closer: closer, timeout: timeout, logger: logger}
}

// IsLeader reports whether this node currently leads the cluster.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

func (n *Node) notLeader() error {
	addr, _ := n.raft.LeaderWithID()
	return &NotLeaderError{Leader: string(addr)}
}

// Upsert commits an upsert to the log and returns the sequence produced when
// it was applied. Only the leader accepts writes.
func (n *Node) Upsert(ctx context.Context, incoming record.Record) (record.Sequence, error) {
	if !n.IsLeader() {
		return nil, n.notLeader()
	}
	data, err := json.Marshal(Command{Op: OpUpsert, Record: incoming})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	// Blocks until the entry is committed by a majority and applied to the FSM.
	future := n.raft.Apply(data, n.timeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("applying command: %w", err)
	}
	res, ok := future.Response().(*ApplyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	n.logger.DebugContext(ctx, "Applied upsert via raft", "index", future.Index())
	return res.Records, res.Err
}

// Join adds a voter to the cluster. Only the leader can do so.
func (n *Node) Join(nodeID, addr string) error {
	if !n.IsLeader() {
		return n.notLeader()
	}
	n.logger.Info("Received join request", "node_id", nodeID, "addr", addr)
	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0)
	if err := future.Error(); err != nil {
		return fmt.Errorf("adding voter: %w", err)
	}
	n.logger.Info("Added node to the cluster", "node_id", nodeID)
	return nil
}

// Shutdown stops the node and closes its log store.
func (n *Node) Shutdown() error {
	err := n.raft.Shutdown().Error()
	if n.closer != nil {
		if cerr := n.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
