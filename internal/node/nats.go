// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

//go:build nats

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// Request operations, the last subject token.
const (
	opSnapshot = "snapshot"
	opPush     = "push"
	opEntry    = "entry"
)

// NATSOptions configures a NATS node.
type NATSOptions struct {
	// Prefix is prepended to every subject. Defaults to DefaultSubjectPrefix.
	Prefix string
	// Timeout bounds requests without a context deadline and peer handlers.
	Timeout time.Duration
}

type wireRequest struct {
	Directory pkb.DirectoryID `json:"directory"`
	Source    string          `json:"source,omitempty"`
	EntryID   pkb.EntryID     `json:"entry_id,omitempty"`
	Records   []pkb.Record    `json:"records,omitempty"`
}

type wireReply struct {
	Records  []pkb.Record `json:"records,omitempty"`
	Record   *pkb.Record  `json:"record,omitempty"`
	Accepted int          `json:"accepted,omitempty"`
	Error    string       `json:"error,omitempty"`
	NotFound bool         `json:"not_found,omitempty"`
}

// NATS is a pkb.NodeHandle over a NATS connection.
type NATS struct {
	*table
	nc     *natsgo.Conn
	opts   NATSOptions
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*natsgo.Subscription
}

var _ pkb.NodeHandle = (*NATS)(nil)

// Connect dials url with reconnect handling.
func Connect(url string, logger zerolog.Logger) (*natsgo.Conn, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("pkbsync"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATS creates a node named nodeID on nc.
func NewNATS(nc *natsgo.Conn, nodeID string, opts NATSOptions) *NATS {
	if opts.Prefix == "" {
		opts.Prefix = DefaultSubjectPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	return &NATS{
		table:  newTable(nodeID),
		nc:     nc,
		opts:   opts,
		logger: logging.WithComponent("node").With().Str("node_id", pkb.ShortNodeID(nodeID)).Logger(),
	}
}

// Identity implements pkb.NodeHandle.
func (n *NATS) Identity() string { return n.id }

func (n *NATS) subject(nodeID, op string) string {
	return n.opts.Prefix + "." + nodeID + "." + op
}

// Serve answers requests addressed to this node on behalf of peer.
func (n *NATS) Serve(peer pkb.Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, op := range []string{opSnapshot, opPush, opEntry} {
		sub, err := n.nc.Subscribe(n.subject(n.id, op), n.handler(op, peer))
		if err != nil {
			n.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", op, err)
		}
		n.subs = append(n.subs, sub)
	}
	n.logger.Info().Str("prefix", n.opts.Prefix).Msg("NATS node serving")
	return nil
}

// Close stops answering requests. The connection stays open.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribeLocked()
	return nil
}

func (n *NATS) unsubscribeLocked() {
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.subs = nil
}

func (n *NATS) handler(op string, peer pkb.Peer) natsgo.MsgHandler {
	return func(msg *natsgo.Msg) {
		var (
			req   wireRequest
			reply wireReply
			err   error
		)
		if err = json.Unmarshal(msg.Data, &req); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), n.opts.Timeout)
			switch op {
			case opSnapshot:
				reply.Records, err = peer.ServeSnapshot(ctx, req.Directory)
			case opPush:
				reply.Accepted, err = peer.AcceptPush(ctx, req.Directory, req.Source, req.Records)
			case opEntry:
				reply.Record, err = peer.ServeEntry(ctx, req.Directory, req.EntryID)
			}
			cancel()
		}
		if err != nil {
			reply = wireReply{Error: err.Error(), NotFound: errors.Is(err, pkb.ErrNotFound)}
		}
		data, merr := json.Marshal(reply)
		if merr != nil {
			data, _ = json.Marshal(wireReply{Error: merr.Error()})
		}
		if rerr := msg.Respond(data); rerr != nil {
			n.logger.Warn().Err(rerr).Str("op", op).Msg("Failed to respond to NATS request")
		}
	}
}

func (n *NATS) request(ctx context.Context, dir pkb.DirectoryID, remote, op string, req wireRequest) (*wireReply, error) {
	addr, err := n.lookup(dir, remote)
	if err != nil {
		return nil, err
	}
	req.Directory = dir
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reqCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, n.opts.Timeout)
		defer cancel()
	}

	msg, err := n.nc.RequestWithContext(reqCtx, n.subject(addr.NodeID, op), data)
	if errors.Is(err, natsgo.ErrNoResponders) {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr.NodeID)
	}
	// Our own request timeout is the remote's silence, not the caller's
	// deadline, so it must not surface as a context error.
	if err != nil && ctx.Err() == nil && reqCtx.Err() != nil {
		return nil, fmt.Errorf("%w: %s did not reply within %s", ErrUnreachable, addr.NodeID, n.opts.Timeout)
	}
	if err != nil {
		return nil, err
	}

	var reply wireReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", op, err)
	}
	switch {
	case reply.NotFound:
		return nil, fmt.Errorf("%s: %w", reply.Error, pkb.ErrNotFound)
	case reply.Error != "":
		return nil, fmt.Errorf("remote %s: %s", remote, reply.Error)
	}
	return &reply, nil
}

// CreateRepository implements pkb.NodeHandle.
func (n *NATS) CreateRepository(_ context.Context, dir pkb.DirectoryID) (string, error) {
	return n.createRepository(dir), nil
}

// AddRemote implements pkb.NodeHandle.
func (n *NATS) AddRemote(_ context.Context, dir pkb.DirectoryID, name, address string) error {
	return n.addRemote(dir, name, address)
}

// RemoveRemote implements pkb.NodeHandle.
func (n *NATS) RemoveRemote(_ context.Context, dir pkb.DirectoryID, name string) error {
	return n.removeRemote(dir, name)
}

// Fetch implements pkb.NodeHandle.
func (n *NATS) Fetch(ctx context.Context, dir pkb.DirectoryID, remote string) ([]pkb.Record, error) {
	reply, err := n.request(ctx, dir, remote, opSnapshot, wireRequest{})
	if err != nil {
		return nil, err
	}
	return reply.Records, nil
}

// Push implements pkb.NodeHandle.
func (n *NATS) Push(ctx context.Context, dir pkb.DirectoryID, remote string, records []pkb.Record) error {
	_, err := n.request(ctx, dir, remote, opPush, wireRequest{Source: n.id, Records: records})
	return err
}

// FetchEntry implements pkb.NodeHandle.
func (n *NATS) FetchEntry(ctx context.Context, dir pkb.DirectoryID, remote string, id pkb.EntryID) (*pkb.Record, error) {
	reply, err := n.request(ctx, dir, remote, opEntry, wireRequest{EntryID: id})
	if err != nil {
		return nil, err
	}
	if reply.Record == nil {
		return nil, fmt.Errorf("entry %s: %w", id, pkb.ErrNotFound)
	}
	return reply.Record, nil
}
