// Package client is the Go SDK for talking to a credb enclave: it dials a
// server, runs the attested handshake, and exposes one method per wire
// operation, grounded on the teacher's pkg/client/client.go shape (a thin
// method-per-RPC wrapper opening a fresh context per call) adapted here from
// gRPC stubs to calls over internal/session.Client.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/metrics"
	"github.com/kaimast/credb/internal/session"
	"github.com/kaimast/credb/internal/store"
	"github.com/kaimast/credb/internal/txn"
	"github.com/kaimast/credb/internal/wire"
)

// defaultCallTimeout bounds every Client method unless the caller supplies
// its own context via the *Ctx variants.
const defaultCallTimeout = 10 * time.Second

// Client is a single attested connection to one credb server, multiplexing
// transactions by TaskID the way spec §5 describes: concurrent calls against
// different TaskIDs interleave freely, calls against the same TaskID extend
// the same server-side transaction.
type Client struct {
	sc *session.Client

	// Triggers receives collection names pushed by the server for any
	// trigger this connection has SetTrigger'd on. Never closed by Client.
	Triggers chan string
}

// Dial opens a TCP connection to address, runs the client side of the
// attested handshake as clientName against a server claiming serverName,
// and returns a ready-to-use Client.
func Dial(address string, identity *cryptoutil.Identity, clientName, serverName string) (*Client, error) {
	return DialUnsafe(address, identity, clientName, serverName, false)
}

// DialUnsafe is Dial with the TLS-free unsafe mode toggle exposed: it must
// match the server's own --unsafe/unsafe config setting (spec §4.F), since
// the two sides of a session must agree on whether frames are AES-GCM
// sealed.
func DialUnsafe(address string, identity *cryptoutil.Identity, clientName, serverName string, unsafe bool) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	c := session.NewConn(conn, unsafe)
	if err := session.ClientHandshake(c, identity, clientName, serverName); err != nil {
		return nil, fmt.Errorf("handshake with %s failed: %w", address, err)
	}

	sc := session.NewClient(c)
	return &Client{sc: sc, Triggers: sc.Triggers}, nil
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.sc.Close()
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultCallTimeout)
}

// Put inserts or overwrites key in collection within taskID's transaction,
// at the given isolation level, and returns the key actually used.
func (c *Client) Put(taskID uint32, collection, key string, document map[string]any, isolation txn.IsolationLevel) (string, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	iso := int(isolation)
	var result struct {
		Key string `json:"key"`
	}
	op := wire.OpPutObject
	if key == "" {
		op = wire.OpPutObjectWithoutKey
	}
	err := c.sc.Call(ctx, taskID, op, map[string]any{
		"collection": collection, "key": key, "document": document, "isolation": iso,
	}, &result)
	return result.Key, err
}

// Add applies patch as a partial update of key in collection.
func (c *Client) Add(taskID uint32, collection, key string, patch map[string]any, isolation txn.IsolationLevel) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, taskID, wire.OpAddToObject, map[string]any{
		"collection": collection, "key": key, "patch": patch, "isolation": int(isolation),
	}, nil)
}

// Remove deletes key from collection.
func (c *Client) Remove(taskID uint32, collection, key string, isolation txn.IsolationLevel) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, taskID, wire.OpRemoveObject, map[string]any{
		"collection": collection, "key": key, "isolation": int(isolation),
	}, nil)
}

// Has reports whether key currently exists in collection.
func (c *Client) Has(collection, key string) (bool, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var exists bool
	err := c.sc.Call(ctx, 0, wire.OpHasObject, map[string]any{
		"collection": collection, "key": key,
	}, &exists)
	return exists, err
}

// Check reports whether key's current document matches predicate.
func (c *Client) Check(collection, key string, predicate map[string]any) (bool, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var ok bool
	err := c.sc.Call(ctx, 0, wire.OpCheckObject, map[string]any{
		"collection": collection, "key": key, "predicate": predicate,
	}, &ok)
	return ok, err
}

// Get reads key's document (or the value at path within it, if path is
// non-empty) within taskID's transaction at the given isolation level.
func (c *Client) Get(taskID uint32, collection, key, path string, isolation txn.IsolationLevel) (any, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var doc any
	err := c.sc.Call(ctx, taskID, wire.OpGetObject, map[string]any{
		"collection": collection, "key": key, "path": path, "isolation": int(isolation),
	}, &doc)
	return doc, err
}

// WitnessedDocument is the result of GetWithWitness: the document plus an
// armored witness attesting to the event it was read from.
type WitnessedDocument struct {
	Document any    `json:"document"`
	Witness  string `json:"witness"`
}

// GetWithWitness reads key's document along with a signed witness over the
// event it was last written by.
func (c *Client) GetWithWitness(taskID uint32, collection, key string, isolation txn.IsolationLevel) (WitnessedDocument, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var result WitnessedDocument
	err := c.sc.Call(ctx, taskID, wire.OpGetObjectWithWitness, map[string]any{
		"collection": collection, "key": key, "isolation": int(isolation),
	}, &result)
	return result, err
}

// History returns every past document value stored under key.
func (c *Client) History(collection, key string) ([]map[string]any, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var history []map[string]any
	err := c.sc.Call(ctx, 0, wire.OpGetObjectHistory, map[string]any{
		"collection": collection, "key": key,
	}, &history)
	return history, err
}

// Find returns up to limit documents in collection matching predicate,
// projected to projection's paths if non-empty. limit <= 0 means unbounded.
func (c *Client) Find(taskID uint32, collection string, predicate map[string]any, projection []string, limit int, isolation txn.IsolationLevel) ([]store.FindResult, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var rows []store.FindResult
	err := c.sc.Call(ctx, taskID, wire.OpFindObjects, map[string]any{
		"collection": collection, "predicate": predicate, "projection": projection,
		"limit": limit, "isolation": int(isolation),
	}, &rows)
	return rows, err
}

// Count returns the number of documents in collection matching predicate.
func (c *Client) Count(collection string, predicate map[string]any) (int, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var n int
	err := c.sc.Call(ctx, 0, wire.OpCountObjects, map[string]any{
		"collection": collection, "predicate": predicate,
	}, &n)
	return n, err
}

// Diff returns the patch operations that transform key's document at
// version v1 into its value at version v2.
func (c *Client) Diff(collection, key string, v1, v2 uint64) ([]store.PatchOp, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var ops []store.PatchOp
	err := c.sc.Call(ctx, 0, wire.OpDiffVersions, map[string]any{
		"collection": collection, "key": key, "v1": v1, "v2": v2,
	}, &ops)
	return ops, err
}

// CreateIndex builds a secondary index over paths in collection.
func (c *Client) CreateIndex(collection string, paths []string) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, 0, wire.OpCreateIndex, map[string]any{
		"collection": collection, "paths": paths,
	}, nil)
}

// DropIndex removes a secondary index previously built over paths.
func (c *Client) DropIndex(collection string, paths []string) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, 0, wire.OpDropIndex, map[string]any{
		"collection": collection, "paths": paths,
	}, nil)
}

// CommitResult mirrors txn.CommitResult's wire shape.
type CommitResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Witness string `json:"witness,omitempty"`
}

// CommitTransaction commits every write queued under taskID, optionally
// assembling a signed witness over the events it produced.
func (c *Client) CommitTransaction(taskID uint32, generateWitness bool) (CommitResult, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var result CommitResult
	err := c.sc.Call(ctx, taskID, wire.OpCommitTransaction, map[string]any{
		"generate_witness": generateWitness,
	}, &result)
	return result, err
}

// SetTrigger subscribes this connection to notifications on collection;
// matching events arrive on c.Triggers as the collection name.
func (c *Client) SetTrigger(collection string) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, 0, wire.OpSetTrigger, map[string]any{"collection": collection}, nil)
}

// UnsetTrigger cancels a prior SetTrigger on collection.
func (c *Client) UnsetTrigger(collection string) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, 0, wire.OpUnsetTrigger, map[string]any{"collection": collection}, nil)
}

// ListPeers returns the server's downstream/upstream peer catalog.
func (c *Client) ListPeers() ([]catalog.Peer, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var peers []catalog.Peer
	err := c.sc.Call(ctx, 0, wire.OpListPeers, nil, &peers)
	return peers, err
}

// AddPeer registers or updates a peer in the server's catalog.
func (c *Client) AddPeer(p catalog.Peer) error {
	ctx, cancel := withTimeout()
	defer cancel()

	return c.sc.Call(ctx, 0, wire.OpPeer, p, nil)
}

// RemovePeer deletes a peer from the server's catalog by id.
func (c *Client) RemovePeer(id string) error {
	ctx, cancel := withTimeout()
	defer cancel()

	type peerArgs struct {
		catalog.Peer
		Remove bool `json:"remove"`
	}
	return c.sc.Call(ctx, 0, wire.OpPeer, peerArgs{Peer: catalog.Peer{ID: id}, Remove: true}, nil)
}

// GetStatistics reads the server's current operational counters.
func (c *Client) GetStatistics() (metrics.Statistics, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	var stats metrics.Statistics
	err := c.sc.Call(ctx, 0, wire.OpGetStatistics, nil, &stats)
	return stats, err
}

// OrderEvents reports the causal ordering ("equal", "before", "after",
// "concurrent", or "unknown") between two events identified by (shard,
// block, index).
func (c *Client) OrderEvents(a, b ledger.EventID) (string, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	type eventArg struct {
		Shard uint32 `json:"shard"`
		Block uint32 `json:"block"`
		Index uint32 `json:"index"`
	}
	var order string
	err := c.sc.Call(ctx, 0, wire.OpOrderEvents, map[string]any{
		"a": eventArg{Shard: a.Shard, Block: a.Block, Index: a.Index},
		"b": eventArg{Shard: b.Shard, Block: b.Block, Index: b.Index},
	}, &order)
	return order, err
}
