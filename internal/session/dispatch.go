package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/docparser"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/metrics"
	"github.com/kaimast/credb/internal/replication"
	"github.com/kaimast/credb/internal/sandbox"
	"github.com/kaimast/credb/internal/store"
	"github.com/kaimast/credb/internal/trigger"
	"github.com/kaimast/credb/internal/txn"
	"github.com/kaimast/credb/internal/wire"
)

type subscriptionKey struct{}

func withSubscription(ctx context.Context, sub *trigger.Subscription) context.Context {
	return context.WithValue(ctx, subscriptionKey{}, sub)
}

func subscriptionFrom(ctx context.Context) (*trigger.Subscription, bool) {
	sub, ok := ctx.Value(subscriptionKey{}).(*trigger.Subscription)
	return sub, ok
}

// Handler dispatches decoded operation requests against the document store
// and transaction engine. One Handler is shared by every connection to a
// given enclave instance; per-connection state lives in taskTxns.
type Handler struct {
	Store    *store.Store
	Engine   *txn.Engine
	Triggers *trigger.Registry

	// Catalog and Stats are optional. A nil Catalog rejects ListPeers/Peer
	// with a protocol error; a nil Stats reports zeroed GetStatistics and
	// skips commit-outcome recording.
	Catalog     *catalog.Catalog
	Stats       *metrics.Stats
	Replication *replication.Forwarder

	// Runtime backs ExecuteCode/CallProgram. A nil Runtime rejects both
	// with a protocol error; CreDB itself does not implement a sandboxed
	// language (spec's trusted-program execution is out of scope here).
	Runtime sandbox.Runtime

	// Parser backs DumpEverything/LoadEverything. A nil Parser rejects
	// both; CreDB's own wire encoding is plain JSON and needs no parser
	// to talk to itself.
	Parser docparser.Parser

	mu                 sync.Mutex
	taskTxns           map[uint32]*txn.Transaction
	touchedCollections map[uint32]map[string]bool
}

// NewHandler creates a Handler serving operations against store/engine.
// triggers may be nil, in which case SetTrigger/UnsetTrigger are rejected
// and no trigger notifications fire.
func NewHandler(s *store.Store, engine *txn.Engine, triggers *trigger.Registry) *Handler {
	return &Handler{
		Store: s, Engine: engine, Triggers: triggers,
		taskTxns:           make(map[uint32]*txn.Transaction),
		touchedCollections: make(map[uint32]map[string]bool),
	}
}

func (h *Handler) transactionFor(taskID uint32, isolation txn.IsolationLevel) *txn.Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.taskTxns[taskID]
	if !ok {
		t = h.Engine.Begin(isolation)
		h.taskTxns[taskID] = t
	}
	return t
}

func (h *Handler) markTouched(taskID uint32, collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.touchedCollections[taskID]
	if !ok {
		set = make(map[string]bool)
		h.touchedCollections[taskID] = set
	}
	set[collection] = true
}

func (h *Handler) forgetTask(taskID uint32) map[string]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.taskTxns, taskID)
	touched := h.touchedCollections[taskID]
	delete(h.touchedCollections, taskID)
	return touched
}

// Serve reads operation requests off c until the connection closes or ctx
// is canceled, dispatching each to Handle and writing back the response.
// The connection must already be Connected (see ServerHandshake). A fresh
// trigger subscription is created for the lifetime of the connection and
// forwarded to the client as NotifyTrigger frames on a separate goroutine,
// interleaved with request/response traffic under Conn's own write lock.
func Serve(ctx context.Context, c *Conn, h *Handler) error {
	var sub *trigger.Subscription
	if h.Triggers != nil {
		sub = h.Triggers.Subscribe()
		defer h.Triggers.Unsubscribe(sub)
		go forwardTriggers(c, sub)
		ctx = withSubscription(ctx, sub)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, payload, err := c.readFrame()
		if err != nil {
			return err
		}
		if msgType != wire.MsgOperationRequest {
			continue
		}
		req, err := wire.DecodeOperationRequest(payload)
		if err != nil {
			return err
		}

		body := h.Handle(ctx, req)
		resp := wire.OperationResponse{TaskID: req.TaskID, OpID: req.OpID, Body: body}
		if err := c.writeFrame(wire.TagEncrypted, wire.EncodeOperationResponse(resp)); err != nil {
			return err
		}
	}
}

// forwardTriggers relays every notification sub receives as a
// MsgNotifyTrigger frame until sub is unsubscribed and its channel closes.
func forwardTriggers(c *Conn, sub *trigger.Subscription) {
	for collection := range sub.Events {
		if err := c.writeFrame(wire.TagEncrypted, wire.EncodeNotifyTrigger(wire.NotifyTrigger{Collection: collection})); err != nil {
			return
		}
	}
}

// Handle executes one decoded operation and returns its response body
// (always a ResponseBody-shaped json.RawMessage, never an error — wire
// errors travel inside the envelope per spec §7).
func (h *Handler) Handle(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	switch req.OpType {
	case wire.OpNOP:
		return wire.OKResponse(nil)
	case wire.OpPutObject, wire.OpPutObjectWithoutKey:
		return h.putObject(req)
	case wire.OpAddToObject:
		return h.addToObject(req)
	case wire.OpRemoveObject:
		return h.removeObject(req)
	case wire.OpHasObject:
		return h.hasObject(req)
	case wire.OpCheckObject:
		return h.checkObject(req)
	case wire.OpGetObject:
		return h.getObject(req)
	case wire.OpGetObjectWithWitness:
		return h.getObjectWithWitness(req)
	case wire.OpGetObjectHistory:
		return h.getObjectHistory(req)
	case wire.OpFindObjects:
		return h.findObjects(req)
	case wire.OpCountObjects:
		return h.countObjects(req)
	case wire.OpDiffVersions:
		return h.diffVersions(req)
	case wire.OpCreateIndex:
		return h.createIndex(req)
	case wire.OpDropIndex:
		return h.dropIndex(req)
	case wire.OpOrderEvents:
		return h.orderEvents(req)
	case wire.OpCommitTransaction:
		return h.commitTransaction(ctx, req)
	case wire.OpSetTrigger:
		return h.setTrigger(ctx, req)
	case wire.OpUnsetTrigger:
		return h.unsetTrigger(ctx, req)
	case wire.OpListPeers:
		return h.listPeers(req)
	case wire.OpPeer:
		return h.peer(req)
	case wire.OpGetStatistics:
		return h.getStatistics(req)
	case wire.OpExecuteCode:
		return h.executeCode(ctx, req)
	case wire.OpCallProgram:
		return h.callProgram(ctx, req)
	case wire.OpDumpEverything:
		return h.dumpEverything(req)
	case wire.OpLoadEverything:
		return h.loadEverything(req)
	default:
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "unsupported operation %s", req.OpType))
	}
}

type keyArgs struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Path       string `json:"path,omitempty"`
	Isolation  *int   `json:"isolation,omitempty"`
}

func (h *Handler) isolationOf(a keyArgs) txn.IsolationLevel {
	if a.Isolation == nil {
		return txn.ReadCommitted
	}
	return txn.IsolationLevel(*a.Isolation)
}

func decodeArgs[T any](req wire.OperationRequest) (T, error) {
	var a T
	if len(req.Args) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(req.Args, &a); err != nil {
		return a, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return a, nil
}

func (h *Handler) putObject(req wire.OperationRequest) json.RawMessage {
	type putArgs struct {
		keyArgs
		Document map[string]any `json:"document"`
	}
	a, err := decodeArgs[putArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	if req.OpType == wire.OpPutObjectWithoutKey && a.Key == "" {
		a.Key = uuid.NewString()
	}
	t := h.transactionFor(req.TaskID, h.isolationOf(a.keyArgs))
	if err := t.Put(store.CollectionName(a.Collection), a.Key, a.Document); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	h.markTouched(req.TaskID, a.Collection)
	return wire.OKResponse(struct {
		Key string `json:"key"`
	}{Key: a.Key})
}

func (h *Handler) addToObject(req wire.OperationRequest) json.RawMessage {
	type addArgs struct {
		keyArgs
		Patch map[string]any `json:"patch"`
	}
	a, err := decodeArgs[addArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	t := h.transactionFor(req.TaskID, h.isolationOf(a.keyArgs))
	if err := t.Add(store.CollectionName(a.Collection), a.Key, a.Patch); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	h.markTouched(req.TaskID, a.Collection)
	return wire.OKResponse(nil)
}

func (h *Handler) removeObject(req wire.OperationRequest) json.RawMessage {
	a, err := decodeArgs[keyArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	t := h.transactionFor(req.TaskID, h.isolationOf(a))
	if err := t.Remove(store.CollectionName(a.Collection), a.Key); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	h.markTouched(req.TaskID, a.Collection)
	return wire.OKResponse(nil)
}

func (h *Handler) hasObject(req wire.OperationRequest) json.RawMessage {
	a, err := decodeArgs[keyArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	return wire.OKResponse(h.Store.Has(store.CollectionName(a.Collection), a.Key))
}

func (h *Handler) checkObject(req wire.OperationRequest) json.RawMessage {
	type checkArgs struct {
		keyArgs
		Predicate map[string]any `json:"predicate"`
	}
	a, err := decodeArgs[checkArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	ok, err := h.Store.Check(store.CollectionName(a.Collection), a.Key, a.Predicate)
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(ok)
}

func (h *Handler) getObject(req wire.OperationRequest) json.RawMessage {
	a, err := decodeArgs[keyArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	t := h.transactionFor(req.TaskID, h.isolationOf(a))
	doc, err := t.Get(store.CollectionName(a.Collection), a.Key, a.Path)
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(doc)
}

func (h *Handler) getObjectWithWitness(req wire.OperationRequest) json.RawMessage {
	a, err := decodeArgs[keyArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	t := h.transactionFor(req.TaskID, h.isolationOf(a))
	doc, err := t.Get(store.CollectionName(a.Collection), a.Key, a.Path)
	if err != nil {
		return storeErrResponse(err)
	}
	_, event, err := h.Store.Get(store.CollectionName(a.Collection), a.Key, "", 0)
	if err != nil {
		return storeErrResponse(err)
	}
	sh := h.Store.ShardFor(store.CollectionName(a.Collection), a.Key)
	entry, ok := sh.LookupEvent(event)
	if !ok {
		return wire.ErrResponse(wire.NewError(wire.KindNotFound, "event not found"))
	}
	w, err := ledger.Sign(h.Engine.Identity(), []ledger.Entry{entry})
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	return wire.OKResponse(struct {
		Document any    `json:"document"`
		Witness  string `json:"witness"`
	}{Document: doc, Witness: string(ledger.Armor(w))})
}

func (h *Handler) getObjectHistory(req wire.OperationRequest) json.RawMessage {
	a, err := decodeArgs[keyArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	history, err := h.Store.History(store.CollectionName(a.Collection), a.Key)
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(history)
}

func (h *Handler) findObjects(req wire.OperationRequest) json.RawMessage {
	type findArgs struct {
		Collection string         `json:"collection"`
		Predicate  map[string]any `json:"predicate"`
		Projection []string       `json:"projection,omitempty"`
		Limit      int            `json:"limit"`
		Isolation  *int           `json:"isolation,omitempty"`
	}
	a, err := decodeArgs[findArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	limit := a.Limit
	if limit == 0 {
		limit = -1
	}
	iso := txn.ReadCommitted
	if a.Isolation != nil {
		iso = txn.IsolationLevel(*a.Isolation)
	}
	t := h.transactionFor(req.TaskID, iso)
	rows, err := t.Find(store.CollectionName(a.Collection), a.Predicate, a.Projection, limit)
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(rows)
}

func (h *Handler) countObjects(req wire.OperationRequest) json.RawMessage {
	type countArgs struct {
		Collection string         `json:"collection"`
		Predicate  map[string]any `json:"predicate"`
	}
	a, err := decodeArgs[countArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	rows, err := h.Store.Find(store.CollectionName(a.Collection), a.Predicate, nil, -1)
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(len(rows))
}

func (h *Handler) diffVersions(req wire.OperationRequest) json.RawMessage {
	type diffArgs struct {
		Collection string `json:"collection"`
		Key        string `json:"key"`
		V1         uint64 `json:"v1"`
		V2         uint64 `json:"v2"`
	}
	a, err := decodeArgs[diffArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	ops, err := h.Store.Diff(store.CollectionName(a.Collection), a.Key, store.Version(a.V1), store.Version(a.V2))
	if err != nil {
		return storeErrResponse(err)
	}
	return wire.OKResponse(ops)
}

func (h *Handler) createIndex(req wire.OperationRequest) json.RawMessage {
	type indexArgs struct {
		Collection string   `json:"collection"`
		Paths      []string `json:"paths"`
	}
	a, err := decodeArgs[indexArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	if err := h.Store.CreateIndex(store.CollectionName(a.Collection), a.Paths); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	if h.Catalog != nil {
		if err := h.Catalog.PutIndex(catalog.IndexEntry{Collection: a.Collection, Paths: a.Paths}); err != nil {
			return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
		}
	}
	return wire.OKResponse(nil)
}

func (h *Handler) dropIndex(req wire.OperationRequest) json.RawMessage {
	type indexArgs struct {
		Collection string   `json:"collection"`
		Paths      []string `json:"paths"`
	}
	a, err := decodeArgs[indexArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	if err := h.Store.DropIndex(store.CollectionName(a.Collection), a.Paths); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindNotFound, "%v", err))
	}
	if h.Catalog != nil {
		if err := h.Catalog.DeleteIndex(a.Collection); err != nil {
			return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
		}
	}
	return wire.OKResponse(nil)
}

func (h *Handler) orderEvents(req wire.OperationRequest) json.RawMessage {
	type eventArg struct {
		Shard uint32 `json:"shard"`
		Block uint32 `json:"block"`
		Index uint32 `json:"index"`
	}
	type orderArgs struct {
		A eventArg `json:"a"`
		B eventArg `json:"b"`
	}
	a, err := decodeArgs[orderArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	ea := ledger.EventID{Shard: a.A.Shard, Block: a.A.Block, Index: a.A.Index}
	eb := ledger.EventID{Shard: a.B.Shard, Block: a.B.Block, Index: a.B.Index}
	return wire.OKResponse(ledger.Order(ledger.Entry{ID: ea}, ledger.Entry{ID: eb}).String())
}

func (h *Handler) commitTransaction(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	type commitArgs struct {
		GenerateWitness bool `json:"generate_witness"`
	}
	a, err := decodeArgs[commitArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}

	h.mu.Lock()
	t, ok := h.taskTxns[req.TaskID]
	h.mu.Unlock()
	if !ok {
		return wire.OKResponse(txn.CommitResult{Success: true})
	}

	result, err := h.Engine.Commit(ctx, t, a.GenerateWitness)
	touched := h.forgetTask(req.TaskID)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindConflict, "%v", err))
	}

	if result.Success && h.Triggers != nil {
		for collection := range touched {
			h.Triggers.Notify(collection)
		}
	}
	if result.Success && h.Replication != nil {
		h.Replication.Notify(ctx, result.Produced)
	}
	if h.Stats != nil {
		h.Stats.RecordCommit(t.Isolation().String(), result.Success)
		if result.Witness != nil {
			h.Stats.RecordWitnessSigned()
		}
	}

	var witness string
	if result.Witness != nil {
		witness = string(ledger.Armor(result.Witness))
	}
	return wire.OKResponse(struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
		Witness string `json:"witness,omitempty"`
	}{Success: result.Success, Error: result.Error, Witness: witness})
}

func (h *Handler) setTrigger(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	type triggerArgs struct {
		Collection string `json:"collection"`
	}
	a, err := decodeArgs[triggerArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	sub, ok := subscriptionFrom(ctx)
	if !ok || h.Triggers == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "triggers not available on this connection"))
	}
	h.Triggers.Set(sub, a.Collection)
	return wire.OKResponse(nil)
}

func (h *Handler) unsetTrigger(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	type triggerArgs struct {
		Collection string `json:"collection"`
	}
	a, err := decodeArgs[triggerArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	sub, ok := subscriptionFrom(ctx)
	if !ok || h.Triggers == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "triggers not available on this connection"))
	}
	h.Triggers.Unset(sub, a.Collection)
	return wire.OKResponse(nil)
}

func (h *Handler) listPeers(req wire.OperationRequest) json.RawMessage {
	if h.Catalog == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "peer catalog not available"))
	}
	peers, err := h.Catalog.ListPeers()
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	return wire.OKResponse(peers)
}

func (h *Handler) peer(req wire.OperationRequest) json.RawMessage {
	if h.Catalog == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "peer catalog not available"))
	}
	type peerArgs struct {
		catalog.Peer
		Remove bool `json:"remove,omitempty"`
	}
	a, err := decodeArgs[peerArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	if a.Remove {
		if err := h.Catalog.DeletePeer(a.ID); err != nil {
			return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
		}
		return wire.OKResponse(nil)
	}
	if a.ID == "" {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "peer id is required"))
	}
	if err := h.Catalog.PutPeer(a.Peer); err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	return wire.OKResponse(nil)
}

func (h *Handler) getStatistics(req wire.OperationRequest) json.RawMessage {
	if h.Stats == nil {
		return wire.OKResponse(metrics.Statistics{})
	}
	return wire.OKResponse(h.Stats.Snapshot())
}

type executeCodeArgs struct {
	ProgramID string         `json:"program_id"`
	Args      map[string]any `json:"args"`
}

// executeCode runs a previously-registered trusted program against the
// document store via h.Runtime. CreDB supplies only the document-store
// handle; sandboxing the program itself is the embedder's responsibility.
func (h *Handler) executeCode(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	if h.Runtime == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "no program runtime configured for this enclave"))
	}
	a, err := decodeArgs[executeCodeArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	result, err := h.Runtime.Execute(ctx, a.ProgramID, a.Args)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	return wire.OKResponse(result)
}

// callProgram is a synonym for ExecuteCode kept for wire compatibility
// with clients that distinguish "call a named procedure" from "execute an
// ad hoc program"; both dispatch through the same Runtime.
func (h *Handler) callProgram(ctx context.Context, req wire.OperationRequest) json.RawMessage {
	return h.executeCode(ctx, req)
}

type dumpArgs struct {
	Collection string `json:"collection"`
}

type dumpResult struct {
	Data []byte `json:"data"`
}

// dumpEverything serializes every document in a collection through
// h.Parser, for an embedder that wants documents in some interchange
// format richer than CreDB's own JSON wire encoding.
func (h *Handler) dumpEverything(req wire.OperationRequest) json.RawMessage {
	if h.Parser == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "no document parser configured for this enclave"))
	}
	a, err := decodeArgs[dumpArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	rows, err := h.Store.Find(store.CollectionName(a.Collection), map[string]any{}, nil, -1)
	if err != nil {
		return storeErrResponse(err)
	}
	docs := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		docs[row.Key] = row.Doc
	}
	data, err := h.Parser.Encode(docs)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	return wire.OKResponse(dumpResult{Data: data})
}

type loadArgs struct {
	Collection string `json:"collection"`
	Data       []byte `json:"data"`
}

// loadEverything parses data with h.Parser and writes every resulting
// document into collection, overwriting any document already at that key.
func (h *Handler) loadEverything(req wire.OperationRequest) json.RawMessage {
	if h.Parser == nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "no document parser configured for this enclave"))
	}
	a, err := decodeArgs[loadArgs](req)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	}
	docs, err := h.Parser.Decode(a.Data)
	if err != nil {
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
	collection := store.CollectionName(a.Collection)
	for key, doc := range docs {
		if _, err := h.Store.Put(collection, key, doc); err != nil {
			return storeErrResponse(err)
		}
	}
	return wire.OKResponse(nil)
}

// storeErrResponse maps a store-layer sentinel error to its wire error
// kind (spec §7): missing keys/paths are not-found, a malformed key is a
// validation failure, anything else is a protocol-level failure.
func storeErrResponse(err error) json.RawMessage {
	switch err {
	case store.ErrNotFound, store.ErrNoSuchPath:
		return wire.ErrResponse(wire.NewError(wire.KindNotFound, "%v", err))
	case store.ErrInvalidKey:
		return wire.ErrResponse(wire.NewError(wire.KindValidation, "%v", err))
	default:
		return wire.ErrResponse(wire.NewError(wire.KindProtocol, "%v", err))
	}
}
