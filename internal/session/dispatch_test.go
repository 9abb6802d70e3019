package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kaimast/credb/internal/buffer"
	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/docparser"
	"github.com/kaimast/credb/internal/ioenc"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/metrics"
	"github.com/kaimast/credb/internal/store"
	"github.com/kaimast/credb/internal/trigger"
	"github.com/kaimast/credb/internal/txn"
	"github.com/kaimast/credb/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	key := make([]byte, 16)
	io, err := ioenc.NewLocalIO(t.TempDir(), key)
	require.NoError(t, err)

	s := store.NewStore(4, func(shardID uint32) *ledger.Log {
		mgr := buffer.NewManager(io, ledger.BlockCodec{}, nil, 0)
		return ledger.NewLog(shardID, mgr, 0)
	})
	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	engine := txn.NewEngine(s, id.Private)
	return NewHandler(s, engine, trigger.NewRegistry())
}

func decodeBody(t *testing.T, raw json.RawMessage) wire.ResponseBody {
	t.Helper()
	var body wire.ResponseBody
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestPutThenGetObjectAutoCommit(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	args, _ := json.Marshal(map[string]any{
		"collection": "docs", "key": "k1", "document": map[string]any{"v": 1},
	})
	putResp := h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpPutObject, Args: args})
	require.True(t, decodeBody(t, putResp).OK)

	commitResp := h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpCommitTransaction})
	body := decodeBody(t, commitResp)
	require.True(t, body.OK)

	getArgs, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k1"})
	getResp := h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 1, OpType: wire.OpGetObject, Args: getArgs})
	getBody := decodeBody(t, getResp)
	require.True(t, getBody.OK)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(getBody.Result, &doc))
	assert.Equal(t, float64(1), doc["v"])
}

func TestGetObjectNotFoundReturnsNotFoundKind(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	args, _ := json.Marshal(map[string]any{"collection": "docs", "key": "missing"})
	resp := h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpGetObject, Args: args})
	body := decodeBody(t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, wire.KindNotFound, body.Kind)
}

func TestRepeatableReadCommitAbortsOnOutdatedRead(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	putArgs, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k2", "document": map[string]any{"v": 1}})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpPutObject, Args: putArgs})).OK)
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpCommitTransaction})).OK)

	repeatable := int(txn.RepeatableRead)
	getArgs, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k2", "isolation": repeatable})
	getResp := h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 1, OpType: wire.OpGetObject, Args: getArgs})
	require.True(t, decodeBody(t, getResp).OK)

	outsidePut, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k2", "document": map[string]any{"v": 2}})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 3, OpID: 1, OpType: wire.OpPutObject, Args: outsidePut})).OK)
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 3, OpID: 2, OpType: wire.OpCommitTransaction})).OK)

	commitResp := h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 2, OpType: wire.OpCommitTransaction})
	commitBody := decodeBody(t, commitResp)
	require.True(t, commitBody.OK)

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(commitBody.Result, &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "reads outdated value")
}

func TestCommitNotifiesSubscribedTrigger(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	sub := h.Triggers.Subscribe()
	defer h.Triggers.Unsubscribe(sub)
	h.Triggers.Set(sub, "docs")

	args, _ := json.Marshal(map[string]any{
		"collection": "docs", "key": "k1", "document": map[string]any{"v": 1},
	})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpPutObject, Args: args})).OK)
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpCommitTransaction})).OK)

	select {
	case collection := <-sub.Events:
		assert.Equal(t, "docs", collection)
	default:
		t.Fatal("expected a trigger notification after commit")
	}
}

func TestUnsupportedOperationReturnsProtocolError(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpClear})
	body := decodeBody(t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, wire.KindProtocol, body.Kind)
}

func TestPeerOperationsWithoutCatalogRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpListPeers})
	body := decodeBody(t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, wire.KindProtocol, body.Kind)
}

func TestPeerAndStatisticsRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	h.Catalog = cat
	h.Stats = metrics.NewStats(4)
	ctx := context.Background()

	addArgs, _ := json.Marshal(map[string]any{"id": "peer-1", "address": "10.0.0.1:5043", "downstream": true})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpPeer, Args: addArgs})).OK)

	listResp := h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpListPeers})
	listBody := decodeBody(t, listResp)
	require.True(t, listBody.OK)
	var peers []catalog.Peer
	require.NoError(t, json.Unmarshal(listBody.Result, &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].ID)

	putArgs, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k1", "document": map[string]any{"v": 1}})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 1, OpType: wire.OpPutObject, Args: putArgs})).OK)
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 2, OpType: wire.OpCommitTransaction})).OK)

	statsResp := h.Handle(ctx, wire.OperationRequest{TaskID: 3, OpID: 1, OpType: wire.OpGetStatistics})
	statsBody := decodeBody(t, statsResp)
	require.True(t, statsBody.OK)
	var stats metrics.Statistics
	require.NoError(t, json.Unmarshal(statsBody.Result, &stats))
	assert.EqualValues(t, 1, stats.Committed)
}

type fakeRuntime struct {
	lastID   string
	lastArgs map[string]any
}

func (f *fakeRuntime) Execute(_ context.Context, id string, args map[string]any) (any, error) {
	f.lastID, f.lastArgs = id, args
	return map[string]any{"echo": id}, nil
}

func TestExecuteCodeWithoutRuntimeRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpExecuteCode})
	body := decodeBody(t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, wire.KindProtocol, body.Kind)
}

func TestExecuteCodeAndCallProgramDispatchToRuntime(t *testing.T) {
	h := newTestHandler(t)
	rt := &fakeRuntime{}
	h.Runtime = rt

	args, _ := json.Marshal(map[string]any{"program_id": "greet", "args": map[string]any{"name": "a"}})
	resp := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpExecuteCode, Args: args})
	body := decodeBody(t, resp)
	require.True(t, body.OK)
	assert.Equal(t, "greet", rt.lastID)

	resp2 := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpCallProgram, Args: args})
	body2 := decodeBody(t, resp2)
	require.True(t, body2.OK)
}

type upperParser struct{}

func (upperParser) Encode(docs map[string]map[string]any) ([]byte, error) {
	return json.Marshal(docs)
}

func (upperParser) Decode(data []byte) (map[string]map[string]any, error) {
	var docs map[string]map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

var _ docparser.Parser = upperParser{}

func TestDumpAndLoadEverythingWithoutParserRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(context.Background(), wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpDumpEverything})
	body := decodeBody(t, resp)
	assert.False(t, body.OK)
	assert.Equal(t, wire.KindProtocol, body.Kind)
}

func TestDumpAndLoadEverythingRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	h.Parser = upperParser{}
	ctx := context.Background()

	putArgs, _ := json.Marshal(map[string]any{"collection": "docs", "key": "k1", "document": map[string]any{"v": float64(1)}})
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 1, OpType: wire.OpPutObject, Args: putArgs})).OK)
	require.True(t, decodeBody(t, h.Handle(ctx, wire.OperationRequest{TaskID: 1, OpID: 2, OpType: wire.OpCommitTransaction})).OK)

	dumpArgsJSON, _ := json.Marshal(map[string]any{"collection": "docs"})
	dumpResp := h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 1, OpType: wire.OpDumpEverything, Args: dumpArgsJSON})
	dumpBody := decodeBody(t, dumpResp)
	require.True(t, dumpBody.OK)
	var dump dumpResult
	require.NoError(t, json.Unmarshal(dumpBody.Result, &dump))

	loadArgsJSON, _ := json.Marshal(map[string]any{"collection": "docs2", "data": dump.Data})
	loadResp := h.Handle(ctx, wire.OperationRequest{TaskID: 2, OpID: 2, OpType: wire.OpLoadEverything, Args: loadArgsJSON})
	require.True(t, decodeBody(t, loadResp).OK)

	got, _, err := h.Store.Get(store.CollectionName("docs2"), "k1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": float64(1)}, got)
}
