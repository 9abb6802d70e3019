package txn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/store"
)

// ErrAlreadyDone is returned by Commit on a transaction that has already
// committed or aborted.
var ErrAlreadyDone = errors.New("txn: transaction already done")

type writeKind int

const (
	writePut writeKind = iota
	writeAdd
	writeRemove
)

// writeOp is one deferred write, a tagged union of put/add/remove per the
// design note on deferred writes (spec §9).
type writeOp struct {
	Collection store.CollectionName
	Key        string
	Kind       writeKind
	Doc        map[string]any
}

// readRecord is one observed-event entry in a transaction's read set.
type readRecord struct {
	Collection store.CollectionName
	Key        string
	Event      ledger.EventID
}

// findRecord is one recorded find(), re-executed at commit under
// serializable isolation to detect phantoms.
type findRecord struct {
	Collection store.CollectionName
	Predicate  map[string]any
	Keys       []string // sorted keys observed when the find was executed
}

// Transaction buffers a client's reads-already-performed and writes-not-yet-
// applied, per spec §4.E. Reads execute immediately against the store;
// writes are only applied when Commit succeeds.
type Transaction struct {
	engine    *Engine
	isolation IsolationLevel

	reads  []readRecord
	finds  []findRecord
	writes []writeOp

	done bool
}

// Isolation returns the level this transaction was begun at.
func (t *Transaction) Isolation() IsolationLevel {
	return t.isolation
}

// Get reads key immediately (outside any lock the eventual commit will
// hold) and records the observed event id for read-set validation.
func (t *Transaction) Get(collection store.CollectionName, key, path string) (any, error) {
	doc, event, err := t.engine.store.Get(collection, key, path, 0)
	if err != nil {
		return nil, err
	}
	t.reads = append(t.reads, readRecord{Collection: collection, Key: key, Event: event})
	return doc, nil
}

// Find executes predicate immediately and records the result set so
// Serializable commits can detect phantoms.
func (t *Transaction) Find(collection store.CollectionName, predicate map[string]any, projection []string, limit int) ([]store.FindResult, error) {
	rows, err := t.engine.store.Find(collection, predicate, projection, limit)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	sort.Strings(keys)
	t.finds = append(t.finds, findRecord{Collection: collection, Predicate: predicate, Keys: keys})
	return rows, nil
}

// Put queues a put, applied only if Commit succeeds.
func (t *Transaction) Put(collection store.CollectionName, key string, doc map[string]any) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	t.writes = append(t.writes, writeOp{Collection: collection, Key: key, Kind: writePut, Doc: doc})
	return nil
}

// Add queues a shallow-merge add, applied only if Commit succeeds.
func (t *Transaction) Add(collection store.CollectionName, key string, patch map[string]any) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	t.writes = append(t.writes, writeOp{Collection: collection, Key: key, Kind: writeAdd, Doc: patch})
	return nil
}

// Remove queues a tombstone write, applied only if Commit succeeds.
func (t *Transaction) Remove(collection store.CollectionName, key string) error {
	t.writes = append(t.writes, writeOp{Collection: collection, Key: key, Kind: writeRemove})
	return nil
}

// touchedShards returns the sorted, deduplicated shard ids this
// transaction's reads and writes touch. If includeAll is true (serializable
// commits with recorded finds), every shard in the store is included, since
// a find's predicate may match a key on any shard.
func (t *Transaction) touchedShards(includeAll bool) []uint32 {
	set := make(map[uint32]bool)
	if includeAll {
		for i := uint32(0); i < t.engine.store.NumShards(); i++ {
			set[i] = true
		}
	} else {
		for _, r := range t.reads {
			set[store.ShardFor(r.Collection, r.Key, t.engine.store.NumShards())] = true
		}
		for _, w := range t.writes {
			set[store.ShardFor(w.Collection, w.Key, t.engine.store.NumShards())] = true
		}
	}
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Transaction) String() string {
	return fmt.Sprintf("txn{reads=%d finds=%d writes=%d isolation=%s}", len(t.reads), len(t.finds), len(t.writes), t.isolation)
}
