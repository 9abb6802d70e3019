package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kaimast/credb/internal/ledger"
)

// Shard owns one partition of the key space: its own append-only event log
// and the in-memory key-to-version-chain map. The chains map starts empty;
// Store.Replay rebuilds it by replaying the shard's log (see replayLocked).
// Readers take RLock, writers take Lock (upgraded at commit by internal/txn);
// see spec §5.
type Shard struct {
	sync.RWMutex

	id     uint32
	log    *ledger.Log
	chains map[docKey]*chain
}

func newShard(id uint32, log *ledger.Log) *Shard {
	return &Shard{id: id, log: log, chains: make(map[docKey]*chain)}
}

// ID returns the shard's stable identifier.
func (sh *Shard) ID() uint32 { return sh.id }

// LookupEvent returns the full log entry named by id from this shard's log,
// used by internal/txn to assemble witnesses over both written and
// previously-read events.
func (sh *Shard) LookupEvent(id ledger.EventID) (ledger.Entry, bool) {
	return sh.log.Lookup(id)
}

func (sh *Shard) chainFor(dk docKey) *chain {
	c, ok := sh.chains[dk]
	if !ok {
		c = &chain{}
		sh.chains[dk] = c
	}
	return c
}

// hasLocked reports whether dk currently resolves to a non-tombstone
// version. Caller must hold at least RLock.
func (sh *Shard) hasLocked(dk docKey) bool {
	c, ok := sh.chains[dk]
	return ok && c.current() != nil
}

// getLocked returns the chain entry for dk, at version if non-zero or the
// latest otherwise. Caller must hold at least RLock.
func (sh *Shard) getLocked(dk docKey, version Version) (*chainEntry, error) {
	c, ok := sh.chains[dk]
	if !ok {
		return nil, ErrNotFound
	}
	if version == 0 {
		if e := c.current(); e != nil {
			return e, nil
		}
		return nil, ErrNotFound
	}
	e := c.entryAt(version)
	if e == nil || e.Kind == ledger.KindRemove {
		return nil, ErrNotFound
	}
	return e, nil
}

// historyLocked returns every document version for dk, newest first.
func (sh *Shard) historyLocked(dk docKey) ([]map[string]any, error) {
	c, ok := sh.chains[dk]
	if !ok {
		return nil, ErrNotFound
	}
	return c.history(), nil
}

func encodeDoc(doc map[string]any) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}

func decodeDoc(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// replayLocked installs e as the new chain head for its (collection, key).
// Callers must present a shard's entries in ascending append order (which
// ledger.Log.Replay already guarantees) and hold Lock.
func (sh *Shard) replayLocked(e ledger.Entry) error {
	dk := docKey{Collection: CollectionName(e.Collection), Key: e.Key}
	c := sh.chainFor(dk)

	entry := &chainEntry{
		Version: e.ID,
		Ver:     Version(e.Version),
		Kind:    e.Kind,
		Prev:    c.head,
	}
	if e.Kind != ledger.KindRemove {
		doc, err := decodeDoc(e.Document)
		if err != nil {
			return fmt.Errorf("failed to decode replayed document %s/%s: %w", e.Collection, e.Key, err)
		}
		entry.Doc = doc
	}
	c.head = entry
	return nil
}

// putLocked installs doc as a fresh chain head for dk, appending one event
// to the shard's log. Caller must hold Lock.
func (sh *Shard) putLocked(dk docKey, doc map[string]any, seq uint64) (*chainEntry, error) {
	c := sh.chainFor(dk)
	ver := Version(1)
	if c.head != nil {
		ver = c.head.Ver + 1
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	id, err := sh.log.Append(string(dk.Collection), dk.Key, uint64(ver), ledger.KindPut, raw, seq)
	if err != nil {
		return nil, err
	}
	entry := &chainEntry{Version: id, Ver: ver, Kind: ledger.KindPut, Doc: doc, Prev: c.head}
	c.head = entry
	return entry, nil
}

// addLocked shallow-merges patch into dk's current document (or creates one
// if dk has no current version). Caller must hold Lock.
func (sh *Shard) addLocked(dk docKey, patch map[string]any, seq uint64) (*chainEntry, error) {
	c := sh.chainFor(dk)
	base := map[string]any{}
	if cur := c.current(); cur != nil {
		base = cur.Doc
	}
	merged := shallowMerge(base, patch)

	ver := Version(1)
	if c.head != nil {
		ver = c.head.Ver + 1
	}
	raw, err := encodeDoc(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	id, err := sh.log.Append(string(dk.Collection), dk.Key, uint64(ver), ledger.KindAdd, raw, seq)
	if err != nil {
		return nil, err
	}
	entry := &chainEntry{Version: id, Ver: ver, Kind: ledger.KindAdd, Doc: merged, Patch: patch, Prev: c.head}
	c.head = entry
	return entry, nil
}

// removeLocked installs a tombstone for dk. Caller must hold Lock.
func (sh *Shard) removeLocked(dk docKey, seq uint64) (*chainEntry, error) {
	c := sh.chainFor(dk)
	ver := Version(1)
	if c.head != nil {
		ver = c.head.Ver + 1
	}
	id, err := sh.log.Append(string(dk.Collection), dk.Key, uint64(ver), ledger.KindRemove, nil, seq)
	if err != nil {
		return nil, err
	}
	entry := &chainEntry{Version: id, Ver: ver, Kind: ledger.KindRemove, Prev: c.head}
	c.head = entry
	return entry, nil
}

// scanRow is one candidate returned by a full shard scan for find().
type scanRow struct {
	Key   string
	Event ledger.EventID
	Doc   map[string]any
}

// scanLocked returns every current (non-tombstone) document in collection,
// ascending by key. Caller must hold at least RLock.
func (sh *Shard) scanLocked(collection CollectionName) []scanRow {
	var rows []scanRow
	for dk, c := range sh.chains {
		if dk.Collection != collection {
			continue
		}
		if e := c.current(); e != nil {
			rows = append(rows, scanRow{Key: dk.Key, Event: e.Version, Doc: e.Doc})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}
