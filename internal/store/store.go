package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kaimast/credb/internal/ledger"
)

// FindResult is one row of a find() result set.
type FindResult struct {
	Key   string
	Event ledger.EventID
	Doc   any
}

// Store owns a fixed number of shards plus the secondary-index metadata
// that spans them. Most callers use the locking Put/Get/Find/... methods;
// internal/txn uses ShardByID plus the *Locked variants to apply a batch of
// writes under locks it acquired itself, in ascending shard-id order.
type Store struct {
	shards []*Shard

	indexMu sync.RWMutex
	indexes map[CollectionName]map[string]*Index // path -> index
}

// NewStore creates a Store with numShards shards, each backed by the log
// newLog(shardID) returns.
func NewStore(numShards uint32, newLog func(shardID uint32) *ledger.Log) *Store {
	shards := make([]*Shard, numShards)
	for i := uint32(0); i < numShards; i++ {
		shards[i] = newShard(i, newLog(i))
	}
	return &Store{shards: shards, indexes: make(map[CollectionName]map[string]*Index)}
}

// Replay rebuilds every shard's in-memory version chains from its log. It
// must run once, right after NewStore, before any caller observes the
// store — a shard's log may already hold blocks resumed from a prior run
// (see ledger.Log.resume), and those entries would otherwise never make it
// back into chains.
func (s *Store) Replay() error {
	for _, sh := range s.shards {
		sh.Lock()
		err := sh.log.Replay(sh.replayLocked)
		sh.Unlock()
		if err != nil {
			return fmt.Errorf("failed to replay shard %d: %w", sh.id, err)
		}
	}
	return nil
}

// NumShards returns the shard count the store was created with.
func (s *Store) NumShards() uint32 { return uint32(len(s.shards)) }

// ShardByID returns the shard with the given id, used by internal/txn to
// acquire locks itself before replaying a batch.
func (s *Store) ShardByID(id uint32) *Shard { return s.shards[id] }

// ShardFor returns the shard owning (collection, key).
func (s *Store) ShardFor(collection CollectionName, key string) *Shard {
	return s.shards[ShardFor(collection, key, s.NumShards())]
}

func (s *Store) dk(collection CollectionName, key string) docKey {
	return docKey{Collection: collection, Key: key}
}

// Has reports whether key currently has a non-tombstone version.
func (s *Store) Has(collection CollectionName, key string) bool {
	sh := s.ShardFor(collection, key)
	sh.RLock()
	defer sh.RUnlock()
	return sh.hasLocked(s.dk(collection, key))
}

// Check reports whether key's current document satisfies predicate.
func (s *Store) Check(collection CollectionName, key string, predicate map[string]any) (bool, error) {
	sh := s.ShardFor(collection, key)
	sh.RLock()
	defer sh.RUnlock()
	e, err := sh.getLocked(s.dk(collection, key), 0)
	if err != nil {
		return false, err
	}
	return matchesPredicate(e.Doc, predicate), nil
}

// Get returns the document at key (optionally at a historical version and/or
// a sub-path), plus the event id that produced it.
func (s *Store) Get(collection CollectionName, key, path string, version Version) (any, ledger.EventID, error) {
	sh := s.ShardFor(collection, key)
	sh.RLock()
	defer sh.RUnlock()

	e, err := sh.getLocked(s.dk(collection, key), version)
	if err != nil {
		return nil, ledger.InvalidEvent, err
	}
	if path == "" {
		return e.Doc, e.Version, nil
	}
	v, ok := getPath(e.Doc, path)
	if !ok {
		return nil, ledger.InvalidEvent, ErrNoSuchPath
	}
	return v, e.Version, nil
}

// Put installs doc as key's new current version.
func (s *Store) Put(collection CollectionName, key string, doc map[string]any) (ledger.EventID, error) {
	if err := ValidateKey(key); err != nil {
		return ledger.InvalidEvent, err
	}
	sh := s.ShardFor(collection, key)
	sh.Lock()
	defer sh.Unlock()

	e, err := sh.putLocked(s.dk(collection, key), doc, 0)
	if err != nil {
		return ledger.InvalidEvent, err
	}
	s.onWrite(collection, key, e.Doc)
	return e.Version, nil
}

// Add shallow-merges patch into key's current document.
func (s *Store) Add(collection CollectionName, key string, patch map[string]any) (ledger.EventID, error) {
	if err := ValidateKey(key); err != nil {
		return ledger.InvalidEvent, err
	}
	sh := s.ShardFor(collection, key)
	sh.Lock()
	defer sh.Unlock()

	e, err := sh.addLocked(s.dk(collection, key), patch, 0)
	if err != nil {
		return ledger.InvalidEvent, err
	}
	s.onWrite(collection, key, e.Doc)
	return e.Version, nil
}

// Remove installs a tombstone for key.
func (s *Store) Remove(collection CollectionName, key string) (ledger.EventID, error) {
	sh := s.ShardFor(collection, key)
	sh.Lock()
	defer sh.Unlock()

	e, err := sh.removeLocked(s.dk(collection, key), 0)
	if err != nil {
		return ledger.InvalidEvent, err
	}
	s.onRemove(collection, key)
	return e.Version, nil
}

// History returns every document version for key, newest first.
func (s *Store) History(collection CollectionName, key string) ([]map[string]any, error) {
	sh := s.ShardFor(collection, key)
	sh.RLock()
	defer sh.RUnlock()
	return sh.historyLocked(s.dk(collection, key))
}

// Find scans (or index-probes) collection for documents matching predicate,
// returning up to limit rows in ascending key order. limit < 0 means
// unlimited.
func (s *Store) Find(collection CollectionName, predicate map[string]any, projection []string, limit int) ([]FindResult, error) {
	candidateKeys, usedIndex := s.indexCandidates(collection, predicate)

	var rows []FindResult
	if usedIndex {
		for _, key := range candidateKeys {
			sh := s.ShardFor(collection, key)
			sh.RLock()
			e, err := sh.getLocked(s.dk(collection, key), 0)
			sh.RUnlock()
			if err != nil {
				continue
			}
			if matchesPredicate(e.Doc, predicate) {
				rows = append(rows, FindResult{Key: key, Event: e.Version, Doc: project(e.Doc, projection)})
			}
		}
		sortRows(rows)
	} else {
		for _, sh := range s.shards {
			sh.RLock()
			scan := sh.scanLocked(collection)
			sh.RUnlock()
			for _, row := range scan {
				if matchesPredicate(row.Doc, predicate) {
					rows = append(rows, FindResult{Key: row.Key, Event: row.Event, Doc: project(row.Doc, projection)})
				}
			}
		}
		sortRows(rows)
	}

	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func sortRows(rows []FindResult) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].Key > rows[j].Key; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

// FindKeysLocked returns the ascending-sorted set of keys matching
// predicate in collection, assuming the caller (internal/txn) already holds
// a lock (RLock or Lock) on every shard of the store — used to re-execute a
// transaction's recorded finds at commit time without re-entering the
// per-shard RWMutex.
func (s *Store) FindKeysLocked(collection CollectionName, predicate map[string]any) []string {
	candidateKeys, usedIndex := s.indexCandidates(collection, predicate)

	var keys []string
	if usedIndex {
		for _, key := range candidateKeys {
			sh := s.ShardFor(collection, key)
			e, err := sh.getLocked(s.dk(collection, key), 0)
			if err != nil {
				continue
			}
			if matchesPredicate(e.Doc, predicate) {
				keys = append(keys, key)
			}
		}
	} else {
		for _, sh := range s.shards {
			for _, row := range sh.scanLocked(collection) {
				if matchesPredicate(row.Doc, predicate) {
					keys = append(keys, row.Key)
				}
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// indexCandidates returns the set of keys to check when every predicate
// path is covered by some index on collection, plus whether an index was
// used at all.
func (s *Store) indexCandidates(collection CollectionName, predicate map[string]any) ([]string, bool) {
	s.indexMu.RLock()
	byPath := s.indexes[collection]
	s.indexMu.RUnlock()
	if len(byPath) == 0 {
		return nil, false
	}

	var sets [][]string
	for path, want := range predicate {
		idx, ok := byPath[path]
		if !ok {
			return nil, false // not every predicated path is covered
		}
		sets = append(sets, idx.probe(want))
	}
	if len(sets) == 0 {
		return nil, false
	}
	return intersect(sets), true
}

func intersect(sets [][]string) []string {
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]bool)
		for _, k := range set {
			if !seen[k] {
				counts[k]++
				seen[k] = true
			}
		}
	}
	var out []string
	for k, c := range counts {
		if c == len(sets) {
			out = append(out, k)
		}
	}
	return out
}

// CreateIndex declares an index over each of paths for collection,
// populating it from every shard's current documents.
func (s *Store) CreateIndex(collection CollectionName, paths []string) error {
	s.indexMu.Lock()
	byPath, ok := s.indexes[collection]
	if !ok {
		byPath = make(map[string]*Index)
		s.indexes[collection] = byPath
	}
	var fresh []string
	for _, path := range paths {
		if _, exists := byPath[path]; !exists {
			byPath[path] = newIndex()
			fresh = append(fresh, path)
		}
	}
	s.indexMu.Unlock()

	for _, sh := range s.shards {
		sh.RLock()
		rows := sh.scanLocked(collection)
		sh.RUnlock()
		for _, row := range rows {
			for _, path := range fresh {
				if v, ok := getPath(row.Doc, path); ok {
					byPath[path].set(row.Key, v)
				}
			}
		}
	}
	return nil
}

// DropIndex removes the index over each of paths for collection.
func (s *Store) DropIndex(collection CollectionName, paths []string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	byPath, ok := s.indexes[collection]
	if !ok {
		return fmt.Errorf("store: no indexes on collection %q", collection)
	}
	for _, path := range paths {
		delete(byPath, path)
	}
	if len(byPath) == 0 {
		delete(s.indexes, collection)
	}
	return nil
}

// onWrite updates every index on collection to reflect key's new document.
// Must be called while the owning shard's write lock is still held, so the
// index update is atomic with the chain-head install (spec §4.C).
func (s *Store) onWrite(collection CollectionName, key string, doc map[string]any) {
	s.indexMu.RLock()
	byPath := s.indexes[collection]
	s.indexMu.RUnlock()
	for path, idx := range byPath {
		if v, ok := getPath(doc, path); ok {
			idx.set(key, v)
		} else {
			idx.remove(key)
		}
	}
}

// onRemove drops key from every index on collection.
func (s *Store) onRemove(collection CollectionName, key string) {
	s.indexMu.RLock()
	byPath := s.indexes[collection]
	s.indexMu.RUnlock()
	for _, idx := range byPath {
		idx.remove(key)
	}
}

// ApplyPut replays a put under a lock the caller (internal/txn) already
// holds on dk's shard, stamping the event with the transaction's commit
// sequence.
func (s *Store) ApplyPut(sh *Shard, collection CollectionName, key string, doc map[string]any, seq uint64) (*chainEntry, error) {
	e, err := sh.putLocked(s.dk(collection, key), doc, seq)
	if err != nil {
		return nil, err
	}
	s.onWrite(collection, key, e.Doc)
	return e, nil
}

// ApplyAdd is ApplyPut's counterpart for add.
func (s *Store) ApplyAdd(sh *Shard, collection CollectionName, key string, patch map[string]any, seq uint64) (*chainEntry, error) {
	e, err := sh.addLocked(s.dk(collection, key), patch, seq)
	if err != nil {
		return nil, err
	}
	s.onWrite(collection, key, e.Doc)
	return e, nil
}

// ApplyRemove is ApplyPut's counterpart for remove.
func (s *Store) ApplyRemove(sh *Shard, collection CollectionName, key string, seq uint64) (*chainEntry, error) {
	e, err := sh.removeLocked(s.dk(collection, key), seq)
	if err != nil {
		return nil, err
	}
	s.onRemove(collection, key)
	return e, nil
}

// ReadCurrent returns dk's current chain entry under a lock the caller
// already holds (RLock suffices), used by internal/txn to (re-)validate
// recorded reads at commit time.
func (s *Store) ReadCurrent(sh *Shard, collection CollectionName, key string) (*chainEntry, error) {
	return sh.getLocked(s.dk(collection, key), 0)
}
