package txn

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/store"
)

// CommitResult is the outcome of a transaction commit attempt, returned to
// the client exactly in the shape spec §4.E/§7 specify.
type CommitResult struct {
	Success  bool
	Error    string
	Witness  *ledger.Witness
	Produced []ledger.Entry
}

// Engine owns the document store, the enclave's signing identity, and the
// process-wide monotonic commit sequence counter (spec §4.E step 3).
type Engine struct {
	store    *store.Store
	identity *ecdsa.PrivateKey
	seq      atomic.Uint64
}

// NewEngine creates a transaction engine over s, signing witnesses with
// identity.
func NewEngine(s *store.Store, identity *ecdsa.PrivateKey) *Engine {
	return &Engine{store: s, identity: identity}
}

// Begin starts a new transaction at the given isolation level.
func (e *Engine) Begin(isolation IsolationLevel) *Transaction {
	return &Transaction{engine: e, isolation: isolation}
}

// Identity returns the signing key the engine assembles witnesses with, so
// internal/session can sign a single-event witness for GetObjectWithWitness
// without duplicating key management.
func (e *Engine) Identity() *ecdsa.PrivateKey {
	return e.identity
}

// Commit validates and, if validation passes, atomically applies t's
// queued writes. A transaction that has already committed or aborted
// returns ErrAlreadyDone.
func (e *Engine) Commit(ctx context.Context, t *Transaction, generateWitness bool) (*CommitResult, error) {
	if t.done {
		return nil, ErrAlreadyDone
	}
	t.done = true

	includeAllShards := t.isolation == Serializable && len(t.finds) > 0
	shardIDs := t.touchedShards(includeAllShards)

	shards := make([]*store.Shard, 0, len(shardIDs))
	for _, id := range shardIDs {
		sh := e.store.ShardByID(id)
		sh.Lock()
		shards = append(shards, sh)
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			shards[i].Unlock()
		}
	}()

	if msg, ok := e.validate(t); !ok {
		return &CommitResult{Success: false, Error: msg}, nil
	}

	seq := e.seq.Add(1)
	produced, err := e.apply(t, seq)
	if err != nil {
		return &CommitResult{Success: false, Error: err.Error()}, nil
	}

	result := &CommitResult{Success: true, Produced: produced}
	if generateWitness {
		w, err := e.witness(t, produced)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble witness: %w", err)
		}
		result.Witness = w
	}
	return result, nil
}

// validate runs the read-set, write-set, and phantom checks for t's
// isolation level, per the table in spec §4.E. Returns (message, false) on
// the first violation found.
func (e *Engine) validate(t *Transaction) (string, bool) {
	if t.isolation == ReadCommitted {
		return "", true
	}

	for _, r := range t.reads {
		cur, err := e.store.ReadCurrent(e.store.ShardFor(r.Collection, r.Key), r.Collection, r.Key)
		if err != nil || cur.Version != r.Event {
			return fmt.Sprintf("Key [%s] reads outdated value", r.Key), false
		}
	}

	if t.isolation != Serializable {
		return "", true
	}

	for _, f := range t.finds {
		current := e.store.FindKeysLocked(f.Collection, f.Predicate)
		if msg, ok := diffPhantom(f.Keys, current); !ok {
			return msg, false
		}
	}
	return "", true
}

// diffPhantom compares a find's originally-observed key set against its
// current re-execution, reporting the spec-mandated messages.
func diffPhantom(before, after []string) (string, bool) {
	beforeSet := make(map[string]bool, len(before))
	for _, k := range before {
		beforeSet[k] = true
	}
	for _, k := range after {
		if !beforeSet[k] {
			return fmt.Sprintf("Phantom read: key=%s", k), false
		}
	}
	if len(after) < len(before) {
		return "Phantom read: too few results", false
	}
	return "", true
}

// apply installs every queued write under the already-acquired shard locks,
// stamping each with seq, and returns the produced log entries for witness
// assembly.
func (e *Engine) apply(t *Transaction, seq uint64) ([]ledger.Entry, error) {
	var produced []ledger.Entry
	for _, w := range t.writes {
		sh := e.store.ShardFor(w.Collection, w.Key)
		var (
			id      ledger.EventID
			version uint64
			kind    ledger.EventKind
			doc     map[string]any
			err     error
		)
		switch w.Kind {
		case writePut:
			entry, applyErr := e.store.ApplyPut(sh, w.Collection, w.Key, w.Doc, seq)
			err = applyErr
			if err == nil {
				id, version, kind, doc = entry.Version, uint64(entry.Ver), entry.Kind, entry.Doc
			}
		case writeAdd:
			entry, applyErr := e.store.ApplyAdd(sh, w.Collection, w.Key, w.Doc, seq)
			err = applyErr
			if err == nil {
				id, version, kind, doc = entry.Version, uint64(entry.Ver), entry.Kind, entry.Doc
			}
		case writeRemove:
			entry, applyErr := e.store.ApplyRemove(sh, w.Collection, w.Key, seq)
			err = applyErr
			if err == nil {
				id, version, kind = entry.Version, uint64(entry.Ver), entry.Kind
			}
		}
		if err != nil {
			return nil, err
		}

		raw, jsonErr := json.Marshal(doc)
		if jsonErr != nil {
			return nil, fmt.Errorf("failed to encode document: %w", jsonErr)
		}
		if doc == nil {
			raw = nil
		}
		produced = append(produced, ledger.Entry{
			ID: id, Key: w.Key, Version: version, Kind: kind, Document: raw, Seq: seq,
		})
	}
	return produced, nil
}

// witness assembles and signs a witness over every event this commit
// produced plus every event this transaction read, per spec §4.E step 4.
func (e *Engine) witness(t *Transaction, produced []ledger.Entry) (*ledger.Witness, error) {
	entries := make([]ledger.Entry, 0, len(produced)+len(t.reads))
	entries = append(entries, produced...)
	for _, r := range t.reads {
		sh := e.store.ShardFor(r.Collection, r.Key)
		if entry, ok := sh.LookupEvent(r.Event); ok {
			entries = append(entries, entry)
		}
	}
	return ledger.Sign(e.identity, entries)
}
