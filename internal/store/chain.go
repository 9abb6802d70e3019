package store

import "github.com/kaimast/credb/internal/ledger"

// chainEntry is one version chain link for a key. Kind KindRemove is a
// tombstone and carries no Doc.
type chainEntry struct {
	Version ledger.EventID
	Ver     Version
	Kind    ledger.EventKind
	Doc     map[string]any
	Patch   map[string]any
	Prev    *chainEntry
}

// chain is a key's full version history, newest first via head.
type chain struct {
	head *chainEntry
}

// current returns the chain's latest entry, or nil if the chain is empty or
// its head is a tombstone.
func (c *chain) current() *chainEntry {
	if c == nil || c.head == nil || c.head.Kind == ledger.KindRemove {
		return nil
	}
	return c.head
}

// entryAt walks the chain back to the entry with the given version, or nil.
func (c *chain) entryAt(v Version) *chainEntry {
	for e := c.head; e != nil; e = e.Prev {
		if e.Ver == v {
			return e
		}
	}
	return nil
}

// history returns every non-tombstone document, newest first.
func (c *chain) history() []map[string]any {
	var docs []map[string]any
	for e := c.head; e != nil; e = e.Prev {
		if e.Kind != ledger.KindRemove {
			docs = append(docs, e.Doc)
		}
	}
	return docs
}
