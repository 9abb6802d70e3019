package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/kaimast/credb/internal/buffer"
)

// DefaultBlockCapacity is the number of entries per log block before a new
// block page is allocated.
const DefaultBlockCapacity = 64

// LogBlockPage is the page-resident contents of one log block: a simple,
// append-only slice of entries. It is the ledger's instance of the
// polymorphic page design (spec §9) — discriminated from other page kinds
// by the codec the caller registers it under in internal/buffer, not by an
// in-band tag, since a Log only ever stores one page kind. (internal/store's
// directories and indexes never leave memory, so buffer.Page has no
// DirectoryPage/IndexNodePage counterpart; see DESIGN.md.)
type LogBlockPage struct {
	Entries []Entry
}

// ByteSize reports the block's encoded size, the quantity a buffer.Manager
// budget bounds. Computed directly rather than cached, since a block is
// mutated (appended to) far more often than it is evicted.
func (b *LogBlockPage) ByteSize() int {
	raw, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return len(raw)
}

// BlockCodec (de)serializes log blocks for internal/buffer. Entries are
// JSON-encoded, matching the document store's own JSON document
// representation so a witness's embedded documents need no re-encoding.
type BlockCodec struct{}

func (BlockCodec) Encode(page buffer.Page) ([]byte, error) {
	block, ok := page.(*LogBlockPage)
	if !ok {
		return nil, fmt.Errorf("ledger: codec given non-block page %T", page)
	}
	return json.Marshal(block)
}

func (BlockCodec) Decode(data []byte) (buffer.Page, error) {
	var block LogBlockPage
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to decode log block: %w", err)
	}
	return &block, nil
}

// Log is one shard's append-only event log, page-backed through
// internal/buffer. Callers (internal/store's Shard) serialize access under
// their own shard mutex; Log performs no locking of its own (spec §4.D,
// §5). A Log owns its buffer.Manager exclusively — no other caller may
// allocate pages from it — so block numbers and page numbers coincide
// one-to-one (block N always lives on page N+1), which resume() relies on.
type Log struct {
	shard         uint32
	mgr           *buffer.Manager
	blockCapacity int

	blockPages map[uint32]buffer.PageNo
	nextBlock  uint32
}

// NewLog creates a log for shard, backed by mgr. mgr's codec must be a
// BlockCodec. If mgr already holds pages from a prior run (its own io was
// resumed), the log's block numbering and blockPages index are rebuilt to
// continue after them rather than starting over at block 0.
func NewLog(shard uint32, mgr *buffer.Manager, blockCapacity int) *Log {
	if blockCapacity <= 0 {
		blockCapacity = DefaultBlockCapacity
	}
	l := &Log{
		shard:         shard,
		mgr:           mgr,
		blockCapacity: blockCapacity,
		blockPages:    make(map[uint32]buffer.PageNo),
	}
	l.resume()
	return l
}

// resume rediscovers blocks a prior run already flushed to disk, so a
// restart continues appending at the next block instead of reallocating
// page 1 (and silently overwriting the first run's committed data) and
// forgetting every block already written.
func (l *Log) resume() {
	highest := l.mgr.HighestAllocatedPage()
	for page := buffer.PageNo(1); page <= highest; page++ {
		blockNo := uint32(page) - 1
		l.blockPages[blockNo] = page
		if blockNo >= l.nextBlock {
			l.nextBlock = blockNo + 1
		}
	}
}

// Replay invokes fn, in append order, for every entry recorded in this log
// across its entire lifetime, including blocks resumed from a prior run.
// internal/store's Shard uses this to rebuild its in-memory version chains
// after a restart.
func (l *Log) Replay(fn func(Entry) error) error {
	for blockNo := uint32(0); blockNo < l.nextBlock; blockNo++ {
		page, ok := l.blockPages[blockNo]
		if !ok {
			continue
		}
		h, err := l.mgr.GetPage(page)
		if err != nil {
			return fmt.Errorf("failed to load log block %d for replay: %w", blockNo, err)
		}
		block := h.Contents().(*LogBlockPage)
		entries := append([]Entry(nil), block.Entries...)
		h.Release()

		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Append assigns the next (block, index) for shard and records the entry.
// The returned EventID is strictly greater, in (block, index) order, than
// every previously appended id in this log. collection is recorded
// alongside key so Replay can rebuild a store.Shard's per-collection
// version chains without any side index.
func (l *Log) Append(collection, key string, version uint64, kind EventKind, document []byte, seq uint64) (EventID, error) {
	blockNo, h, block, err := l.currentBlock()
	if err != nil {
		return InvalidEvent, err
	}
	defer h.Release()

	index := uint32(len(block.Entries))
	id := EventID{Shard: l.shard, Block: blockNo, Index: index}
	block.Entries = append(block.Entries, Entry{
		ID:         id,
		Collection: collection,
		Key:        key,
		Version:    version,
		Kind:       kind,
		Document:   document,
		Seq:        seq,
	})
	l.mgr.MarkDirty(h.Page(), block)
	return id, nil
}

// currentBlock returns the block currently accepting appends, allocating a
// fresh one when the log is empty or the current block is full. The
// returned handle is pinned; the caller must release it.
func (l *Log) currentBlock() (uint32, *buffer.Handle, *LogBlockPage, error) {
	if len(l.blockPages) == 0 {
		return l.allocateBlock()
	}

	blockNo := l.nextBlock - 1
	page := l.blockPages[blockNo]
	h, err := l.mgr.GetPage(page)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to load log block %d: %w", blockNo, err)
	}
	block := h.Contents().(*LogBlockPage)
	if len(block.Entries) >= l.blockCapacity {
		h.Release()
		return l.allocateBlock()
	}
	return blockNo, h, block, nil
}

func (l *Log) allocateBlock() (uint32, *buffer.Handle, *LogBlockPage, error) {
	block := &LogBlockPage{}
	h := l.mgr.NewPage(block)
	blockNo := l.nextBlock
	l.nextBlock++
	l.blockPages[blockNo] = h.Page()
	return blockNo, h, block, nil
}

// Lookup returns the entry named by id, or false if no such entry exists.
// It is O(1) when the containing block is buffer-resident.
func (l *Log) Lookup(id EventID) (Entry, bool) {
	if id.Shard != l.shard || !id.IsValid() {
		return Entry{}, false
	}
	page, ok := l.blockPages[id.Block]
	if !ok {
		return Entry{}, false
	}
	h, err := l.mgr.GetPage(page)
	if err != nil {
		return Entry{}, false
	}
	defer h.Release()

	block := h.Contents().(*LogBlockPage)
	if id.Index >= uint32(len(block.Entries)) {
		return Entry{}, false
	}
	return block.Entries[id.Index], true
}
