// Package buffer implements the in-memory page cache between the document
// store and the encrypted block I/O layer (spec §4.B). It is grounded on
// original_source/src/enclave/EvictionAlgorithm.h for the eviction policy and
// on the teacher's pkg/storage.BoltStore for the mutex-guarded,
// load-on-miss/flush-on-evict access pattern.
package buffer

import (
	"fmt"
	"sync"

	"github.com/kaimast/credb/internal/ioenc"
	"github.com/kaimast/credb/internal/logx"
)

// Page is a buffer-managed page's in-memory representation. Every page kind
// the manager caches must report its own encoded size so the manager can
// enforce a byte budget rather than a page count (spec §4.B).
type Page interface {
	ByteSize() int
}

// Codec turns a page's in-memory representation into bytes and back. The
// buffer manager is agnostic to what a page contains; callers supply the
// codec for their own page kind (e.g. ledger.BlockCodec for log blocks).
type Codec interface {
	Encode(page Page) ([]byte, error)
	Decode(data []byte) (Page, error)
}

type frame struct {
	contents Page
	size     int
	dirty    bool
	pins     int
}

// Manager caches pages backed by an ioenc.IO, evicting under an Eviction
// policy once the configured byte budget is exceeded. A page with any live
// Handle is never selected for eviction (spec §3, §4.B).
type Manager struct {
	mu sync.Mutex

	io       ioenc.IO
	codec    Codec
	eviction Eviction

	budgetBytes   int64
	residentBytes int64
	frames        map[PageNo]*frame
	nextPage      PageNo
}

// NewManager creates a buffer manager over io with room for budgetBytes
// resident bytes before eviction kicks in; a budgetBytes <= 0 disables
// eviction entirely. A nil eviction defaults to LRU. Page numbering resumes
// past whatever io already holds, so a restart never reallocates and
// overwrites a page a prior run already flushed.
func NewManager(io ioenc.IO, codec Codec, eviction Eviction, budgetBytes int64) *Manager {
	if eviction == nil {
		eviction = NewLRU()
	}
	m := &Manager{
		io:          io,
		codec:       codec,
		eviction:    eviction,
		budgetBytes: budgetBytes,
		frames:      make(map[PageNo]*frame),
		nextPage:    1,
	}
	m.resumeNextPage()
	return m
}

func pageName(page PageNo) string {
	return fmt.Sprintf("%d.page", page)
}

// resumeNextPage scans io for pages a prior run already wrote, advancing
// nextPage past the highest one found. Without this every fresh process
// would start allocating at page 1 again and silently overwrite whatever a
// previous run had already committed to disk.
func (m *Manager) resumeNextPage() {
	names, err := m.io.List()
	if err != nil {
		return
	}
	for _, name := range names {
		var n uint32
		if _, err := fmt.Sscanf(name, "%d.page", &n); err != nil {
			continue
		}
		if PageNo(n) >= m.nextPage {
			m.nextPage = PageNo(n) + 1
		}
	}
}

// HighestAllocatedPage returns the largest page number ever allocated by
// this manager, including pages resumed from a prior run, or 0 if none have
// been allocated yet.
func (m *Manager) HighestAllocatedPage() PageNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextPage == 1 {
		return 0
	}
	return m.nextPage - 1
}

// Handle is a live, ref-counted reference to a resident page. The manager
// never evicts a page while any Handle to it is outstanding; callers must
// Release every Handle they acquire.
type Handle struct {
	mgr  *Manager
	page PageNo
}

// Page returns the handle's page number.
func (h *Handle) Page() PageNo {
	return h.page
}

// Contents returns the page's current in-memory representation.
func (h *Handle) Contents() Page {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	return h.mgr.frames[h.page].contents
}

// Release unpins the page. Once every Handle for a page has been released
// it becomes eligible for eviction again.
func (h *Handle) Release() {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	if f, ok := h.mgr.frames[h.page]; ok && f.pins > 0 {
		f.pins--
	}
}

// NewPage allocates a fresh page number, caches contents pinned, and marks
// it dirty so the first Flush persists it. The returned handle must be
// released once the caller no longer needs the page to stay resident.
func (m *Manager) NewPage(contents Page) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.nextPage
	m.nextPage++
	size := contents.ByteSize()
	m.frames[page] = &frame{contents: contents, size: size, dirty: true, pins: 1}
	m.residentBytes += int64(size)
	m.eviction.Touch(page)
	m.evictIfNeeded()
	return &Handle{mgr: m, page: page}
}

// GetPage returns a pinned handle to page, loading it from disk through the
// codec on a cache miss. The returned handle must be released once the
// caller no longer needs the page to stay resident.
func (m *Manager) GetPage(page PageNo) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.frames[page]; ok {
		f.pins++
		m.eviction.Touch(page)
		return &Handle{mgr: m, page: page}, nil
	}

	raw, err := m.io.Read(pageName(page))
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", page, err)
	}
	contents, err := m.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page %d: %w", page, err)
	}

	size := contents.ByteSize()
	m.frames[page] = &frame{contents: contents, size: size, dirty: false, pins: 1}
	m.residentBytes += int64(size)
	m.eviction.Touch(page)
	m.evictIfNeeded()
	return &Handle{mgr: m, page: page}, nil
}

// MarkDirty replaces a resident page's contents and flags it for flush.
func (m *Manager) MarkDirty(page PageNo, contents Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.frames[page]
	if !ok {
		f = &frame{}
		m.frames[page] = f
	} else {
		m.residentBytes -= int64(f.size)
	}
	f.contents = contents
	f.size = contents.ByteSize()
	f.dirty = true
	m.residentBytes += int64(f.size)
	m.eviction.Touch(page)
}

// Flush persists page if dirty and clears its dirty flag. It does not evict
// the page from the cache.
func (m *Manager) Flush(page PageNo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(page)
}

func (m *Manager) flushLocked(page PageNo) error {
	f, ok := m.frames[page]
	if !ok || !f.dirty {
		return nil
	}

	raw, err := m.codec.Encode(f.contents)
	if err != nil {
		return fmt.Errorf("failed to encode page %d: %w", page, err)
	}
	if err := m.io.Write(pageName(page), raw); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page, err)
	}
	f.dirty = false
	return nil
}

// FlushAll persists every dirty resident page, used at checkpoint and
// shutdown.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for page := range m.frames {
		if err := m.flushLocked(page); err != nil {
			return err
		}
	}
	return nil
}

// evictIfNeeded flushes and drops pages beyond the byte budget, skipping any
// page with a live handle. Called with mu held.
func (m *Manager) evictIfNeeded() {
	if m.budgetBytes <= 0 {
		return
	}

	attempts := 0
	for m.residentBytes > m.budgetBytes && attempts <= len(m.frames) {
		victim := m.eviction.Evict()
		if victim == InvalidPageNo {
			return
		}

		f, ok := m.frames[victim]
		if !ok {
			continue
		}
		if f.pins > 0 {
			// Live handle: not evictable. Put it back in the policy so it
			// isn't lost, and keep looking for another victim.
			m.eviction.Touch(victim)
			attempts++
			continue
		}

		if err := m.flushLocked(victim); err != nil {
			logx.Logger.Error().Err(err).Uint32("page", uint32(victim)).Msg("failed to flush evicted page")
			m.eviction.Touch(victim)
			attempts++
			continue
		}
		m.residentBytes -= int64(f.size)
		delete(m.frames, victim)
		attempts = 0
	}
}

// Resident reports how many pages are currently cached in memory.
func (m *Manager) Resident() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// ResidentBytes reports the total encoded size of every page currently
// cached in memory, the quantity the configured budget bounds.
func (m *Manager) ResidentBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.residentBytes
}
