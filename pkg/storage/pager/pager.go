// Package pager implements NervusDB's fixed-page storage substrate.
//
// Unlike the teacher's badger-backed engine, which delegates all
// on-disk layout to an LSM tree, the v2 kernel owns its own page
// allocation directly (spec.md §4.1): every page is a fixed 8 KiB
// block, page 0 and page 1 are a double-buffered manifest (the pager
// always trusts whichever of the two carries the higher durable LSN),
// and free pages are tracked by a page-backed free list instead of an
// in-memory structure that would need its own recovery path.
//
// A ristretto-backed cache sits in front of disk reads, the same
// general-purpose cache badger itself uses internally, sized by
// config.Options.PageCacheCapacity.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-logr/logr"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

// PageSize is the fixed page size in bytes (spec.md §4.1).
const PageSize = 8192

// pageHeaderSize is the per-page overhead: a CRC32C checksum covering
// the rest of the page.
const pageHeaderSize = 4

// ManifestPage0 and ManifestPage1 are the two double-buffered manifest
// slots. The pager always writes the *other* slot on each checkpoint
// and trusts whichever slot has the higher durable LSN at recovery, so
// a crash mid-write to one slot never corrupts the previously durable
// manifest (spec.md §4.1, §8).
const (
	ManifestPage0 ids.PageID = 0
	ManifestPage1 ids.PageID = 1
	firstDataPage ids.PageID = 2
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Manifest is the durable root of the database: the free-list head,
// the IdMap/Interner root pointers, and the LSN this manifest reflects.
type Manifest struct {
	LSN            ids.LSN
	FreeListHead   ids.PageID
	IdMapRoot      ids.PageID
	LabelRoot      ids.PageID
	RelTypeRoot    ids.PageID
	SnapshotRoot   ids.PageID
	NextPageID     ids.PageID
	NextNodeID     ids.NodeID
	NextLabelID    ids.LabelID
	NextRelTypeID  ids.RelTypeID
}

// Pager owns the single backing file, the page cache, and free-list
// bookkeeping for one open database.
type Pager struct {
	mu       sync.Mutex
	file     *os.File
	cache    *ristretto.Cache[ids.PageID, []byte]
	manifest Manifest
	manifestSlot ids.PageID // which of page0/page1 is currently durable
	log      logr.Logger
}

// Open opens (creating if necessary) the single-file page store at
// path, sized for cacheCapacity pages in the ristretto page cache.
func Open(path string, cacheCapacity int, log logr.Logger) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nverr.Wrap(nverr.Storage, "pager.open", "open page file", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[ids.PageID, []byte]{
		NumCounters: int64(cacheCapacity) * 10,
		MaxCost:     int64(cacheCapacity) * PageSize,
		BufferItems: 64,
	})
	if err != nil {
		f.Close()
		return nil, nverr.Wrap(nverr.Storage, "pager.cache", "build page cache", err)
	}

	p := &Pager{file: f, cache: cache, log: log}

	info, err := f.Stat()
	if err != nil {
		return nil, nverr.Wrap(nverr.Storage, "pager.stat", "stat page file", err)
	}
	if info.Size() < 2*PageSize {
		// Fresh file: initialize both manifest slots at LSN 0.
		p.manifest = Manifest{NextPageID: firstDataPage, FreeListHead: ids.NilPage,
			IdMapRoot: ids.NilPage, LabelRoot: ids.NilPage, RelTypeRoot: ids.NilPage, SnapshotRoot: ids.NilPage}
		p.manifestSlot = ManifestPage0
		if err := p.writeManifestPage(ManifestPage0, p.manifest); err != nil {
			return nil, err
		}
		if err := p.writeManifestPage(ManifestPage1, p.manifest); err != nil {
			return nil, err
		}
		return p, nil
	}

	m0, ok0 := p.readManifestPage(ManifestPage0)
	m1, ok1 := p.readManifestPage(ManifestPage1)
	switch {
	case ok0 && ok1:
		if m1.LSN > m0.LSN {
			p.manifest, p.manifestSlot = m1, ManifestPage1
		} else {
			p.manifest, p.manifestSlot = m0, ManifestPage0
		}
	case ok0:
		p.manifest, p.manifestSlot = m0, ManifestPage0
	case ok1:
		p.manifest, p.manifestSlot = m1, ManifestPage1
	default:
		return nil, nverr.New(nverr.Storage, "pager.manifest", "both manifest pages are corrupt")
	}
	return p, nil
}

// Manifest returns a copy of the pager's currently durable manifest.
func (p *Pager) Manifest() Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest
}

// CommitManifest durably writes a new manifest to whichever slot is
// not currently trusted, then flips the trusted slot — the
// double-buffer swap that makes checkpoint crash-safe (spec.md §4.1).
func (p *Pager) CommitManifest(m Manifest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := ManifestPage1
	if p.manifestSlot == ManifestPage1 {
		target = ManifestPage0
	}
	if err := p.writeManifestPage(target, m); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.sync", "fsync after manifest commit", err)
	}
	p.manifest = m
	p.manifestSlot = target
	return nil
}

func (p *Pager) writeManifestPage(slot ids.PageID, m Manifest) error {
	buf := make([]byte, PageSize)
	payload := encodeManifest(m)
	copy(buf[pageHeaderSize:], payload)
	crc := crc32.Checksum(buf[pageHeaderSize:], crcTable)
	binary.LittleEndian.PutUint32(buf[:pageHeaderSize], crc)
	if _, err := p.file.WriteAt(buf, int64(slot)*PageSize); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.write_manifest", "write manifest page", err)
	}
	return nil
}

func (p *Pager) readManifestPage(slot ids.PageID) (Manifest, bool) {
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(slot)*PageSize); err != nil && err != io.EOF {
		return Manifest{}, false
	}
	storedCRC := binary.LittleEndian.Uint32(buf[:pageHeaderSize])
	payload := buf[pageHeaderSize:]
	if crc32.Checksum(payload, crcTable) != storedCRC {
		return Manifest{}, false
	}
	return decodeManifest(payload), true
}

func encodeManifest(m Manifest) []byte {
	buf := make([]byte, 0, 7*8+4*3)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.LSN))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.FreeListHead))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.IdMapRoot))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.LabelRoot))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.RelTypeRoot))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.SnapshotRoot))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.NextPageID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.NextNodeID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.NextLabelID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.NextRelTypeID))
	return buf
}

func decodeManifest(b []byte) Manifest {
	var m Manifest
	m.LSN = ids.LSN(binary.LittleEndian.Uint64(b[0:]))
	m.FreeListHead = ids.PageID(binary.LittleEndian.Uint64(b[8:]))
	m.IdMapRoot = ids.PageID(binary.LittleEndian.Uint64(b[16:]))
	m.LabelRoot = ids.PageID(binary.LittleEndian.Uint64(b[24:]))
	m.RelTypeRoot = ids.PageID(binary.LittleEndian.Uint64(b[32:]))
	m.SnapshotRoot = ids.PageID(binary.LittleEndian.Uint64(b[40:]))
	m.NextPageID = ids.PageID(binary.LittleEndian.Uint64(b[48:]))
	m.NextNodeID = ids.NodeID(binary.LittleEndian.Uint32(b[56:]))
	m.NextLabelID = ids.LabelID(binary.LittleEndian.Uint32(b[60:]))
	m.NextRelTypeID = ids.RelTypeID(binary.LittleEndian.Uint32(b[64:]))
	return m
}

// AllocPage reserves and returns a fresh page ID, pulling from the
// free list when possible, or growing the file otherwise.
func (p *Pager) AllocPage() (ids.PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.manifest.FreeListHead != ids.NilPage {
		head := p.manifest.FreeListHead
		next, err := p.readFreeListNext(head)
		if err != nil {
			return 0, err
		}
		p.manifest.FreeListHead = next
		return head, nil
	}
	id := p.manifest.NextPageID
	p.manifest.NextPageID++
	return id, nil
}

// FreePage returns a page to the free list, threading it onto the
// current head (spec.md §4.1's page-backed free list).
func (p *Pager) FreePage(id ids.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint64(buf[pageHeaderSize:], uint64(p.manifest.FreeListHead))
	crc := crc32.Checksum(buf[pageHeaderSize:], crcTable)
	binary.LittleEndian.PutUint32(buf[:pageHeaderSize], crc)
	if _, err := p.file.WriteAt(buf, int64(id)*PageSize); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.free", "write free-list node", err)
	}
	p.cache.Del(id)
	p.manifest.FreeListHead = id
	return nil
}

func (p *Pager) readFreeListNext(id ids.PageID) (ids.PageID, error) {
	buf, err := p.readPageRaw(id)
	if err != nil {
		return 0, err
	}
	return ids.PageID(binary.LittleEndian.Uint64(buf[pageHeaderSize:])), nil
}

// ReadPage reads and checksum-verifies one page, consulting the page
// cache first.
func (p *Pager) ReadPage(id ids.PageID) ([]byte, error) {
	if cached, ok := p.cache.Get(id); ok {
		out := make([]byte, len(cached))
		copy(out, cached)
		return out, nil
	}
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), buf[pageHeaderSize:]...)
	p.cache.Set(id, payload, PageSize)
	return payload, nil
}

func (p *Pager) readPageRaw(id ids.PageID) ([]byte, error) {
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		return nil, nverr.Wrap(nverr.Storage, "pager.read", fmt.Sprintf("read page %d", id), err)
	}
	storedCRC := binary.LittleEndian.Uint32(buf[:pageHeaderSize])
	payload := buf[pageHeaderSize:]
	if crc32.Checksum(payload, crcTable) != storedCRC {
		return nil, nverr.Wrap(nverr.Storage, "pager.checksum", fmt.Sprintf("page %d failed checksum", id), nverr.ErrCorrupted)
	}
	return buf, nil
}

// WritePage writes a full page's payload (must be exactly
// PageSize-pageHeaderSize bytes, zero-padded by the caller if
// shorter), computing and storing its checksum.
func (p *Pager) WritePage(id ids.PageID, payload []byte) error {
	if len(payload) != PageSize-pageHeaderSize {
		return nverr.New(nverr.Storage, "pager.write_size", fmt.Sprintf("payload must be %d bytes, got %d", PageSize-pageHeaderSize, len(payload)))
	}
	buf := make([]byte, PageSize)
	copy(buf[pageHeaderSize:], payload)
	crc := crc32.Checksum(payload, crcTable)
	binary.LittleEndian.PutUint32(buf[:pageHeaderSize], crc)
	if _, err := p.file.WriteAt(buf, int64(id)*PageSize); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.write", fmt.Sprintf("write page %d", id), err)
	}
	p.cache.Set(id, append([]byte(nil), payload...), PageSize)
	return nil
}

// Sync flushes outstanding writes to disk.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.sync", "fsync page file", err)
	}
	return nil
}

// Close releases the page cache and closes the backing file.
func (p *Pager) Close() error {
	p.cache.Close()
	if err := p.file.Close(); err != nil {
		return nverr.Wrap(nverr.Storage, "pager.close", "close page file", err)
	}
	return nil
}
