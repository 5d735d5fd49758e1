package pager

import (
	"encoding/binary"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

// WriteBlob spreads an arbitrary byte slice across as many freshly
// allocated pages as it takes, each prefixed with its used-byte count,
// and returns the first page's ID. Engine uses this for the manifest's
// IdMapRoot/LabelRoot/RelTypeRoot/SnapshotRoot pointers: none of those
// structures are page-tree-shaped, so whole-blob spread-and-reassemble
// is simpler than teaching the pager a second on-disk format.
func WriteBlob(p *Pager, data []byte) (ids.PageID, error) {
	pageCap := PageSize - pageHeaderSize - 12 // 4-byte chunk len + 8-byte next-page pointer
	numPages := (len(data) + pageCap - 1) / pageCap
	if numPages == 0 {
		numPages = 1
	}

	pageIDs := make([]ids.PageID, numPages)
	for i := range pageIDs {
		id, err := p.AllocPage()
		if err != nil {
			return 0, err
		}
		pageIDs[i] = id
	}

	for i := 0; i < numPages; i++ {
		start := i * pageCap
		end := start + pageCap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		next := ids.NilPage
		if i+1 < numPages {
			next = pageIDs[i+1]
		}

		payload := make([]byte, PageSize-pageHeaderSize)
		binary.LittleEndian.PutUint32(payload[:4], uint32(len(chunk)))
		binary.LittleEndian.PutUint64(payload[4:12], uint64(next))
		copy(payload[12:], chunk)
		if err := p.WritePage(pageIDs[i], payload); err != nil {
			return 0, err
		}
	}
	return pageIDs[0], nil
}

// ReadBlob reassembles a blob previously written with WriteBlob, given
// its first page's ID.
func ReadBlob(p *Pager, first ids.PageID) ([]byte, error) {
	var out []byte
	page := first
	for page != ids.NilPage {
		raw, err := p.ReadPage(page)
		if err != nil {
			return nil, err
		}
		if len(raw) < 12 {
			return nil, nverr.New(nverr.Storage, "pager.blob_truncated", "blob page shorter than its header")
		}
		chunkLen := binary.LittleEndian.Uint32(raw[:4])
		next := ids.PageID(binary.LittleEndian.Uint64(raw[4:12]))
		out = append(out, raw[12:12+chunkLen]...)
		page = next
	}
	return out, nil
}
