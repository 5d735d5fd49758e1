package engine

import (
	"encoding/binary"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

// encodeSegmentRoots/decodeSegmentRoots flatten the manifest's ordered
// list of segment footer pages (newest first) into the single blob
// SnapshotRoot points at.
func encodeSegmentRoots(roots []ids.PageID) []byte {
	buf := make([]byte, 0, 4+len(roots)*8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(roots)))
	for _, r := range roots {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r))
	}
	return buf
}

func decodeSegmentRoots(data []byte) ([]ids.PageID, error) {
	if len(data) < 4 {
		return nil, nverr.New(nverr.Storage, "engine.decode_roots", "truncated segment root list")
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	out := make([]ids.PageID, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 8 {
			return nil, nverr.New(nverr.Storage, "engine.decode_roots", "truncated segment root entry")
		}
		out = append(out, ids.PageID(binary.LittleEndian.Uint64(data)))
		data = data[8:]
	}
	return out, nil
}
