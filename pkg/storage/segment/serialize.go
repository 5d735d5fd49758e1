package segment

import (
	"encoding/binary"
	"sort"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/bloom"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/pager"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

// WriteTo serializes the segment as one s2-compressed body spread
// across as many fixed pages as it takes, with a small footer page
// recording the body's page range and its compressed/uncompressed
// lengths (spec.md §4.4's page-aligned on-disk layout). It returns the
// footer page's ID, the only pointer a manifest needs to retain.
func (s *Segment) WriteTo(p *pager.Pager) (ids.PageID, error) {
	body := s.encodeBody()
	compressed := compressBlock(body)

	pageCap := pager.PageSize - 4 - 4 // page checksum header, then a 4-byte length prefix of the used bytes
	numPages := (len(compressed) + pageCap - 1) / pageCap
	if numPages == 0 {
		numPages = 1
	}

	firstPage := ids.NilPage
	for i := 0; i < numPages; i++ {
		id, err := p.AllocPage()
		if err != nil {
			return 0, err
		}
		if firstPage == ids.NilPage {
			firstPage = id
		}

		start := i * pageCap
		end := start + pageCap
		if end > len(compressed) {
			end = len(compressed)
		}
		chunk := compressed[start:end]

		payload := make([]byte, pager.PageSize-4)
		binary.LittleEndian.PutUint32(payload[:4], uint32(len(chunk)))
		copy(payload[4:], chunk)
		if err := p.WritePage(id, padTo(payload, pager.PageSize-4)); err != nil {
			return 0, err
		}
	}

	footerID, err := p.AllocPage()
	if err != nil {
		return 0, err
	}
	footer := make([]byte, 0, 64)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(firstPage))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(numPages))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(compressed)))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(body)))
	if err := p.WritePage(footerID, padTo(footer, pager.PageSize-4)); err != nil {
		return 0, err
	}
	return footerID, nil
}

// ReadFrom reconstructs a Segment previously written with WriteTo,
// given its footer page ID.
func ReadFrom(p *pager.Pager, footerPage ids.PageID) (*Segment, error) {
	footer, err := p.ReadPage(footerPage)
	if err != nil {
		return nil, err
	}
	firstPage := ids.PageID(binary.LittleEndian.Uint64(footer[0:]))
	numPages := binary.LittleEndian.Uint32(footer[8:])
	compressedLen := binary.LittleEndian.Uint32(footer[12:])
	bodyLen := binary.LittleEndian.Uint32(footer[16:])

	compressed := make([]byte, 0, compressedLen)
	page := firstPage
	for i := uint32(0); i < numPages; i++ {
		raw, err := p.ReadPage(page)
		if err != nil {
			return nil, err
		}
		chunkLen := binary.LittleEndian.Uint32(raw[:4])
		compressed = append(compressed, raw[4:4+chunkLen]...)
		page++
	}
	if uint32(len(compressed)) != compressedLen {
		return nil, nverr.New(nverr.Storage, "segment.read_length", "segment body length mismatch across pages")
	}

	body, err := decompressBlock(compressed, int(bodyLen))
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// encodeBody flattens every field of Segment into one self-describing
// buffer, encoded before compression so the compressor sees the
// repetitive integer arrays (row_ptr/col_idx) contiguously.
func (s *Segment) encodeBody() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Version))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.MinNode))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.MaxNode))

	buf = appendUint32Slice(buf, toUint32Slice(s.RowPtr))
	buf = appendUint32Slice(buf, nodeIDsToUint32(s.ColIdx))
	buf = appendUint32Slice(buf, relTypesToUint32(s.RelType))
	buf = appendUint32Slice(buf, s.Ordinal)

	buf = appendUint32Slice(buf, toUint32Slice(s.InRowPtr))
	buf = appendUint32Slice(buf, nodeIDsToUint32(s.InColIdx))
	buf = appendUint32Slice(buf, relTypesToUint32(s.InRelType))
	buf = appendUint32Slice(buf, s.InOrdinal)

	liveNodeIDs := sortedNodeIDs(s.LiveNodes)
	buf = appendUint32Slice(buf, nodeIDsToUint32(liveNodeIDs))

	tombNodeIDs := sortedNodeIDs(s.TombstoneNodes)
	buf = appendUint32Slice(buf, nodeIDsToUint32(tombNodeIDs))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.TombstoneEdges)))
	for _, key := range sortedEdgeKeys(s.TombstoneEdges) {
		buf = appendEdgeKey(buf, key)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.NodeLabels)))
	for _, id := range liveNodeIDs {
		labels, ok := s.NodeLabels[id]
		if !ok {
			continue
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(labels)))
		for _, l := range labels {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(l))
		}
	}

	var codec value.Codec
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.nodeProps)))
	for _, id := range sortedNodeIDs(s.nodeProps) {
		props := s.nodeProps[id]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
		buf = encodePropMap(buf, props, codec)
	}

	edgeKeysWithProps := make([]ids.EdgeKey, 0, len(s.edgeProps))
	for k := range s.edgeProps {
		edgeKeysWithProps = append(edgeKeysWithProps, k)
	}
	sort.Slice(edgeKeysWithProps, func(i, j int) bool { return edgeKeysWithProps[i].Less(edgeKeysWithProps[j]) })
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(edgeKeysWithProps)))
	for _, k := range edgeKeysWithProps {
		buf = appendEdgeKey(buf, k)
		buf = encodePropMap(buf, s.edgeProps[k], codec)
	}

	if s.BloomNodes != nil {
		bn := s.BloomNodes.Serialize()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bn)))
		buf = append(buf, bn...)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	if s.BloomEdges != nil {
		be := s.BloomEdges.Serialize()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(be)))
		buf = append(buf, be...)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}

	return buf
}

func decodeBody(b []byte) (*Segment, error) {
	s := &Segment{
		nodeProps: make(map[ids.NodeID]map[string]value.Value),
		edgeProps: make(map[ids.EdgeKey]map[string]value.Value),
		LiveNodes: make(map[ids.NodeID]struct{}),
		TombstoneNodes: make(map[ids.NodeID]struct{}),
		TombstoneEdges: make(map[ids.EdgeKey]struct{}),
		NodeLabels: make(map[ids.NodeID][]ids.LabelID),
	}
	r := &reader{b: b}

	s.Version = ids.LSN(r.u64())
	s.MinNode = ids.NodeID(r.u32())
	s.MaxNode = ids.NodeID(r.u32())

	s.RowPtr = r.u32slice()
	s.ColIdx = u32sToNodeIDs(r.u32slice())
	s.RelType = u32sToRelTypes(r.u32slice())
	s.Ordinal = r.u32slice()

	s.InRowPtr = r.u32slice()
	s.InColIdx = u32sToNodeIDs(r.u32slice())
	s.InRelType = u32sToRelTypes(r.u32slice())
	s.InOrdinal = r.u32slice()

	for _, id := range u32sToNodeIDs(r.u32slice()) {
		s.LiveNodes[id] = struct{}{}
	}
	for _, id := range u32sToNodeIDs(r.u32slice()) {
		s.TombstoneNodes[id] = struct{}{}
	}

	tombEdgeCount := r.u32()
	for i := uint32(0); i < tombEdgeCount; i++ {
		s.TombstoneEdges[r.edgeKey()] = struct{}{}
	}

	labelNodeCount := r.u32()
	for i := uint32(0); i < labelNodeCount; i++ {
		id := ids.NodeID(r.u32())
		n := r.u32()
		labels := make([]ids.LabelID, 0, n)
		for j := uint32(0); j < n; j++ {
			labels = append(labels, ids.LabelID(r.u32()))
		}
		s.NodeLabels[id] = labels
	}

	var codec value.Codec
	nodePropCount := r.u32()
	for i := uint32(0); i < nodePropCount; i++ {
		id := ids.NodeID(r.u32())
		s.nodeProps[id] = r.propMap(codec)
	}

	edgePropCount := r.u32()
	for i := uint32(0); i < edgePropCount; i++ {
		key := r.edgeKey()
		s.edgeProps[key] = r.propMap(codec)
	}

	bnLen := r.u32()
	if bnLen > 0 {
		bf, err := bloom.Deserialize(r.bytes(int(bnLen)))
		if err != nil {
			return nil, err
		}
		s.BloomNodes = bf
	}
	beLen := r.u32()
	if beLen > 0 {
		bf, err := bloom.Deserialize(r.bytes(int(beLen)))
		if err != nil {
			return nil, err
		}
		s.BloomEdges = bf
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

func encodePropMap(buf []byte, props map[string]value.Value, codec value.Codec) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(props)))
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = codec.Encode(buf, props[k])
	}
	return buf
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = nverr.New(nverr.Storage, "segment.decode", msg)
	}
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.b) {
		r.fail("truncated u32")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || r.off+8 > len(r.b) {
		r.fail("truncated u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || r.off+n > len(r.b) {
		r.fail("truncated bytes")
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u32slice() []uint32 {
	n := r.u32()
	out := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.u32())
	}
	return out
}

func (r *reader) edgeKey() ids.EdgeKey {
	return ids.EdgeKey{
		Src: ids.NodeID(r.u32()),
		Dst: ids.NodeID(r.u32()),
		Rel: ids.RelTypeID(r.u32()),
		Ord: r.u32(),
	}
}

func (r *reader) propMap(codec value.Codec) map[string]value.Value {
	n := r.u32()
	m := make(map[string]value.Value, n)
	for i := uint32(0); i < n; i++ {
		klen := r.u32()
		key := string(r.bytes(int(klen)))
		v, rest, err := codec.Decode(r.b[r.off:])
		if err != nil {
			r.fail(err.Error())
			return m
		}
		r.off = len(r.b) - len(rest)
		m[key] = v
	}
	return m
}

func appendUint32Slice(buf []byte, s []uint32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	for _, v := range s {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

func appendEdgeKey(buf []byte, k ids.EdgeKey) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k.Src))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k.Dst))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k.Rel))
	buf = binary.LittleEndian.AppendUint32(buf, k.Ord)
	return buf
}

func toUint32Slice(s []uint32) []uint32 { return s }

func nodeIDsToUint32(s []ids.NodeID) []uint32 {
	out := make([]uint32, len(s))
	for i, v := range s {
		out[i] = uint32(v)
	}
	return out
}

func u32sToNodeIDs(s []uint32) []ids.NodeID {
	out := make([]ids.NodeID, len(s))
	for i, v := range s {
		out[i] = ids.NodeID(v)
	}
	return out
}

func relTypesToUint32(s []ids.RelTypeID) []uint32 {
	out := make([]uint32, len(s))
	for i, v := range s {
		out[i] = uint32(v)
	}
	return out
}

func u32sToRelTypes(s []uint32) []ids.RelTypeID {
	out := make([]ids.RelTypeID, len(s))
	for i, v := range s {
		out[i] = ids.RelTypeID(v)
	}
	return out
}

func sortedNodeIDs[T any](m map[ids.NodeID]T) []ids.NodeID {
	out := make([]ids.NodeID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedEdgeKeys(m map[ids.EdgeKey]struct{}) []ids.EdgeKey {
	out := make([]ids.EdgeKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
