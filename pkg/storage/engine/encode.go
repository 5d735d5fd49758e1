package engine

import (
	"encoding/binary"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
	"github.com/ysankpia/nervusdb/pkg/storage/wal"
)

// walRecord is one pending (kind, payload) pair a WriteTxn has
// buffered for its eventual Commit. Encoding happens as each mutating
// call is made so Commit itself is just "append every record, then
// the commit marker" — no second pass over the MemTable is needed.
type walRecord struct {
	kind    wal.Kind
	payload []byte
}

func encodeCreateNode(ext ids.ExternalID, id ids.NodeID) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ext))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	return buf
}

func encodeDeleteNode(id ids.NodeID) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(id))
}

func encodeEdgeKey(buf []byte, key ids.EdgeKey) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Src))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Dst))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Rel))
	buf = binary.LittleEndian.AppendUint32(buf, key.Ord)
	return buf
}

func decodeEdgeKey(b []byte) ids.EdgeKey {
	return ids.EdgeKey{
		Src: ids.NodeID(binary.LittleEndian.Uint32(b[0:])),
		Dst: ids.NodeID(binary.LittleEndian.Uint32(b[4:])),
		Rel: ids.RelTypeID(binary.LittleEndian.Uint32(b[8:])),
		Ord: binary.LittleEndian.Uint32(b[12:]),
	}
}

func encodeSetNodeLabel(id ids.NodeID, label ids.LabelID, op ids.LabelOp) []byte {
	buf := make([]byte, 0, 9)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(label))
	buf = append(buf, byte(op))
	return buf
}

func encodeSetNodeProp(id ids.NodeID, key string, v value.Value) []byte {
	var codec value.Codec
	buf := make([]byte, 0, 16+len(key))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = codec.Encode(buf, v)
	return buf
}

func encodeSetEdgeProp(key ids.EdgeKey, propKey string, v value.Value) []byte {
	var codec value.Codec
	buf := make([]byte, 0, 24+len(propKey))
	buf = encodeEdgeKey(buf, key)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(propKey)))
	buf = append(buf, propKey...)
	buf = codec.Encode(buf, v)
	return buf
}

func encodeInternName(name string, id uint32) []byte {
	buf := make([]byte, 0, 8+len(name))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, id)
	return buf
}

func decodeInternName(b []byte) (name string, id uint32) {
	n := binary.LittleEndian.Uint32(b)
	name = string(b[4 : 4+n])
	id = binary.LittleEndian.Uint32(b[4+n:])
	return name, id
}

func decodeCreateNode(b []byte) (ext ids.ExternalID, id ids.NodeID) {
	ext = ids.ExternalID(binary.LittleEndian.Uint64(b[0:]))
	id = ids.NodeID(binary.LittleEndian.Uint32(b[8:]))
	return ext, id
}

func decodeDeleteNode(b []byte) ids.NodeID {
	return ids.NodeID(binary.LittleEndian.Uint32(b))
}

func decodeSetNodeLabel(b []byte) (id ids.NodeID, label ids.LabelID, op ids.LabelOp) {
	id = ids.NodeID(binary.LittleEndian.Uint32(b[0:]))
	label = ids.LabelID(binary.LittleEndian.Uint32(b[4:]))
	op = ids.LabelOp(b[8])
	return id, label, op
}

func decodeSetNodeProp(b []byte) (id ids.NodeID, key string, v value.Value, err error) {
	var codec value.Codec
	id = ids.NodeID(binary.LittleEndian.Uint32(b[0:]))
	klen := binary.LittleEndian.Uint32(b[4:])
	key = string(b[8 : 8+klen])
	v, _, err = codec.Decode(b[8+klen:])
	return id, key, v, err
}

func decodeSetEdgeProp(b []byte) (key ids.EdgeKey, propKey string, v value.Value, err error) {
	var codec value.Codec
	key = decodeEdgeKey(b)
	rest := b[16:]
	klen := binary.LittleEndian.Uint32(rest[0:])
	propKey = string(rest[4 : 4+klen])
	v, _, err = codec.Decode(rest[4+klen:])
	return key, propKey, v, err
}
