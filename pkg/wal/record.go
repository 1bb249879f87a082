// pkg/wal/record.go
package wal

import "encoding/binary"

// Kind identifies a log record type.
type Kind uint8

const (
	// KindBegin marks the start of a transaction.
	KindBegin Kind = iota + 1
	// KindPut records a key write.
	KindPut
	// KindDelete records a deletion marker write.
	KindDelete
	// KindCommit is the terminal record of a committed transaction and
	// carries its commit timestamp.
	KindCommit
	// KindAbort is the terminal record of an aborted transaction.
	KindAbort
)

// String returns a string representation of the record kind.
func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN"
	case KindPut:
		return "PUT"
	case KindDelete:
		return "DELETE"
	case KindCommit:
		return "COMMIT"
	case KindAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Record is a single logical log entry. The log's append order is the
// durability order: it is the sole ordering authority during recovery.
type Record struct {
	Kind     Kind
	TxnID    uint64
	CommitTS uint64 // Set on KindCommit only
	Key      []byte // Set on KindPut/KindDelete
	Value    []byte // Set on KindPut
}

// Payload layout, little-endian:
//
//	0:     kind (1 byte)
//	1-8:   transaction ID
//	9-16:  commit timestamp (0 except for COMMIT)
//	17-20: key length
//	...    key bytes
//	+4:    value length
//	...    value bytes
const recordFixedSize = 1 + 8 + 8 + 4 + 4

// encode serializes the record payload.
func (r *Record) encode() []byte {
	buf := make([]byte, recordFixedSize+len(r.Key)+len(r.Value))

	buf[0] = byte(r.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], r.TxnID)
	binary.LittleEndian.PutUint64(buf[9:17], r.CommitTS)

	off := 17
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Key)))
	off += 4
	copy(buf[off:], r.Key)
	off += len(r.Key)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Value)))
	off += 4
	copy(buf[off:], r.Value)

	return buf
}

// decodeRecord parses a record payload. Returns false when the payload
// is structurally invalid.
func decodeRecord(buf []byte) (Record, bool) {
	if len(buf) < recordFixedSize {
		return Record{}, false
	}

	rec := Record{
		Kind:     Kind(buf[0]),
		TxnID:    binary.LittleEndian.Uint64(buf[1:9]),
		CommitTS: binary.LittleEndian.Uint64(buf[9:17]),
	}
	if rec.Kind < KindBegin || rec.Kind > KindAbort {
		return Record{}, false
	}

	off := 17
	keyLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+keyLen+4 > len(buf) {
		return Record{}, false
	}
	if keyLen > 0 {
		rec.Key = make([]byte, keyLen)
		copy(rec.Key, buf[off:off+keyLen])
	}
	off += keyLen

	valLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+valLen != len(buf) {
		return Record{}, false
	}
	if valLen > 0 {
		rec.Value = make([]byte, valLen)
		copy(rec.Value, buf[off:off+valLen])
	}

	return rec, true
}
