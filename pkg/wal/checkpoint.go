// pkg/wal/checkpoint.go
//
// A checkpoint bounds recovery time: it snapshots the newest committed
// version of every key, after which the log can be reset. The file is
// a header, one entry per key, and a trailing running checksum. It is
// written to a temporary file and renamed into place so a crash during
// checkpointing never leaves a half-written snapshot behind.
package wal

import (
	"encoding/binary"
	"os"

	pkgerrors "github.com/pkg/errors"
)

const (
	// CheckpointMagic identifies a strata checkpoint file.
	CheckpointMagic = 0x5d21a702

	checkpointHeaderSize = 16 // magic, version, entry count (8 bytes)
)

// CheckpointEntry is one key's newest committed state.
type CheckpointEntry struct {
	Key       []byte
	Value     []byte
	WriterID  uint64
	CommitTS  uint64
	Tombstone bool
}

func (e *CheckpointEntry) encode() []byte {
	buf := make([]byte, 4+len(e.Key)+4+len(e.Value)+8+8+1)

	off := 0
	putUint32(buf[off:], uint32(len(e.Key)))
	off += 4
	copy(buf[off:], e.Key)
	off += len(e.Key)
	putUint32(buf[off:], uint32(len(e.Value)))
	off += 4
	copy(buf[off:], e.Value)
	off += len(e.Value)
	binary.LittleEndian.PutUint64(buf[off:], e.WriterID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], e.CommitTS)
	off += 8
	if e.Tombstone {
		buf[off] = 1
	}
	return buf
}

// WriteCheckpoint writes the entries to path atomically.
func WriteCheckpoint(path string, entries []CheckpointEntry) error {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrap(err, "creating checkpoint")
	}
	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tmpPath)
		}
	}()

	header := make([]byte, checkpointHeaderSize)
	putUint32(header[0:4], CheckpointMagic)
	putUint32(header[4:8], Version)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(entries)))
	if _, err := file.Write(header); err != nil {
		return pkgerrors.Wrap(err, "writing checkpoint header")
	}

	s1, s2 := logChecksum(header, 0, 0)
	for i := range entries {
		payload := entries[i].encode()

		lenBuf := make([]byte, 4)
		putUint32(lenBuf, uint32(len(payload)))
		if _, err := file.Write(lenBuf); err != nil {
			return pkgerrors.Wrap(err, "writing checkpoint entry")
		}
		if _, err := file.Write(payload); err != nil {
			return pkgerrors.Wrap(err, "writing checkpoint entry")
		}
		s1, s2 = logChecksum(payload, s1, s2)
	}

	footer := make([]byte, 8)
	putUint32(footer[0:4], s1)
	putUint32(footer[4:8], s2)
	if _, err := file.Write(footer); err != nil {
		return pkgerrors.Wrap(err, "writing checkpoint footer")
	}

	if err := file.Sync(); err != nil {
		return pkgerrors.Wrap(err, "syncing checkpoint")
	}
	if err := file.Close(); err != nil {
		file = nil
		os.Remove(tmpPath)
		return pkgerrors.Wrap(err, "closing checkpoint")
	}
	file = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return pkgerrors.Wrap(err, "installing checkpoint")
	}
	return nil
}

// ReadCheckpoint loads the entries from path. A missing file is an
// empty checkpoint. Any integrity failure surfaces as ErrCorrupted.
func ReadCheckpoint(path string) ([]CheckpointEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "reading checkpoint")
	}

	if len(data) < checkpointHeaderSize+8 {
		return nil, ErrCorrupted
	}
	if getUint32(data[0:4]) != CheckpointMagic {
		return nil, ErrInvalidMagic
	}
	if getUint32(data[4:8]) != Version {
		return nil, ErrInvalidVersion
	}
	count := binary.LittleEndian.Uint64(data[8:16])

	s1, s2 := logChecksum(data[0:checkpointHeaderSize], 0, 0)
	off := checkpointHeaderSize

	entries := make([]CheckpointEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(data)-off < 4 {
			return nil, ErrCorrupted
		}
		payloadLen := int(getUint32(data[off : off+4]))
		off += 4
		if payloadLen <= 0 || len(data)-off < payloadLen {
			return nil, ErrCorrupted
		}
		payload := data[off : off+payloadLen]
		off += payloadLen

		entry, ok := decodeCheckpointEntry(payload)
		if !ok {
			return nil, ErrCorrupted
		}
		entries = append(entries, entry)
		s1, s2 = logChecksum(payload, s1, s2)
	}

	if len(data)-off != 8 {
		return nil, ErrCorrupted
	}
	if getUint32(data[off:off+4]) != s1 || getUint32(data[off+4:off+8]) != s2 {
		return nil, ErrCorrupted
	}
	return entries, nil
}

func decodeCheckpointEntry(buf []byte) (CheckpointEntry, bool) {
	if len(buf) < 4+4+8+8+1 {
		return CheckpointEntry{}, false
	}

	off := 0
	keyLen := int(getUint32(buf[off : off+4]))
	off += 4
	if len(buf)-off < keyLen+4 {
		return CheckpointEntry{}, false
	}
	key := make([]byte, keyLen)
	copy(key, buf[off:off+keyLen])
	off += keyLen

	valLen := int(getUint32(buf[off : off+4]))
	off += 4
	if len(buf)-off != valLen+8+8+1 {
		return CheckpointEntry{}, false
	}
	var value []byte
	if valLen > 0 {
		value = make([]byte, valLen)
		copy(value, buf[off:off+valLen])
	}
	off += valLen

	entry := CheckpointEntry{
		Key:       key,
		Value:     value,
		WriterID:  binary.LittleEndian.Uint64(buf[off : off+8]),
		CommitTS:  binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		Tombstone: buf[off+16] == 1,
	}
	return entry, true
}
