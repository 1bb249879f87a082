// pkg/wal/wal.go
// Package wal implements the append-only write-ahead log the
// transaction engine replays at startup.
//
// # FILE FORMAT
//
// A log file is a 32-byte header followed by zero or more records.
// All values are little-endian.
//
// The header:
//
//	0-3:   Magic number (0x5d21a701)
//	4-7:   File format version (1)
//	8-11:  Checkpoint sequence number (incremented on every Reset)
//	12-15: Salt-1 (random, changed with each checkpoint)
//	16-19: Salt-2 (random, changed with each checkpoint)
//	20-23: Reserved (zero)
//	24-27: Checksum-1 (first part of header checksum)
//	28-31: Checksum-2 (second part of header checksum)
//
// Each record is a 4-byte payload length, the payload (see record.go),
// and an 8-byte checksum pair. The checksum runs cumulatively from the
// header checksum through every payload, so a record from a previous
// checkpoint generation can never be mistaken for a live one.
//
// A record that is incomplete at the end of the file is a torn tail
// from a crash mid-append; it was never acknowledged and is truncated
// away on open. A complete record whose checksum does not match is
// corruption and surfaces as ErrCorrupted: recovery halts rather than
// silently skipping records.
package wal

import (
	"errors"
	"io"
	"math/rand"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the log header in bytes.
	HeaderSize = 32

	// MagicNumber identifies a strata log file.
	MagicNumber = 0x5d21a701

	// Version is the log file format version.
	Version = 1

	// recordOverhead is the per-record framing: length prefix plus
	// checksum pair.
	recordOverhead = 4 + 8

	// maxRecordSize bounds a single record payload. A length prefix
	// beyond it is treated as corruption.
	maxRecordSize = 1 << 30
)

var (
	ErrInvalidMagic   = errors.New("invalid log magic number")
	ErrInvalidVersion = errors.New("invalid log version")

	// ErrCorrupted is returned when a complete record or the header
	// fails its integrity check. Recovery must halt on it.
	ErrCorrupted = errors.New("log corrupted: checksum mismatch")
)

// WAL is an append-only record log.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string

	ckptSeq uint32
	salt1   uint32
	salt2   uint32

	// Running checksum over the header and every appended payload.
	checksum1 uint32
	checksum2 uint32

	size        int64 // End of the last valid record
	recordCount uint64
}

// Open opens or creates a log file. Opening an existing file scans it
// to the end of the last valid record, truncating a torn tail; a
// checksum failure on a complete record fails with ErrCorrupted.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return create(path)
		}
		return nil, pkgerrors.Wrap(err, "opening log")
	}

	w := &WAL{file: file, path: path}
	if err := w.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	if err := w.scan(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

func create(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating log")
	}

	w := &WAL{
		file:    file,
		path:    path,
		ckptSeq: 1,
		salt1:   rand.Uint32(),
		salt2:   rand.Uint32(),
		size:    HeaderSize,
	}
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) writeHeader() error {
	header := encodeHeader(w.ckptSeq, w.salt1, w.salt2)
	w.checksum1, w.checksum2 = logChecksum(header[0:24], 0, 0)
	putUint32(header[24:28], w.checksum1)
	putUint32(header[28:32], w.checksum2)

	if _, err := w.file.WriteAt(header, 0); err != nil {
		return pkgerrors.Wrap(err, "writing log header")
	}
	return w.sync()
}

func (w *WAL) readHeader() error {
	header := make([]byte, HeaderSize)
	n, err := w.file.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return pkgerrors.Wrap(err, "reading log header")
	}
	if n < HeaderSize {
		return ErrCorrupted
	}

	if getUint32(header[0:4]) != MagicNumber {
		return ErrInvalidMagic
	}
	if getUint32(header[4:8]) != Version {
		return ErrInvalidVersion
	}

	w.ckptSeq = getUint32(header[8:12])
	w.salt1 = getUint32(header[12:16])
	w.salt2 = getUint32(header[16:20])

	stored1 := getUint32(header[24:28])
	stored2 := getUint32(header[28:32])
	computed1, computed2 := logChecksum(header[0:24], 0, 0)
	if stored1 != computed1 || stored2 != computed2 {
		return ErrCorrupted
	}

	w.checksum1, w.checksum2 = stored1, stored2
	return nil
}

// scan walks every record to position the running checksum and the
// append offset, truncating a torn tail.
func (w *WAL) scan() error {
	count, end, s1, s2, _, err := w.walk(nil)
	if err != nil {
		return err
	}

	info, statErr := w.file.Stat()
	if statErr != nil {
		return pkgerrors.Wrap(statErr, "scanning log")
	}
	if info.Size() > end {
		if err := w.file.Truncate(end); err != nil {
			return pkgerrors.Wrap(err, "truncating torn log tail")
		}
	}

	w.recordCount = count
	w.size = end
	w.checksum1, w.checksum2 = s1, s2
	return nil
}

// walk iterates valid records from the header onward, invoking fn for
// each when non-nil. It returns the record count, the offset past the
// last valid record, and the running checksum state at that point.
// A complete record failing its checksum or failing to decode returns
// ErrCorrupted; an incomplete trailing record ends the walk cleanly.
func (w *WAL) walk(fn func(Record)) (count uint64, end int64, s1, s2 uint32, torn bool, err error) {
	info, statErr := w.file.Stat()
	if statErr != nil {
		return 0, 0, 0, 0, false, pkgerrors.Wrap(statErr, "walking log")
	}
	fileSize := info.Size()

	end = HeaderSize
	s1, s2 = headerChecksum(w.ckptSeq, w.salt1, w.salt2)

	for {
		if fileSize-end < 4 {
			torn = fileSize > end
			return count, end, s1, s2, torn, nil
		}

		lenBuf := make([]byte, 4)
		if _, err := w.file.ReadAt(lenBuf, end); err != nil {
			return 0, 0, 0, 0, false, pkgerrors.Wrap(err, "reading record length")
		}
		payloadLen := int64(getUint32(lenBuf))
		if payloadLen == 0 || payloadLen > maxRecordSize {
			return 0, 0, 0, 0, false, ErrCorrupted
		}

		if fileSize-end < 4+payloadLen+8 {
			// Torn tail: the record never finished writing.
			return count, end, s1, s2, true, nil
		}

		payload := make([]byte, payloadLen)
		if _, err := w.file.ReadAt(payload, end+4); err != nil {
			return 0, 0, 0, 0, false, pkgerrors.Wrap(err, "reading record payload")
		}
		ckBuf := make([]byte, 8)
		if _, err := w.file.ReadAt(ckBuf, end+4+payloadLen); err != nil {
			return 0, 0, 0, 0, false, pkgerrors.Wrap(err, "reading record checksum")
		}

		next1, next2 := logChecksum(payload, s1, s2)
		if getUint32(ckBuf[0:4]) != next1 || getUint32(ckBuf[4:8]) != next2 {
			return 0, 0, 0, 0, false, ErrCorrupted
		}

		rec, ok := decodeRecord(payload)
		if !ok {
			return 0, 0, 0, 0, false, ErrCorrupted
		}
		if fn != nil {
			fn(rec)
		}

		s1, s2 = next1, next2
		end += 4 + payloadLen + 8
		count++
	}
}

// Append writes a record to the log without forcing it to disk.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.append(rec)
}

// AppendSync writes a record and forces the log to stable storage
// before returning. Terminal commit records use this: no transaction is
// reported committed before its record is durable.
func (w *WAL) AppendSync(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.append(rec); err != nil {
		return err
	}
	return w.sync()
}

func (w *WAL) append(rec Record) error {
	payload := rec.encode()

	next1, next2 := logChecksum(payload, w.checksum1, w.checksum2)

	frame := make([]byte, 4+len(payload)+8)
	putUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:], payload)
	putUint32(frame[4+len(payload):], next1)
	putUint32(frame[4+len(payload)+4:], next2)

	if _, err := w.file.WriteAt(frame, w.size); err != nil {
		return pkgerrors.Wrap(err, "appending log record")
	}

	w.checksum1, w.checksum2 = next1, next2
	w.size += int64(len(frame))
	w.recordCount++
	return nil
}

// Sync forces all appended records to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sync()
}

// ReadAll returns every valid record in append order. A complete record
// with a bad checksum fails with ErrCorrupted; an incomplete trailing
// record is treated as the end of the log.
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var records []Record
	_, _, _, _, _, err := w.walk(func(rec Record) {
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Reset truncates the log after a checkpoint: the checkpoint sequence
// is bumped, the salts are replaced, and every existing record becomes
// unreadable by construction.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ckptSeq++
	w.salt1 = rand.Uint32()
	w.salt2 = rand.Uint32()
	w.recordCount = 0
	w.size = HeaderSize

	if err := w.file.Truncate(HeaderSize); err != nil {
		return pkgerrors.Wrap(err, "truncating log")
	}
	return w.writeHeader()
}

// RecordCount returns the number of valid records in the log.
func (w *WAL) RecordCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recordCount
}

// CheckpointSeq returns the current checkpoint sequence number.
func (w *WAL) CheckpointSeq() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ckptSeq
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.sync(); err != nil {
		w.file.Close()
		w.file = nil
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func encodeHeader(ckptSeq, salt1, salt2 uint32) []byte {
	header := make([]byte, HeaderSize)
	putUint32(header[0:4], MagicNumber)
	putUint32(header[4:8], Version)
	putUint32(header[8:12], ckptSeq)
	putUint32(header[12:16], salt1)
	putUint32(header[16:20], salt2)
	return header
}

func headerChecksum(ckptSeq, salt1, salt2 uint32) (uint32, uint32) {
	header := encodeHeader(ckptSeq, salt1, salt2)
	return logChecksum(header[0:24], 0, 0)
}

// logChecksum computes the running checksum used to chain records to
// the header. Same fibonacci-weight scheme as the SQLite WAL checksum.
// Odd-length input is zero-padded into a copy; the caller's buffer,
// which may be a sub-slice of a larger read, is never written to.
func logChecksum(data []byte, s0, s1 uint32) (uint32, uint32) {
	if len(data)%4 != 0 {
		padded := make([]byte, (len(data)+3)&^3)
		copy(padded, data)
		data = padded
	}

	for i := 0; i < len(data); i += 8 {
		var x0, x1 uint32
		x0 = getUint32(data[i : i+4])
		if i+4 < len(data) {
			x1 = getUint32(data[i+4 : i+8])
		}
		s0 += x0 + s1
		s1 += x1 + s0
	}
	return s0, s1
}
