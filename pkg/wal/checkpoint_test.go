// pkg/wal/checkpoint_test.go
package wal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ckpt")

	entries := []CheckpointEntry{
		{Key: []byte("a"), Value: []byte("1"), WriterID: 1, CommitTS: 5},
		{Key: []byte("b"), Value: nil, WriterID: 2, CommitTS: 6, Tombstone: true},
		{Key: []byte("c"), Value: []byte("longer value"), WriterID: 3, CommitTS: 7},
	}
	if err := WriteCheckpoint(path, entries); err != nil {
		t.Fatal(err)
	}

	got, err := ReadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("read %d entries, want %d", len(got), len(entries))
	}
	for i, e := range got {
		want := entries[i]
		if !bytes.Equal(e.Key, want.Key) || !bytes.Equal(e.Value, want.Value) {
			t.Errorf("entry %d key/value = %q/%q, want %q/%q", i, e.Key, e.Value, want.Key, want.Value)
		}
		if e.WriterID != want.WriterID || e.CommitTS != want.CommitTS || e.Tombstone != want.Tombstone {
			t.Errorf("entry %d = %+v, want %+v", i, e, want)
		}
	}

	// No temporary file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary checkpoint file not cleaned up")
	}
}

func TestCheckpointEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ckpt")
	if err := WriteCheckpoint(path, nil); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want none", entries)
	}
}

func TestCheckpointMissingFileIsEmpty(t *testing.T) {
	entries, err := ReadCheckpoint(filepath.Join(t.TempDir(), "absent.ckpt"))
	if err != nil {
		t.Fatalf("err = %v, want nil for a missing checkpoint", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestCheckpointCorruptionDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ckpt")
	entries := []CheckpointEntry{
		{Key: []byte("a"), Value: []byte("1"), WriterID: 1, CommitTS: 5},
	}
	if err := WriteCheckpoint(path, entries); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Flip one payload byte.
	flipped := append([]byte(nil), data...)
	flipped[checkpointHeaderSize+4] ^= 0xff
	if err := os.WriteFile(path, flipped, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCheckpoint(path); !errors.Is(err, ErrCorrupted) {
		t.Errorf("payload flip err = %v, want ErrCorrupted", err)
	}

	// Truncate the footer.
	if err := os.WriteFile(path, data[:len(data)-4], 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCheckpoint(path); !errors.Is(err, ErrCorrupted) {
		t.Errorf("truncated footer err = %v, want ErrCorrupted", err)
	}

	// Wrong magic.
	bad := append([]byte(nil), data...)
	bad[0] = 0
	if err := os.WriteFile(path, bad, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCheckpoint(path); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("bad magic err = %v, want ErrInvalidMagic", err)
	}
}
