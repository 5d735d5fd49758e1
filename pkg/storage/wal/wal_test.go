package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)

	_, err = w.Append(1, KindCreateNode, []byte("node-a"))
	require.NoError(t, err)
	_, err = w.Append(1, KindCreateNode, []byte("node-b"))
	require.NoError(t, err)
	_, err = w.Append(1, KindTxnCommit, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var got []Record
	validBytes, err := Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, KindCreateNode, got[0].Kind)
	require.Equal(t, []byte("node-a"), got[0].Payload)
	require.Equal(t, KindTxnCommit, got[2].Kind)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), validBytes)
}

func TestReplayStopsAtCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)
	_, err = w.Append(1, KindCreateNode, []byte("good-record"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	goodSize, err := os.Stat(path)
	require.NoError(t, err)

	// Append a second record, then flip a byte inside it to simulate
	// on-disk corruption.
	w2, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)
	_, err = w2.Append(1, KindCreateNode, []byte("corrupted-record"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xAB}, goodSize.Size()+10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []Record
	validBytes, err := Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("good-record"), got[0].Payload)
	require.Equal(t, goodSize.Size(), validBytes)
}

func TestReplayStopsAtTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)
	_, err = w.Append(1, KindCreateNode, []byte("whole-record"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, full[:len(full)-3], 0o644))

	var got []Record
	validBytes, err := Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, int64(0), validBytes)
}

func TestTruncateDiscardsCorruptTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)
	_, err = w.Append(1, KindCreateNode, []byte("first"))
	require.NoError(t, err)
	firstEnd, err := os.Stat(path)
	require.NoError(t, err)
	_, err = w.Append(1, KindCreateNode, []byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, Truncate(path, firstEnd.Size()))

	var got []Record
	_, err = Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("first"), got[0].Payload)
}

func TestStatsTrackCounters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path, config.Sync, logr.Discard())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(ids.TxID(1), KindCreateNode, []byte("x"))
	require.NoError(t, err)

	stats := w.Stats()
	require.Equal(t, int64(1), stats.EntryCount)
	require.Greater(t, stats.BytesWritten, int64(0))
	require.Equal(t, int64(1), stats.TotalSyncs)
}
