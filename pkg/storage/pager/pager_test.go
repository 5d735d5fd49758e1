package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "db.pages"), 64, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocWriteReadPage(t *testing.T) {
	p := openTestPager(t)

	id, err := p.AllocPage()
	require.NoError(t, err)
	require.GreaterOrEqual(t, id, firstDataPage)

	payload := make([]byte, PageSize-pageHeaderSize)
	copy(payload, []byte("hello page"))
	require.NoError(t, p.WritePage(id, payload))

	got, err := p.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadPageDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.pages")
	p, err := Open(path, 64, logr.Discard())
	require.NoError(t, err)

	id, err := p.AllocPage()
	require.NoError(t, err)
	payload := make([]byte, PageSize-pageHeaderSize)
	copy(payload, []byte("intact"))
	require.NoError(t, p.WritePage(id, payload))
	require.NoError(t, p.Close())

	// Corrupt one byte in the page payload directly on disk.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, int64(id)*PageSize+pageHeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p2, err := Open(path, 64, logr.Discard())
	require.NoError(t, err)
	defer p2.Close()

	_, err = p2.ReadPage(id)
	require.Error(t, err)
}

func TestManifestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.pages")
	p, err := Open(path, 64, logr.Discard())
	require.NoError(t, err)

	m := p.Manifest()
	m.LSN = 42
	m.NextNodeID = ids.NodeID(7)
	require.NoError(t, p.CommitManifest(m))
	require.NoError(t, p.Close())

	p2, err := Open(path, 64, logr.Discard())
	require.NoError(t, err)
	defer p2.Close()

	got := p2.Manifest()
	require.Equal(t, ids.LSN(42), got.LSN)
	require.Equal(t, ids.NodeID(7), got.NextNodeID)
}

func TestManifestDoubleBufferAlternates(t *testing.T) {
	p := openTestPager(t)

	m := p.Manifest()
	firstSlot := p.manifestSlot
	m.LSN++
	require.NoError(t, p.CommitManifest(m))
	require.NotEqual(t, firstSlot, p.manifestSlot)
}

func TestFreeListReusesPages(t *testing.T) {
	p := openTestPager(t)

	id, err := p.AllocPage()
	require.NoError(t, err)
	require.NoError(t, p.FreePage(id))

	reused, err := p.AllocPage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}
