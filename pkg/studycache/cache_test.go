package studycache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvol/internal/logging"
	"dicomvol/pkg/dicomio"
)

// identities maps file base names to the identity they carry
type identities map[string]dicomio.Identity

func (ids identities) identify(path string) (dicomio.Identity, error) {
	id, ok := ids[filepath.Base(path)]
	if !ok {
		return dicomio.Identity{}, fmt.Errorf("%s: not DICOM", path)
	}
	return id, nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestBuildDeduplicatesAndSorts(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "p2", "s1", "a.dcm"))
	touch(t, filepath.Join(root, "p2", "s1", "b.dcm"))
	touch(t, filepath.Join(root, "p1", "c.dcm"))
	touch(t, filepath.Join(root, "p1", "notes.txt"))

	seriesA := dicomio.Identity{PatientID: "P2", StudyInstanceUID: "1.1", SeriesInstanceUID: "1.1.1"}
	seriesB := dicomio.Identity{PatientID: "P1", StudyInstanceUID: "2.1", SeriesInstanceUID: "2.1.1"}
	ids := identities{"a.dcm": seriesA, "b.dcm": seriesA, "c.dcm": seriesB}

	entries, err := NewBuilder(3, ids.identify, logging.Discard()).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []dicomio.Identity{seriesB, seriesA}, entries)
}

func TestBuildCancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.dcm"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(1, identities{}.identify, logging.Discard()).Build(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := NewBuilder(1, nil, logging.Discard()).Build(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study_cache.json")
	entries := []dicomio.Identity{{PatientID: "P1", StudyInstanceUID: "1", SeriesInstanceUID: "2"}}

	require.NoError(t, Write(path, entries))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, Write(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
