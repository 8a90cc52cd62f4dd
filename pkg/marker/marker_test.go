package marker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "last-activity")
	m := NewFile(path)
	at := time.Date(2024, 5, 6, 9, 1, 0, 0, time.UTC)

	t.Run("Test first report creates the marker", func(t *testing.T) {
		require.NoError(t, m.ReportActivity(context.Background(), at))
		got, err := Read(path)
		require.NoError(t, err)
		assert.True(t, at.Equal(got))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, at.Equal(info.ModTime()))
	})

	t.Run("Test marker never moves backwards", func(t *testing.T) {
		require.NoError(t, m.ReportActivity(context.Background(), at.Add(-time.Minute)))
		got, _ := Read(path)
		assert.True(t, at.Equal(got))
	})

	t.Run("Test later report advances the marker", func(t *testing.T) {
		later := at.Add(time.Minute)
		require.NoError(t, m.ReportActivity(context.Background(), later))
		got, _ := Read(path)
		assert.True(t, later.Equal(got))
	})

	t.Run("Test no temp files are left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Test cancelled context does not write", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, m.ReportActivity(ctx, at.Add(time.Hour)))
	})
}

func TestReadFallsBackToMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "touched")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(got))
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadPrefersLaterTouch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-activity")
	at := time.Date(2024, 5, 6, 9, 1, 0, 0, time.UTC)
	require.NoError(t, NewFile(path).ReportActivity(context.Background(), at))

	t.Log("another writer touches the marker after the recorded time")
	touched := at.Add(10 * time.Minute)
	require.NoError(t, os.Chtimes(path, touched, touched))
	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, touched.Equal(got), "got %s", got)

	t.Log("an mtime older than the content does not hide the recorded time")
	old := at.Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	got, err = Read(path)
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "got %s", got)

	t.Log("the next report does not move the marker behind the touch")
	require.NoError(t, os.Chtimes(path, touched, touched))
	require.NoError(t, NewFile(path).ReportActivity(context.Background(), at.Add(time.Minute)))
	got, err = Read(path)
	require.NoError(t, err)
	assert.True(t, touched.Equal(got), "got %s", got)
}
