package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCancelAndProgress(t *testing.T) {
	r := NewRegistry()
	r.Track("batch-1", "bulk_transfer")

	r.Progress("batch-1", 2, 5)
	require.True(t, r.Cancel("batch-1"))
	assert.True(t, r.Cancelled("batch-1"))

	r.markFinished("batch-1")
	rec, ok := r.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.Equal(t, 2, rec.Done)
	assert.Equal(t, 5, rec.Total)

	assert.False(t, r.Cancel("batch-1"))
	assert.False(t, r.Cancel("unknown"))
}

func TestRegistryPruneRemovesOldTerminalRecords(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 8, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Track("old", "doc")
	r.markFailed("old", errors.New("render failed"))
	r.Track("active", "doc")

	r.now = func() time.Time { return base.Add(2 * time.Hour) }
	removed := r.Prune(time.Hour)

	assert.Equal(t, 1, removed)
	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("active")
	assert.True(t, ok)
}
