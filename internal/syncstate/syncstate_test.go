package syncstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(filepath.Join(t.TempDir(), "sync_state.json"))
}

func TestGetCreatesBlankCursor(t *testing.T) {
	tr := tempTracker(t)
	c, err := tr.Get("instagram", "saved")
	require.NoError(t, err)
	assert.Equal(t, "instagram:saved", c.Key())
	assert.Equal(t, "", c.LastSyncStatus)
	assert.Equal(t, 0, c.TotalItems)
}

func TestSaveRoundTrip(t *testing.T) {
	tr := tempTracker(t)
	c, err := tr.Get("instagram", "saved")
	require.NoError(t, err)
	c.MarkSuccess(42, "ABC123", "2026-01-01T00:00:00Z")
	require.NoError(t, tr.Save(c))

	got, err := tr.Get("instagram", "saved")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastSyncStatus)
	assert.Equal(t, 42, got.TotalItems)
	assert.Equal(t, "ABC123", got.LastID)
	assert.NotEmpty(t, got.LastSyncAt)
}

func TestSaveUpdatesExisting(t *testing.T) {
	tr := tempTracker(t)
	c, _ := tr.Get("instagram", "enrichment")
	c.MarkSuccess(10, "", "")
	require.NoError(t, tr.Save(c))
	c.MarkPartial(12, "cookie refresh failed")
	require.NoError(t, tr.Save(c))

	all, err := tr.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusPartial, all[0].LastSyncStatus)
	assert.Equal(t, 12, all[0].TotalItems)
	assert.Equal(t, "cookie refresh failed", all[0].ErrorMessage)
}

func TestMarkSuccessKeepsHighWaterMark(t *testing.T) {
	c := &Cursor{Platform: "instagram", ContentType: "saved", LastID: "OLD"}
	c.MarkSuccess(5, "", "")
	assert.Equal(t, "OLD", c.LastID)
	c.MarkSuccess(6, "NEW", "")
	assert.Equal(t, "NEW", c.LastID)
}

func TestMarkErrorClearsNothingElse(t *testing.T) {
	c := &Cursor{Platform: "instagram", ContentType: "saved", TotalItems: 7}
	c.MarkError("boom")
	assert.Equal(t, StatusError, c.LastSyncStatus)
	assert.Equal(t, "boom", c.ErrorMessage)
	assert.Equal(t, 7, c.TotalItems)
}

func TestSummary(t *testing.T) {
	tr := tempTracker(t)

	s, err := tr.Summary()
	require.NoError(t, err)
	assert.Equal(t, "No sync history found.", s)

	c, _ := tr.Get("instagram", "saved")
	c.MarkSuccess(1234, "", "")
	require.NoError(t, tr.Save(c))
	c2, _ := tr.Get("instagram", "enrichment")
	c2.MarkError("rate limited")
	require.NoError(t, tr.Save(c2))

	s, err = tr.Summary()
	require.NoError(t, err)
	assert.Contains(t, s, "instagram")
	assert.Contains(t, s, "saved")
	assert.Contains(t, s, "1234")
	assert.Contains(t, s, "error: rate limited")
}
