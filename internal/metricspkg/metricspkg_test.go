package metricspkg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordLoopAccumulatesSnapshot(t *testing.T) {
	r := New()
	r.RecordLoop("implementation", "developer", "success", 2*time.Second, 3)
	r.RecordLoop("implementation", "developer", "success", time.Second, 1)
	r.RecordLoop("qa", "qa", "timeout", time.Second, 0)

	snap := r.Snapshot(time.Unix(0, 0))
	require.Equal(t, float64(2), snap.LoopTotal["implementation/developer/success"])
	require.Equal(t, float64(1), snap.LoopTotal["qa/qa/timeout"])
	require.Equal(t, float64(4), snap.FilesChangedSum["implementation"])
}

func TestRecordBreakerOpenAndRateLimitHit(t *testing.T) {
	r := New()
	r.RecordBreakerOpen()
	r.RecordBreakerOpen()
	r.RecordRateLimitHit()

	snap := r.Snapshot(time.Now())
	require.Equal(t, float64(2), snap.BreakerOpens)
	require.Equal(t, float64(1), snap.RateLimitHits)
}

func TestWriteSnapshotProducesValidJSON(t *testing.T) {
	r := New()
	r.RecordLoop("planning", "product_owner", "success", time.Second, 0)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, r.WriteSnapshot(path, time.Now()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.NotEmpty(t, snap.GeneratedAt)
	require.Equal(t, float64(1), snap.LoopTotal["planning/product_owner/success"])
}
