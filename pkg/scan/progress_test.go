package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nasscan/pkg/models"
)

type fakeBaseline struct {
	result *models.ScanResult
	err    error
}

func (f *fakeBaseline) GetLatestCompletedResult(context.Context, string) (*models.ScanResult, error) {
	return f.result, f.err
}

func baselineItem(path string, size uint64, dirs, files int64) models.ScanResultItem {
	ts := models.NewTotalSize(size)
	return models.ScanResultItem{
		FolderName: path,
		Success:    true,
		NumDir:     dirs,
		NumFile:    files,
		TotalSize:  &ts,
	}
}

func baselineResult(items ...models.ScanResultItem) *models.ScanResult {
	return &models.ScanResult{
		Slug:      "test-scan",
		Name:      "Test Scan",
		Timestamp: time.Now().UTC().Add(-time.Hour),
		Status:    models.StatusCompleted,
		Items:     items,
	}
}

func TestEstimateSizeDominatesWeighting(t *testing.T) {
	const gib10 = 10 * 1024 * 1024 * 1024
	const mib1 = 1024 * 1024

	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", gib10, 100, 1000),
		baselineItem("/b", mib1, 10, 100),
	)})

	// The big share is halfway, the tiny one is done. The tiny share's
	// 100% barely moves the needle.
	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {NumDir: 50, NumFile: 500, TotalSize: gib10 / 2},
		"/b": {NumDir: 10, NumFile: 100, TotalSize: mib1, Finished: true},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 50.0, *pct, 0.001)
}

func TestEstimateNoBaseline(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{})

	pct, err := oracle.Estimate(context.Background(), "test-scan", Snapshot{})
	require.NoError(t, err)
	assert.Nil(t, pct)
}

func TestEstimateStoreError(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{err: errors.New("db locked")})

	pct, err := oracle.Estimate(context.Background(), "test-scan", Snapshot{})
	assert.Error(t, err)
	assert.Nil(t, pct)
}

func TestEstimateFailedBaselineItemsIgnored(t *testing.T) {
	failed := models.ScanResultItem{FolderName: "/a", Error: "lost"}
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(failed)})

	pct, err := oracle.Estimate(context.Background(), "test-scan", Snapshot{})
	require.NoError(t, err)
	assert.Nil(t, pct, "a baseline with no successful items is unusable")
}

func TestEstimateWeightFallsBackToDirs(t *testing.T) {
	// Baseline knows only directory counts for this path.
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", 0, 4, 0),
	)})

	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {NumDir: 2},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)

	// Size and file axes have empty denominators and read 0% while
	// running; the dir axis is at 50%.
	assert.InDelta(t, 0.2*50, *pct, 0.001)
}

func TestEstimateEmptyDenominatorsOnceFinished(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", 0, 4, 0),
	)})

	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {NumDir: 4, Finished: true},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 100.0, *pct, 0.001)
}

func TestEstimateAxisCappedAt100(t *testing.T) {
	// The share grew since the baseline run.
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", 100, 0, 0),
	)})

	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {TotalSize: 250},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)

	// Size axis capped at 100%, dir and file axes still 0% while
	// running.
	assert.InDelta(t, 0.7*100, *pct, 0.001)
}

func TestEstimateDuplicatePathsKeepLargerMeasurement(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a/", 100, 0, 0),
		baselineItem("a", 200, 0, 0),
	)})

	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {TotalSize: 100},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)

	// Against the 200-byte baseline the path is at 50%.
	assert.InDelta(t, 0.7*50, *pct, 0.001)
}

func TestEstimateUnstartedPathCountsAsZero(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", 100, 0, 0),
		baselineItem("/b", 100, 0, 0),
	)})

	// Only /a has reported anything yet.
	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {TotalSize: 100, Finished: true},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)

	// Every axis reads 50%: the finished path contributes 100% (its
	// empty dir and file denominators degrade to 100% once finished),
	// the unstarted one 0%.
	assert.InDelta(t, 50.0, *pct, 0.001)
}

func TestEstimateRoundsToOneDecimal(t *testing.T) {
	oracle := NewProgressOracle(&fakeBaseline{result: baselineResult(
		baselineItem("/a", 3000, 0, 0),
	)})

	snap := Snapshot{PerPath: map[string]PathProgress{
		"/a": {TotalSize: 1000},
	}}

	pct, err := oracle.Estimate(context.Background(), "test-scan", snap)
	require.NoError(t, err)
	require.NotNil(t, pct)

	// 0.7 * 33.333... = 23.333... rounds to 23.3.
	assert.Equal(t, 23.3, *pct)
}
