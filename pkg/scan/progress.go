package scan

import (
	"context"
	"math"

	"github.com/marmos91/nasscan/pkg/models"
)

// Axis weights for the combined percentage: bytes dominate, directory
// counts are a coarser signal, file counts the coarsest.
const (
	sizeWeight  = 0.7
	dirsWeight  = 0.2
	filesWeight = 0.1
)

// BaselineSource is the slice of the history store the oracle reads.
type BaselineSource interface {
	GetLatestCompletedResult(ctx context.Context, slug string) (*models.ScanResult, error)
}

// ProgressOracle estimates the completion percentage of a running scan
// against its most recent completed baseline.
type ProgressOracle struct {
	store BaselineSource
}

// NewProgressOracle creates an oracle backed by the given history.
func NewProgressOracle(store BaselineSource) *ProgressOracle {
	return &ProgressOracle{store: store}
}

// baselineEntry carries one baseline path's historical metrics.
type baselineEntry struct {
	size  uint64
	dirs  int64
	files int64
}

// Estimate returns the weighted completion percentage in [0, 100], or
// nil when no usable baseline exists.
func (o *ProgressOracle) Estimate(ctx context.Context, slug string, snap Snapshot) (*float64, error) {
	baseline, err := o.store.GetLatestCompletedResult(ctx, slug)
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		return nil, nil
	}

	// Index baseline items by normalized path; on collision keep the
	// larger measurement.
	entries := make(map[string]baselineEntry)
	for _, item := range baseline.Items {
		if !item.Success {
			continue
		}
		path := models.NormalizePath(item.FolderName)
		entry := baselineEntry{dirs: item.NumDir, files: item.NumFile}
		if item.TotalSize != nil {
			entry.size = item.TotalSize.Bytes
		}
		if prev, ok := entries[path]; ok && prev.size >= entry.size {
			continue
		}
		entries[path] = entry
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// pathWeight never returns less than 1, so totalWeight is positive
	// whenever entries is non-empty.
	var totalWeight, sizeSum, dirsSum, filesSum float64
	for path, hist := range entries {
		cur := snap.PerPath[path]

		weight := pathWeight(hist)
		totalWeight += weight
		sizeSum += weight * axisPct(float64(cur.TotalSize), float64(hist.size), cur.Finished)
		dirsSum += weight * axisPct(float64(cur.NumDir), float64(hist.dirs), cur.Finished)
		filesSum += weight * axisPct(float64(cur.NumFile), float64(hist.files), cur.Finished)
	}

	final := sizeWeight*sizeSum/totalWeight + dirsWeight*dirsSum/totalWeight + filesWeight*filesSum/totalWeight
	final = math.Round(final*10) / 10
	return &final, nil
}

// pathWeight picks the most informative axis a baseline path offers:
// bytes if known, else directories scaled up, else files, else a token
// weight so every path contributes.
func pathWeight(hist baselineEntry) float64 {
	switch {
	case hist.size > 0:
		return float64(hist.size)
	case hist.dirs > 0:
		return float64(hist.dirs) * 1000
	case hist.files > 0:
		return float64(hist.files)
	default:
		return 1
	}
}

// axisPct is the capped completion ratio of one axis. An empty
// historical denominator degrades to 0% while running and 100% once the
// path is finished.
func axisPct(current, historical float64, finished bool) float64 {
	if historical <= 0 {
		if finished {
			return 100
		}
		return 0
	}
	pct := current / historical * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
