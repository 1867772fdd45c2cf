package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/marmos91/nasscan/pkg/models"
)

// SentinelPath marks a history row that records a scan with no
// successful items. Such rows carry the scan status and error but no
// measurements, and are excluded from item lists on reassembly.
const SentinelPath = "__SCAN_STATUS_MARKER__"

// Record is one history row: the outcome of measuring one folder at one
// point in time. Rows are keyed by physical location (nas_host,
// folder_path, timestamp), not by scan identity, so renaming a scan does
// not orphan its history.
type Record struct {
	// ID is the first 16 hex chars of SHA-256 over
	// "nasHost::folderPath::timestamp".
	ID string `gorm:"primaryKey;size:16"`

	NasHost    string `gorm:"not null;uniqueIndex:uniq_nas_folder_ts;index:idx_nas_folder;index:idx_nas_host"`
	FolderPath string `gorm:"not null;uniqueIndex:uniq_nas_folder_ts;index:idx_nas_folder;index:idx_folder_path"`

	ScanSlug string `gorm:"not null;index:idx_scan_slug_timestamp,priority:1"`
	ScanName string `gorm:"not null"`

	Timestamp time.Time `gorm:"not null;uniqueIndex:uniq_nas_folder_ts;index:idx_scan_slug_timestamp,priority:2,sort:desc;index:idx_timestamp,sort:desc"`

	Status  string `gorm:"not null;index:idx_status"`
	Success bool   `gorm:"not null"`

	NumDir             *int64
	NumFile            *int64
	TotalSizeBytes     *uint64
	TotalSizeFormatted *float64
	TotalSizeUnit      *string
	ElapsedTimeMs      *int64

	Error     *string
	ScanError *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements the GORM naming interface.
func (Record) TableName() string {
	return "scan_results"
}

// RecordID derives the compact primary key from the physical location.
// Timestamps are truncated to whole seconds so retried writes of the
// same execution collapse onto the same row.
func RecordID(nasHost, folderPath string, timestamp time.Time) string {
	ts := timestamp.UTC().Truncate(time.Second).Format(time.RFC3339)
	key := fmt.Sprintf("%s::%s::%s", nasHost, models.NormalizePath(folderPath), ts)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// newItemRecord builds a row for one successful scan item.
func newItemRecord(slug, name, nasHost string, result *models.ScanResult, item models.ScanResultItem) Record {
	path := models.NormalizePath(item.FolderName)

	rec := Record{
		ID:         RecordID(nasHost, path, result.Timestamp),
		NasHost:    nasHost,
		FolderPath: path,
		ScanSlug:   slug,
		ScanName:   name,
		Timestamp:  result.Timestamp.UTC().Truncate(time.Second),
		Status:     string(result.Status),
		Success:    item.Success,
		NumDir:     ptr(item.NumDir),
		NumFile:    ptr(item.NumFile),
		ElapsedTimeMs: func() *int64 {
			v := item.ElapsedTimeMs
			return &v
		}(),
	}

	if item.TotalSize != nil {
		rec.TotalSizeBytes = ptr(item.TotalSize.Bytes)
		rec.TotalSizeFormatted = ptr(item.TotalSize.Formatted)
		rec.TotalSizeUnit = ptr(item.TotalSize.Unit)
	}

	if item.Error != "" {
		rec.Error = ptr(item.Error)
	}
	if result.Error != "" {
		rec.ScanError = ptr(result.Error)
	}

	return rec
}

// newSentinelRecord builds the marker row for a scan with no successful
// items. No measurement columns are set, so zero values never pollute
// aggregations.
func newSentinelRecord(slug, name, nasHost string, result *models.ScanResult) Record {
	rec := Record{
		ID:         RecordID(nasHost, SentinelPath, result.Timestamp),
		NasHost:    nasHost,
		FolderPath: SentinelPath,
		ScanSlug:   slug,
		ScanName:   name,
		Timestamp:  result.Timestamp.UTC().Truncate(time.Second),
		Status:     string(result.Status),
		Success:    false,
	}

	if result.Error != "" {
		rec.ScanError = ptr(result.Error)
	}

	return rec
}

// toItem converts a row back into a scan result item.
func (r *Record) toItem() models.ScanResultItem {
	item := models.ScanResultItem{
		FolderName: r.FolderPath,
		Success:    r.Success,
	}

	if r.NumDir != nil {
		item.NumDir = *r.NumDir
	}
	if r.NumFile != nil {
		item.NumFile = *r.NumFile
	}
	if r.TotalSizeBytes != nil {
		size := models.NewTotalSize(*r.TotalSizeBytes)
		item.TotalSize = &size
	}
	if r.ElapsedTimeMs != nil {
		item.ElapsedTimeMs = *r.ElapsedTimeMs
	}
	if r.Error != nil {
		item.Error = *r.Error
	}

	return item
}

func ptr[T any](v T) *T {
	return &v
}
