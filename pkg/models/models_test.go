package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/photo", "/photo"},
		{"photo", "/photo"},
		{"a/b", "/a/b"},
		{"//a//b/", "/a/b"},
		{"  /photo/albums/  ", "/photo/albums"},
		{"/", "/"},
		{"", "/"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "input %q", tt.in)
	}
}

func TestNewTotalSize(t *testing.T) {
	size := NewTotalSize(3 * 1024 * 1024 * 1024)
	assert.Equal(t, uint64(3*1024*1024*1024), size.Bytes)
	assert.Equal(t, "GB", size.Unit)
	assert.InDelta(t, 3.0, size.Formatted, 0.01)

	zero := NewTotalSize(0)
	assert.Equal(t, "B", zero.Unit)
	assert.Zero(t, zero.Formatted)
}

func TestFinalize(t *testing.T) {
	mixed := &ScanResult{Items: []ScanResultItem{
		{FolderName: "/a", Success: false, Error: "lost"},
		{FolderName: "/b", Success: true},
	}}
	mixed.Finalize()
	assert.Equal(t, StatusCompleted, mixed.Status, "one success is enough")

	allFailed := &ScanResult{Items: []ScanResultItem{
		{FolderName: "/a", Error: "lost"},
		{FolderName: "/b", Error: "timeout"},
	}}
	allFailed.Finalize()
	assert.Equal(t, StatusFailed, allFailed.Status)

	empty := &ScanResult{}
	empty.Finalize()
	assert.Equal(t, StatusFailed, empty.Status)
}

func TestSucceededItems(t *testing.T) {
	r := &ScanResult{Items: []ScanResultItem{
		{FolderName: "/a", Success: true},
		{FolderName: "/b"},
		{FolderName: "/c", Success: true},
	}}

	ok := r.SucceededItems()
	assert.Len(t, ok, 2)
	assert.Equal(t, "/a", ok[0].FolderName)
	assert.Equal(t, "/c", ok[1].FolderName)
}
