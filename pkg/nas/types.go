package nas

import (
	"encoding/json"
	"strings"
)

// Finished is the completion flag of a dir-size task. Depending on the
// DSM version the NAS reports it as a bool, a string ("true", "1",
// "yes") or a number (1), so decoding accepts all of those as true and
// everything else as false.
type Finished bool

// UnmarshalJSON implements the flexible truthiness rules.
func (f *Finished) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Finished(truthy(v))
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(x) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return x == 1
	}
	return false
}

// DirSizeStatus is one poll of a running dir-size task. The counters
// are cumulative and monotonic; Progress, ProcessedNum and Total are
// only present on some DSM versions.
type DirSizeStatus struct {
	Finished  Finished `json:"finished"`
	NumDir    int64    `json:"num_dir"`
	NumFile   int64    `json:"num_file"`
	TotalSize uint64   `json:"total_size"`

	Progress       *float64 `json:"progress,omitempty"`
	ProcessedNum   *int64   `json:"processed_num,omitempty"`
	Total          *int64   `json:"total,omitempty"`
	ProcessingPath string   `json:"processing_path,omitempty"`
}

// IsFinished reports whether the task has reached its terminal state.
func (s *DirSizeStatus) IsFinished() bool {
	return s != nil && bool(s.Finished)
}

// BackgroundTask is one entry of the NAS background-task list, used to
// adjudicate whether a task is still known to the NAS.
type BackgroundTask struct {
	TaskID       string   `json:"taskid"`
	API          string   `json:"api"`
	Finished     Finished `json:"finished"`
	StartTime    int64    `json:"start_time,omitempty"`
	FinishedTime int64    `json:"finished_time,omitempty"`
}

// startResponse is the payload of SYNO.FileStation.DirSize start.
type startResponse struct {
	TaskID string `json:"taskid"`
}

// taskListResponse is the payload of SYNO.FileStation.BackgroundTask list.
type taskListResponse struct {
	Tasks []BackgroundTask `json:"tasks"`
}
