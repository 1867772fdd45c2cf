package poll

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned when the measurement was stopped
// cooperatively, typically on shutdown.
var ErrCancelled = errors.New("measurement cancelled")

// LostTaskError means the NAS no longer knows the dir-size task and no
// late result could be recovered.
type LostTaskError struct {
	TaskID string
}

func (e *LostTaskError) Error() string {
	return fmt.Sprintf("task %s lost on NAS", e.TaskID)
}

// TimeoutError means the wait budget ran out before the task finished.
// The task may still be running on the NAS.
type TimeoutError struct {
	TaskID string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s not finished after %s", e.TaskID, e.Waited)
}
