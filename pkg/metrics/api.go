package metrics

import (
	"time"
)

// APIMetrics provides observability for the NAS RPC traffic.
//
// This interface is optional - pass nil to disable metrics collection.
type APIMetrics interface {
	// RecordAPICall records one NAS API call with its outcome:
	// "success", "api_error" or "transport_error".
	RecordAPICall(api, method, outcome string, duration time.Duration)
}
