package clock

import "time"

var processStart = time.Now()

// fallbackNow reads Go's monotonic reading relative to process start.
func fallbackNow() int64 {
	return int64(time.Since(processStart))
}
