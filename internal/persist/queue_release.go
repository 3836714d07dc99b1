//go:build !debug

package persist

// newQueue returns a queue holding up to size pending jobs.
func newQueue(size int) jobQueue {
	return &chanQueue{ch: make(chan Job, size)}
}
