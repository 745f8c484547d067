//go:build !unix

package secstore

import "sync"

var fileLocks sync.Map

// lockFile serializes writers within the process where flock is missing.
func lockFile(path string) (func(), error) {
	v, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock, nil
}
