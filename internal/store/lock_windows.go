//go:build windows

package store

import "os"

// Windows has no flock(2); fall back to exclusive create-or-open of the lock
// file. Good enough for the single-machine multi-process case the pipelines
// support; cross-process patch atomicity is only guaranteed on unix.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return func() { f.Close() }, nil
}
