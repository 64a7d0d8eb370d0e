package persistence

import (
	"fmt"

	"github.com/gofrs/flock"
)

// AcquireLock takes an exclusive file lock so that at most one bot instance
// operates on the same data. The room registry assumes a single active
// process; a second instance racing the first on snapshot writes would
// corrupt the bookkeeping silently.
func AcquireLock(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("lock %s is held by another instance", path)
	}
	return fl, nil
}
