package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// instanceLock wraps an advisory whole-file write lock on sched.lock
// (primary) or sched.lock.secondary (secondary), held for the process
// lifetime (spec.md §4.5 step 1, §6 "Lock file").
type instanceLock struct {
	fl   *flock.Flock
	path string
}

// acquireLock opens <privDir>/sched.lock[.secondary] and attempts a
// non-blocking exclusive TryLock; failure means another instance with
// this identity is already running.
func acquireLock(privDir string, secondary bool) (*instanceLock, error) {
	if err := os.MkdirAll(privDir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create priv dir %s: %w", privDir, err)
	}

	name := "sched.lock"
	if secondary {
		name = "sched.lock.secondary"
	}
	path := filepath.Join(privDir, name)

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("supervisor: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("supervisor: another scheduler instance holds %s", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("supervisor: write pid to %s: %w", path, err)
	}

	return &instanceLock{fl: fl, path: path}, nil
}

func (l *instanceLock) release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
