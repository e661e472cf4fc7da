package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileLock guards the data directory against a second engine instance.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
}

// AcquireFileLock takes the data-dir lock, retrying for up to lockTimeout.
func AcquireFileLock(dataDir string, lockTimeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lockPath := filepath.Join(dataDir, "kokoro.lock")
	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
	}

	deadline := time.Now().Add(lockTimeout)
	for {
		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("attempt lock: %w", err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("data dir %s is locked by another instance (timeout after %v)", dataDir, lockTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	fl.acquiredAt = time.Now()
	slog.Info("Data dir lock acquired", "path", lockPath)
	return fl, nil
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release data dir lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Data dir lock released", "held_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.fileLock = nil
}
