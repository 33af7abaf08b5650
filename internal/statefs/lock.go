package statefs

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrLocked is returned by AcquireLock when the lock file already exists.
var ErrLocked = errors.New("statefs: lock already held")

// AcquireLock attempts an exclusive-create of locks/<id>.lock under dir.
// Absence of the file means free; presence means claimed. Returns ErrLocked
// if another holder already created it.
func AcquireLock(locksDir, id string) error {
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath(locksDir, id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLocked
		}
		return err
	}
	return f.Close()
}

// ReleaseLock unlinks the lock file, freeing the record for the next claim.
func ReleaseLock(locksDir, id string) error {
	err := os.Remove(lockPath(locksDir, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func lockPath(locksDir, id string) string {
	return filepath.Join(locksDir, sanitizeKey(id)+".lock")
}
