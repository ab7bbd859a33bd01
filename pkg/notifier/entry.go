package notifier

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry is a watched file. Two entries are the same watch when their ID is equal.
type Entry struct {
	ID           string
	File         string
	LastModified time.Time
}

func (e Entry) String() string {
	return fmt.Sprintf("watch entry :: id: %s, file: %s, modified_at: %v", e.ID, e.File, e.LastModified)
}

// canonical resolves file to an absolute path with symlinks evaluated.
// A file that does not exist yet keeps its cleaned absolute path.
func canonical(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func modTime(file string) (time.Time, error) {
	fs, err := os.Stat(file)
	if err != nil {
		return time.Time{}, err
	}
	return fs.ModTime(), nil
}
