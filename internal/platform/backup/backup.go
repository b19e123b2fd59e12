// Package backup copies the ledger store to timestamped backup files.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02_15-04-05"

// Create copies the store at path into dir, named with the given timestamp
// and an optional prefix, and returns the backup file path.
func Create(path, dir, prefix string, now time.Time) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("store path is required")
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("backup dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := "cueledger_" + now.UTC().Format(timestampLayout) + ".db"
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		name = prefix + "_" + name
	}
	dst := filepath.Join(dir, name)
	if err := copyFile(path, dst); err != nil {
		return "", fmt.Errorf("copy store to backup: %w", err)
	}
	return dst, nil
}

// Restore copies a backup verbatim over the store path.
func Restore(backupPath, path string) error {
	if err := copyFile(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	return nil
}

// LastTime returns the modification time of the most recent backup in dir.
// A missing or empty directory reports no backup without failing.
func LastTime(dir string) (time.Time, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read backup dir: %w", err)
	}
	var last time.Time
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return time.Time{}, false, fmt.Errorf("stat backup %s: %w", entry.Name(), err)
		}
		if modTime := info.ModTime(); !found || modTime.After(last) {
			last = modTime
			found = true
		}
	}
	return last, found, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
