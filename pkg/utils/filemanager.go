// =============================================================================
// Excel Workflow - File Manager Utility
// =============================================================================
//
// This module provides the file system plumbing shared by the phases:
//   - Directory checks and creation
//   - Workbook discovery
//   - Output file naming
//   - Directory locking, so two runs never write the same directory
//
// DISCOVERY RULES:
//   - Only regular files matching the glob pattern are returned
//   - Office lock files ("~$book.xlsx") and hidden files (".book.xlsx",
//     including our own temp files) are skipped
//   - Results are sorted by file name so every run sees the same order
//
// =============================================================================

package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created in every directory a run writes to.
const LockFileName = ".excelflow.lock"

var (
	// ErrDirNotFound is returned when a required input directory is missing.
	ErrDirNotFound = errors.New("directory not found")

	// ErrLocked is returned when another run holds the directory lock.
	ErrLocked = errors.New("directory is locked by another run")
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager knows the directories of one pipeline run.
type FileManager struct {
	// InputDir holds the source workbooks.
	InputDir string

	// OutputDir holds the processed workbooks and the batch report.
	OutputDir string

	// FinalDir holds the merged workbook and the merge report.
	FinalDir string

	// LogDir holds the log files.
	LogDir string
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, finalDir, logDir string) *FileManager {
	return &FileManager{
		InputDir:  inputDir,
		OutputDir: outputDir,
		FinalDir:  finalDir,
		LogDir:    logDir,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates the output, final and log directories. Empty
// fields are skipped. The input directory is never created; use RequireDir
// for it.
//
// RETURNS:
//   - An error if any directory cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.OutputDir, fm.FinalDir, fm.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RequireDir returns ErrDirNotFound unless dir exists and is a directory.
func RequireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return fmt.Errorf("failed to access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDirNotFound, dir)
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverWorkbooks returns the workbooks in dir matching pattern, sorted by
// file name.
//
// PARAMETERS:
//   - dir: The directory to scan (not recursive).
//   - pattern: A glob pattern such as "*.xlsx". A pattern ending in .xlsx
//     also matches the same names ending in .xlsm.
//   - exclude: Base names to leave out, e.g. the batch report.
//
// RETURNS:
//   - A slice of file paths, possibly empty.
//   - An error if dir does not exist or the pattern is malformed.
func DiscoverWorkbooks(dir, pattern string, exclude ...string) ([]string, error) {
	if err := RequireDir(dir); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*.xlsx"
	}

	patterns := []string{pattern}
	if strings.HasSuffix(pattern, ".xlsx") {
		patterns = append(patterns, strings.TrimSuffix(pattern, ".xlsx")+".xlsm")
	}

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		for _, m := range matches {
			name := filepath.Base(m)
			if seen[m] || skip[name] || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

// =============================================================================
// FILE NAMING
// =============================================================================

// ProcessedFileName returns the processed workbook name for a source file:
// "site_a.xlsx" with suffix "_processed" gives "site_a_processed.xlsx".
func ProcessedFileName(sourcePath, suffix string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + suffix + ".xlsx"
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// DIRECTORY LOCK
// =============================================================================

// DirLock is an exclusive advisory lock on a directory.
type DirLock struct {
	lock *flock.Flock
}

// LockDir takes the run lock of dir without blocking. It returns ErrLocked
// when another process holds it.
func LockDir(dir string) (*DirLock, error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &DirLock{lock: lock}, nil
}

// Unlock releases the lock. The lock file is left in place.
func (l *DirLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
