package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/lectern/internal/script"
)

// Load error codes, distinct from the sandbox's admission codes.
const (
	ErrCodeNotFound   = "E001" // lesson file or directory missing
	ErrCodeNoLessons  = "E002" // directory holds no lesson files
	ErrCodeScanFailed = "E003" // directory scan failed
	ErrCodeGeneric    = "E004"
)

// LoadError is a command-level loading failure (as opposed to a lesson
// failing admission).
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// resolveLessonPath turns a command argument into a lesson file path.
// An argument with a path separator or the lesson extension is used as
// a path; anything else is treated as a script id under lessonsDir.
func resolveLessonPath(lessonsDir, arg string) (string, *LoadError) {
	path := arg
	if !strings.ContainsRune(arg, os.PathSeparator) && !strings.HasSuffix(arg, script.SourceExt) {
		id, err := script.NormalizeID(arg)
		if err != nil {
			return "", &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		path = filepath.Join(lessonsDir, id+script.SourceExt)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("lesson not found: %s", path)}
	}
	if err != nil {
		return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}
	if info.IsDir() {
		return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a lesson file: %s", path)}
	}
	return path, nil
}

// loadLessonDir loads every lesson in a directory, valid or not.
func loadLessonDir(dir string) ([]script.LoadResult, *LoadError) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("lessons directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", dir, err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	results, err := script.LoadDir(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanFailed, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
	}
	if len(results) == 0 {
		return nil, &LoadError{Code: ErrCodeNoLessons, Message: fmt.Sprintf("no lesson files found in %s", dir)}
	}
	return results, nil
}
