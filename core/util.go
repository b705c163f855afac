package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// IsValidID reports whether id is a well-formed entity identifier.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}

// Getwd finds the project root: the closest parent directory holding go.mod.
// go-test changes the working directory to the package being tested, so the cwd cannot be trusted.
// Outside a source checkout (deployed binary), the cwd is used as is.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
