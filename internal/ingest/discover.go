package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName holds intake-local ignore patterns, gitignore syntax.
const ignoreFileName = ".anchorignore"

// intakeFile is one candidate document found in the intake directory.
type intakeFile struct {
	path string // absolute path
	name string // path relative to the intake root
}

// discover walks the intake directory and returns candidate files in a
// deterministic (lexical) order. Hidden files, the lock file, and anything
// matched by .anchorignore are skipped.
func discover(intakeDir string) ([]intakeFile, error) {
	absDir, err := filepath.Abs(intakeDir)
	if err != nil {
		return nil, fmt.Errorf("resolving intake directory: %w", err)
	}

	var patterns *ignore.GitIgnore
	ignorePath := filepath.Join(absDir, ignoreFileName)
	if _, err := os.Stat(ignorePath); err == nil {
		patterns, err = ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			// Malformed ignore file: proceed without it rather than failing
			// the whole batch.
			patterns = nil
		}
	}

	var files []intakeFile
	err = filepath.Walk(absDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(absDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if strings.HasPrefix(base, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if patterns != nil && patterns.MatchesPath(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, intakeFile{path: path, name: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking intake directory: %w", err)
	}

	return files, nil
}
