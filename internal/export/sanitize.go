package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	maxStemRunes = 60
	fallbackStem = "explainer"
)

// FileStem turns a free-text query into a safe file name stem: letters and
// digits kept (lowercased), every other run of characters collapsed to a
// single underscore, control characters dropped.
func FileStem(query string) string {
	var b strings.Builder
	pendingSep := false
	n := 0
	for _, r := range query {
		if unicode.IsControl(r) {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if n >= maxStemRunes {
			break
		}
		if pendingSep {
			b.WriteByte('_')
			n++
			pendingSep = false
			if n >= maxStemRunes {
				break
			}
		}
		b.WriteRune(unicode.ToLower(r))
		n++
	}
	stem := strings.TrimRight(b.String(), "_")
	if stem == "" {
		return fallbackStem
	}
	return stem
}

// ensureOutputDir checks that dir is a clean path without traversal and
// creates it when missing.
func ensureOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output dir is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output dir cannot contain path traversal")
		}
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("output dir must be a clean path")
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir is not a directory")
	}
	return nil
}
