package harness

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// CopyFixture copies the testdata fixture name into dst. The placeholder
// {{NOW}} in any file is replaced with the current UTC time in RFC 3339, so
// fixtures can carry timestamps that fall inside today's budget window.
func CopyFixture(t *testing.T, name, dst string) {
	t.Helper()
	src := Fixture(t, name)
	now := time.Now().UTC().Format(time.RFC3339)
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return &fs.PathError{Op: "copy", Path: path, Err: fs.ErrInvalid}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data = []byte(strings.ReplaceAll(string(data), "{{NOW}}", now))
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		t.Fatalf("copy fixture %s to %s: %v", name, dst, err)
	}
}
