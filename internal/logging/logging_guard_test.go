package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

func TestNoStdoutPrintingInRuntimePaths(t *testing.T) {
	banned := regexp.MustCompile(`\bfmt\.(Print|Printf|Println)\b|\blog\.(Print|Printf|Println|Fatal|Fatalf)\b`)
	roots := []string{"core", "scheduler", "basespace", "notify", "lock", "blob", "infra", "config", "command"}
	violations := make([]string, 0)

	for _, root := range roots {
		_ = filepath.WalkDir(filepath.Join("..", root), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			raw, readErr := os.ReadFile(path)
			if readErr != nil {
				return readErr
			}
			for i, line := range strings.Split(string(raw), "\n") {
				if banned.MatchString(line) {
					violations = append(violations, fmt.Sprintf("%s:%d: %s", filepath.ToSlash(path), i+1, strings.TrimSpace(line)))
				}
			}
			return nil
		})
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("found banned print calls:\n%s", strings.Join(violations, "\n"))
	}
}
