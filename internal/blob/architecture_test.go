package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestInfraImportBoundaries keeps backend packages behind their facades:
// sample sheet stores are reached through blob.Store, and run stores through
// core.OpenPersistentStore (tests may build a memory store directly).
func TestInfraImportBoundaries(t *testing.T) {
	boundaries := []struct {
		infra   string
		allowed []string
	}{
		{infra: "runmgr/internal/infra/blob", allowed: []string{"runmgr/internal/blob"}},
		{infra: "runmgr/internal/infra/persistence", allowed: []string{"runmgr/internal/core", "runmgr/internal/command"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "runmgr/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, b := range boundaries {
			if within(pkg.PkgPath, b.infra) || withinAny(pkg.PkgPath, b.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if within(importPath, b.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		t.Fatalf("backend packages imported past their facade:\n%s", strings.Join(violations, "\n"))
	}
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func withinAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if within(path, p) {
			return true
		}
	}
	return false
}
