package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Match lists the objects directly under the prefix directory whose base
// name matches the shell pattern, as understood by path.Match. Keys in
// deeper directories, such as archived sheets, are not matched.
func Match(ctx context.Context, s Store, prefix, pattern string) ([]Info, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	dir := prefix
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	infos, err := s.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, info := range infos {
		name, ok := strings.CutPrefix(info.Key, dir)
		if !ok || name == "" || strings.Contains(name, "/") {
			continue
		}
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, info)
		}
	}
	return out, nil
}
