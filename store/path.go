package store

import (
	"fmt"
	"strings"
)

// SplitPath splits a slash separated location into its segments. Leading,
// trailing and repeated slashes are ignored.
func SplitPath(path string) ([]string, error) {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "#$[]") {
			return nil, fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidPath, path)
		}
		segments = append(segments, p)
	}
	return segments, nil
}

// JoinPath joins segments into an absolute location.
func JoinPath(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}
