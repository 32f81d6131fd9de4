package docstore

import (
	"errors"
	"path"
	"strings"
)

// ErrPathViolation marks a path that resolves outside the content root.
var ErrPathViolation = errors.New("docstore: path escapes content root")

// Scope pins document operations to a repository and a content root inside
// it. An empty ContentRoot means the repository root. All paths the store
// accepts and returns are relative to ContentRoot.
type Scope struct {
	Repo        string
	ContentRoot string
}

func (s Scope) root() string {
	return strings.Trim(s.ContentRoot, "/")
}

// Absolute resolves a root-relative path to the repository path used for
// gateway calls. A path already under the root is not re-prefixed, so the
// mapping is idempotent. Paths that normalize to a location outside the
// root fail with ErrPathViolation.
func (s Scope) Absolute(relative string) (string, error) {
	root := s.root()
	trimmed := strings.Trim(relative, "/")

	full := trimmed
	if root != "" && trimmed != root && !strings.HasPrefix(trimmed, root+"/") {
		full = root + "/" + trimmed
	}

	cleaned := path.Clean(full)
	if cleaned == "." || cleaned == "/" {
		cleaned = ""
	}

	if root == "" {
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return "", ErrPathViolation
		}
		return cleaned, nil
	}
	if cleaned != root && !strings.HasPrefix(cleaned, root+"/") {
		return "", ErrPathViolation
	}
	return cleaned, nil
}

// Relative strips the content root prefix from a repository path. Paths
// outside the root should not appear in listings but come back unchanged
// rather than failing.
func (s Scope) Relative(absolute string) string {
	root := s.root()
	if root == "" {
		return absolute
	}
	if absolute == root {
		return ""
	}
	return strings.TrimPrefix(absolute, root+"/")
}
