package search

import (
	"crypto/sha256"
	"fmt"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
}

/// Query describes a search request. Exactly one scope must be set:
// ProjectID for a single project, or ProjectIDs for the full set of
// projects the caller may see. The index is shared across users, so an
// unscoped query is never executed.
type Query struct {
	Text       string
	ProjectID  string
	ProjectIDs []string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is the data we index for a markdown document.
type DocumentRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// RecordID derives a stable index document id from a project and a file
// path. Meilisearch ids only allow [a-zA-Z0-9_-], so paths are hashed.
func RecordID(projectID, path string) string {
	sum := sha256.Sum256([]byte(projectID + "\x00" + path))
	return fmt.Sprintf("%x", sum)
}
