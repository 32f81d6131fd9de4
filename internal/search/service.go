package search

import "log"

// Service wraps Meilisearch with graceful degradation: when the engine is
// down or unconfigured, searches return empty results and indexing is a
// no-op. Documents live in git, so the index is always rebuildable.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Available reports whether the search engine can serve queries right now.
func (s *Service) Available() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search queries the document index. Returns an empty response when the
// engine is unavailable.
func (s *Service) Search(q Query) Response {
	if !s.Available() {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.meili.Search(q)
	if err != nil {
		log.Printf("search: meilisearch error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// IndexDocument indexes a saved document (fire-and-forget).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.Available() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.Path, err)
		}
	}()
}

// RemoveProject drops every indexed document for a deleted project
// (fire-and-forget).
func (s *Service) RemoveProject(projectID string) {
	if !s.Available() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projectID); err != nil {
			log.Printf("search: remove project %s: %v", projectID, err)
		}
	}()
}

// Close stops the background health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
