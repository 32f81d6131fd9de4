// Package docstore exposes document-level list/read/write operations over
// a versioned file gateway, scoped to a project's content root.
package docstore

import (
	"context"
	"path"
	"sort"
	"strings"

	"mdcms/api/internal/frontmatter"
	"mdcms/api/internal/github"
)

// EntryType classifies a listing entry.
type EntryType string

const (
	EntryDirectory EntryType = "directory"
	EntryMarkdown  EntryType = "markdown"
	EntryMDX       EntryType = "mdx"
)

// Entry is a directory listing item, path relative to the content root.
type Entry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Type EntryType `json:"fileType"`
	SHA  string    `json:"sha"`
	Size int64     `json:"size"`
}

// Document is a decoded markdown/MDX file. SHA is the content hash the
// next write must present; it changes on every successful write.
type Document struct {
	Name   string             `json:"name"`
	Path   string             `json:"path"`
	Kind   EntryType          `json:"type"`
	Header frontmatter.Header `json:"frontMatter"`
	Body   string             `json:"content"`
	SHA    string             `json:"sha"`
}

// WriteResult carries the new content hash after a successful write.
type WriteResult struct {
	SHA    string        `json:"sha"`
	Commit github.Commit `json:"commit"`
}

// Gateway is the remote file API the store operates over. Both the GitHub
// client and the local git backend satisfy it.
type Gateway interface {
	ListDirectory(ctx context.Context, token, repo, path string) ([]github.Entry, error)
	ReadFile(ctx context.Context, token, repo, path string) (github.File, error)
	WriteFile(ctx context.Context, token, repo, path string, content []byte, sha string) (github.WriteResult, error)
}

// Store composes path resolution, the front-matter codec, and a gateway
// into document operations. It holds no credential and caches nothing;
// the token is passed into every call.
type Store struct {
	gateway Gateway
}

func New(gateway Gateway) *Store {
	return &Store{gateway: gateway}
}

// List returns the directories and documents under relative, directories
// first, then by name. Entries that are neither directories nor .md/.mdx
// files are dropped.
func (s *Store) List(ctx context.Context, token string, scope Scope, relative string) ([]Entry, error) {
	absolute, err := scope.Absolute(relative)
	if err != nil {
		return nil, err
	}

	items, err := s.gateway.ListDirectory(ctx, token, scope.Repo, absolute)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		kind, ok := classify(item.Type, item.Name)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Name: item.Name,
			Path: scope.Relative(item.Path),
			Type: kind,
			SHA:  item.SHA,
			Size: item.Size,
		})
	}

	// Directories before files, then ordinal by name. The editor's file
	// browser relies on this order.
	sort.SliceStable(entries, func(i, j int) bool {
		iDir := entries[i].Type == EntryDirectory
		jDir := entries[j].Type == EntryDirectory
		if iDir != jDir {
			return iDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Read fetches and decodes a single document.
func (s *Store) Read(ctx context.Context, token string, scope Scope, relative string) (Document, error) {
	absolute, err := scope.Absolute(relative)
	if err != nil {
		return Document{}, err
	}

	file, err := s.gateway.ReadFile(ctx, token, scope.Repo, absolute)
	if err != nil {
		return Document{}, err
	}

	header, body := frontmatter.Decode(string(file.Content))
	return Document{
		Name:   file.Name,
		Path:   scope.Relative(file.Path),
		Kind:   documentKind(file.Name),
		Header: header,
		Body:   body,
		SHA:    file.SHA,
	}, nil
}

// Write encodes the document and stores it with a compare-and-swap on sha.
// A stale sha surfaces as the gateway's conflict error, unchanged; the
// store never retries or merges.
func (s *Store) Write(ctx context.Context, token string, scope Scope, relative string, header frontmatter.Header, body, sha string) (WriteResult, error) {
	absolute, err := scope.Absolute(relative)
	if err != nil {
		return WriteResult{}, err
	}

	raw := frontmatter.Encode(header, body)
	result, err := s.gateway.WriteFile(ctx, token, scope.Repo, absolute, []byte(raw), sha)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{SHA: result.SHA, Commit: result.Commit}, nil
}

func classify(gatewayType, name string) (EntryType, bool) {
	if gatewayType == "dir" {
		return EntryDirectory, true
	}
	switch path.Ext(name) {
	case ".mdx":
		return EntryMDX, true
	case ".md":
		return EntryMarkdown, true
	}
	return "", false
}

func documentKind(name string) EntryType {
	if strings.HasSuffix(name, ".mdx") {
		return EntryMDX
	}
	return EntryMarkdown
}
