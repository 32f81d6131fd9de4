// Package github is a typed client for the GitHub REST API, covering the
// contents endpoints the editor reads and writes through, repository
// listing, and the OAuth authorization handshake.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	userAgent = "Markdown-CMS"
	accept    = "application/vnd.github.v3+json"
)

var (
	ErrNotFound = errors.New("github: not found")
	ErrConflict = errors.New("github: sha does not match the current file")
	ErrNotFile  = errors.New("github: target is not a file")
)

// APIError carries a non-2xx upstream status and its message for any
// failure not covered by a sentinel error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: upstream status %d: %s", e.StatusCode, e.Message)
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// File is a fetched file with its decoded content.
type File struct {
	Name    string
	Path    string
	SHA     string
	Content []byte
}

// Commit identifies the commit created by a write.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// WriteResult reports the new content hash after a successful write.
type WriteResult struct {
	SHA    string
	Commit Commit
}

// Client calls the GitHub REST API. It holds no credential; every call
// takes the caller's bearer token. Responses are never cached.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against baseURL, or the public API when
// baseURL is empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type contentItem struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"`
	SHA     string `json:"sha"`
	Size    int64  `json:"size"`
	Content string `json:"content"`
}

// ListDirectory lists the entries at path. GitHub returns a bare object
// instead of an array when path is a file; that object comes back as a
// single-entry listing.
func (c *Client) ListDirectory(ctx context.Context, token, repo, path string) ([]Entry, error) {
	payload, err := c.get(ctx, token, contentsPath(repo, path))
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []contentItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode directory listing: %w", err)
		}
		entries := make([]Entry, 0, len(items))
		for _, item := range items {
			entries = append(entries, Entry{Name: item.Name, Path: item.Path, Type: item.Type, SHA: item.SHA, Size: item.Size})
		}
		return entries, nil
	}

	var item contentItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, fmt.Errorf("decode content item: %w", err)
	}
	return []Entry{{Name: item.Name, Path: item.Path, Type: item.Type, SHA: item.SHA, Size: item.Size}}, nil
}

// ReadFile fetches a single file and decodes its base64 content.
func (c *Client) ReadFile(ctx context.Context, token, repo, path string) (File, error) {
	payload, err := c.get(ctx, token, contentsPath(repo, path))
	if err != nil {
		return File{}, err
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return File{}, ErrNotFile
	}

	var item contentItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return File{}, fmt.Errorf("decode file response: %w", err)
	}
	if item.Type != "file" {
		return File{}, ErrNotFile
	}

	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(item.Content, "\n", ""))
	if err != nil {
		return File{}, fmt.Errorf("decode file content: %w", err)
	}
	return File{Name: item.Name, Path: item.Path, SHA: item.SHA, Content: content}, nil
}

// WriteFile creates or updates a file. sha is the last-known content hash
// and must be empty when creating a new file; the API rejects the write
// with a conflict when it no longer matches.
func (c *Client) WriteFile(ctx context.Context, token, repo, path string, content []byte, sha string) (WriteResult, error) {
	body := map[string]any{
		"message": fmt.Sprintf("Update %s via Markdown CMS", path),
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		body["sha"] = sha
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal write payload: %w", err)
	}

	payload, err := c.do(ctx, token, http.MethodPut, contentsPath(repo, path), encoded)
	if err != nil {
		return WriteResult{}, err
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
		Commit Commit `json:"commit"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return WriteResult{}, fmt.Errorf("decode write response: %w", err)
	}
	return WriteResult{SHA: result.Content.SHA, Commit: result.Commit}, nil
}

func contentsPath(repo, path string) string {
	if path == "" {
		return fmt.Sprintf("/repos/%s/contents", repo)
	}
	return fmt.Sprintf("/repos/%s/contents/%s", repo, path)
}

func (c *Client) get(ctx context.Context, token, path string) ([]byte, error) {
	return c.do(ctx, token, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, nil
	}
	return nil, statusError(resp.StatusCode, payload)
}

func statusError(status int, payload []byte) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}

	var parsed struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &parsed)
	if parsed.Message == "" {
		parsed.Message = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: parsed.Message}
}
