package app

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"mdcms/api/internal/authpw"
	"mdcms/api/internal/config"
	"mdcms/api/internal/docstore"
	"mdcms/api/internal/github"
	"mdcms/api/internal/ratelimit"
	"mdcms/api/internal/search"
	"mdcms/api/internal/store"
)

// fakeDataStore backs both the app's data interface and the password
// service's user store with in-memory maps.
type fakeDataStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	byEmail  map[string]string
	projects map[string]store.Project
	links    map[string]fakeLink
}

type fakeLink struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		users:    make(map[string]store.User),
		byEmail:  make(map[string]string),
		projects: make(map[string]store.Project),
		links:    make(map[string]fakeLink),
	}
}

func (f *fakeDataStore) Ping(context.Context) error { return nil }

func (f *fakeDataStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeDataStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeDataStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeDataStore) MarkUserVerified(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Verified = true
	f.users[userID] = user
	return nil
}

func (f *fakeDataStore) connectGitHub(userID, username, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.GitHubID = "gh-" + userID
	user.GitHubUsername = username
	user.GitHubAccessToken = token
	f.users[userID] = user
}

func (f *fakeDataStore) CreateMagicLink(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[tokenHash] = fakeLink{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeDataStore) ConsumeMagicLink(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[tokenHash]
	if !ok || link.used || time.Now().After(link.expiresAt) {
		return "", store.ErrNotFound
	}
	link.used = true
	f.links[tokenHash] = link
	return link.userID, nil
}

func (f *fakeDataStore) CreateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	f.projects[project.ID] = project
	return nil
}

func (f *fakeDataStore) GetProject(_ context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (f *fakeDataStore) ListProjectsByUser(_ context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var projects []store.Project
	for _, project := range f.projects {
		if project.UserID == userID {
			projects = append(projects, project)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

func (f *fakeDataStore) UpdateProjectContentDirectory(_ context.Context, id, contentDirectory string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	project.ContentDirectory = contentDirectory
	project.UpdatedAt = time.Now()
	f.projects[id] = project
	return nil
}

func (f *fakeDataStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.projects, id)
	return nil
}

// fakeSessions mirrors the redis store: it holds only the user id, so
// refresh must reload the full user from the data store.
type fakeSessions struct {
	mu      sync.Mutex
	records map[string]fakeSessionRecord
}

type fakeSessionRecord struct {
	userID    string
	expiresAt time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: make(map[string]fakeSessionRecord)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[tokenHash] = fakeSessionRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[tokenHash]
	if !ok || time.Now().After(record.expiresAt) {
		return store.User{}, store.ErrNotFound
	}
	return store.User{ID: record.userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, tokenHash)
	return nil
}

// fakeConnector stands in for the OAuth connect service.
type fakeConnector struct {
	data      *fakeDataStore
	beginFn   func(ctx context.Context, userID string) (string, error)
	completFn func(ctx context.Context, state, code string) (string, github.Account, error)
}

func (f *fakeConnector) Begin(ctx context.Context, userID string) (string, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx, userID)
	}
	return "https://github.example/login/oauth/authorize?state=" + userID, nil
}

func (f *fakeConnector) Complete(ctx context.Context, state, code string) (string, github.Account, error) {
	if f.completFn != nil {
		return f.completFn(ctx, state, code)
	}
	return "", github.Account{}, fmt.Errorf("no pending authorization")
}

func (f *fakeConnector) Disconnect(_ context.Context, userID string) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	user := f.data.users[userID]
	user.GitHubID = ""
	user.GitHubUsername = ""
	user.GitHubAccessToken = ""
	f.data.users[userID] = user
	return nil
}

// fakeRepos answers repository lookups without the GitHub API.
type fakeRepos struct {
	repositories []github.Repository
	getFn        func(ctx context.Context, token, fullName string) (github.Repository, error)
}

func (f *fakeRepos) ListRepositories(context.Context, string) ([]github.Repository, error) {
	return f.repositories, nil
}

func (f *fakeRepos) GetRepository(ctx context.Context, token, fullName string) (github.Repository, error) {
	if f.getFn != nil {
		return f.getFn(ctx, token, fullName)
	}
	for _, repo := range f.repositories {
		if repo.FullName == fullName {
			return repo, nil
		}
	}
	return github.Repository{}, github.ErrNotFound
}

// fakeGateway is an in-memory file tree with the same compare-and-swap
// contract as the real backends.
type fakeGateway struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{files: make(map[string][]byte)}
}

func (g *fakeGateway) key(repo, path string) string {
	return repo + "/" + strings.Trim(path, "/")
}

func (g *fakeGateway) seed(repo, path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[g.key(repo, path)] = []byte(content)
}

func (g *fakeGateway) sha(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func (g *fakeGateway) ListDirectory(_ context.Context, _, repo, path string) ([]github.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := g.key(repo, path) + "/"
	if strings.Trim(path, "/") == "" {
		prefix = repo + "/"
	}
	seen := make(map[string]github.Entry)
	for key, content := range g.files {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			seen[name] = github.Entry{
				Name: name,
				Path: strings.TrimPrefix(prefix, repo+"/") + name,
				Type: "dir",
			}
			continue
		}
		seen[rest] = github.Entry{
			Name: rest,
			Path: strings.TrimPrefix(key, repo+"/"),
			Type: "file",
			SHA:  g.sha(content),
			Size: int64(len(content)),
		}
	}
	if len(seen) == 0 {
		return nil, github.ErrNotFound
	}
	entries := make([]github.Entry, 0, len(seen))
	for _, entry := range seen {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *fakeGateway) ReadFile(_ context.Context, _, repo, path string) (github.File, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := g.key(repo, path)
	content, ok := g.files[key]
	if !ok {
		for other := range g.files {
			if strings.HasPrefix(other, key+"/") {
				return github.File{}, github.ErrNotFile
			}
		}
		return github.File{}, github.ErrNotFound
	}
	name := path
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return github.File{
		Name:    name,
		Path:    strings.Trim(path, "/"),
		SHA:     g.sha(content),
		Content: content,
	}, nil
}

func (g *fakeGateway) WriteFile(_ context.Context, _, repo, path string, content []byte, sha string) (github.WriteResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := g.key(repo, path)
	current, exists := g.files[key]
	if exists {
		if sha == "" || sha != g.sha(current) {
			return github.WriteResult{}, github.ErrConflict
		}
	} else if sha != "" {
		return github.WriteResult{}, github.ErrConflict
	}
	g.files[key] = content
	return github.WriteResult{
		SHA:    g.sha(content),
		Commit: github.Commit{SHA: g.sha(append([]byte("commit:"), content...)), Message: "Update " + path},
	}, nil
}

// fakeSearchIndex applies the query's project scope the way the real
// engine applies its filter: named project, allowed set, or nothing at
// all for an unscoped query.
type fakeSearchIndex struct {
	mu      sync.Mutex
	records map[string]search.DocumentRecord
}

func newFakeSearchIndex() *fakeSearchIndex {
	return &fakeSearchIndex{records: make(map[string]search.DocumentRecord)}
}

func (f *fakeSearchIndex) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[doc.ID] = doc
}

func (f *fakeSearchIndex) RemoveProject(projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, record := range f.records {
		if record.ProjectID == projectID {
			delete(f.records, id)
		}
	}
}

func (f *fakeSearchIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := func(projectID string) bool {
		if q.ProjectID != "" {
			return projectID == q.ProjectID
		}
		for _, id := range q.ProjectIDs {
			if projectID == id {
				return true
			}
		}
		return false
	}
	results := []search.Result{}
	for _, record := range f.records {
		if !allowed(record.ProjectID) {
			continue
		}
		if !strings.Contains(record.Title, q.Text) && !strings.Contains(record.Body, q.Text) {
			continue
		}
		results = append(results, search.Result{
			ID:        record.ID,
			ProjectID: record.ProjectID,
			Path:      record.Path,
			Title:     record.Title,
			Snippet:   record.Body,
		})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

type testEnv struct {
	handler   http.Handler
	service   *Service
	data      *fakeDataStore
	sessions  *fakeSessions
	gateway   *fakeGateway
	connector *fakeConnector
	repos     *fakeRepos
	index     *fakeSearchIndex
}

const testLoginRateLimit = 5

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	data := newFakeDataStore()
	sessions := newFakeSessions()
	gateway := newFakeGateway()
	connector := &fakeConnector{data: data}
	repos := &fakeRepos{repositories: []github.Repository{
		{FullName: "octocat/site", DefaultBranch: "main"},
	}}

	limiter := ratelimit.New(testLoginRateLimit, time.Minute, time.Hour)
	t.Cleanup(limiter.Close)

	service := &Service{
		cfg: config.Config{
			BaseURL:     "http://localhost:3000",
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  30 * 24 * time.Hour,
		},
		store:    data,
		sessions: sessions,
		accounts: authpw.NewService(data),
		docs:     docstore.New(gateway),
		connect:  connector,
		repos:    repos,
		limiter:  limiter,
	}

	return &testEnv{
		handler:   NewHTTPServer(service, "*").Handler(),
		service:   service,
		data:      data,
		sessions:  sessions,
		gateway:   gateway,
		connector: connector,
		repos:     repos,
	}
}

// withSearchIndex attaches an in-memory search index; the default env
// runs without one.
func (e *testEnv) withSearchIndex() *fakeSearchIndex {
	index := newFakeSearchIndex()
	e.service.search = index
	e.index = index
	return index
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// signUp registers a user and returns the session payload.
func (e *testEnv) signUp(t *testing.T, email string) map[string]any {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    email,
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	return decodeResponse(t, recorder)
}

// connectedUser registers a user and marks the GitHub connection done.
func (e *testEnv) connectedUser(t *testing.T, email string) (token, userID string) {
	t.Helper()
	session := e.signUp(t, email)
	userID = session["userId"].(string)
	e.data.connectGitHub(userID, "octocat", "gh-token-"+userID)
	return session["token"].(string), userID
}
