package gitfs

import (
	"context"
	"errors"
	"testing"

	"mdcms/api/internal/github"
)

func TestWriteAndReadFile(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	result, err := svc.WriteFile(ctx, "", "local/site", "posts/intro.md", []byte("# Hello\n"), "")
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if result.SHA == "" {
		t.Fatalf("expected blob sha for new file")
	}
	if result.Commit.SHA == "" {
		t.Fatalf("expected commit hash")
	}

	file, err := svc.ReadFile(ctx, "", "local/site", "posts/intro.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(file.Content) != "# Hello\n" {
		t.Fatalf("unexpected content %q", file.Content)
	}
	if file.SHA != result.SHA {
		t.Fatalf("read sha %q differs from write sha %q", file.SHA, result.SHA)
	}
}

func TestWriteWithCurrentShaSucceeds(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	first, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v1"), "")
	if err != nil {
		t.Fatalf("initial write failed: %v", err)
	}
	second, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v2"), first.SHA)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if second.SHA == first.SHA {
		t.Fatalf("expected sha to change on write")
	}
}

func TestWriteUnchangedContentWithCurrentShaSucceeds(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	first, err := svc.WriteFile(ctx, "", "local/site", "notes.md", []byte("hello\n"), "")
	if err != nil {
		t.Fatalf("initial write failed: %v", err)
	}
	// Identical bytes with the current sha is a no-op save, not an error.
	second, err := svc.WriteFile(ctx, "", "local/site", "notes.md", []byte("hello\n"), first.SHA)
	if err != nil {
		t.Fatalf("no-op write failed: %v", err)
	}
	if second.SHA != first.SHA {
		t.Fatalf("blob sha changed on identical content: %q -> %q", first.SHA, second.SHA)
	}
	if second.Commit.SHA == "" || second.Commit.SHA == first.Commit.SHA {
		t.Fatalf("expected a fresh commit, got %q", second.Commit.SHA)
	}
}

func TestWriteWithStaleShaConflictsAndChangesNothing(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	first, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v1"), "")
	if err != nil {
		t.Fatalf("initial write failed: %v", err)
	}
	current, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v2"), first.SHA)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Replay with the superseded hash.
	if _, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v3"), first.SHA); !errors.Is(err, github.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	file, err := svc.ReadFile(ctx, "", "local/site", "a.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(file.Content) != "v2" || file.SHA != current.SHA {
		t.Fatalf("conflicting write altered the file: %q %q", file.Content, file.SHA)
	}
}

func TestCreateOverExistingFileConflicts(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	if _, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v1"), ""); err != nil {
		t.Fatalf("initial write failed: %v", err)
	}
	if _, err := svc.WriteFile(ctx, "", "local/site", "a.md", []byte("v2"), ""); !errors.Is(err, github.ErrConflict) {
		t.Fatalf("expected ErrConflict creating over existing file, got %v", err)
	}
}

func TestReadMissingFileNotFound(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("local/site"); err != nil {
		t.Fatalf("EnsureRepo failed: %v", err)
	}
	if _, err := svc.ReadFile(context.Background(), "", "local/site", "missing.md"); !errors.Is(err, github.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadDirectoryIsNotFile(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	if _, err := svc.WriteFile(ctx, "", "local/site", "posts/a.md", []byte("x"), ""); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := svc.ReadFile(ctx, "", "local/site", "posts"); !errors.Is(err, github.ErrNotFile) {
		t.Fatalf("expected ErrNotFile, got %v", err)
	}
}

func TestListDirectory(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	for _, path := range []string{"notes.md", "sub/nested.md"} {
		if _, err := svc.WriteFile(ctx, "", "local/site", path, []byte("x"), ""); err != nil {
			t.Fatalf("write %s failed: %v", path, err)
		}
	}

	entries, err := svc.ListDirectory(ctx, "", "local/site", "")
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}

	byName := map[string]github.Entry{}
	for _, entry := range entries {
		if entry.Name == ".git" {
			t.Fatalf(".git must not appear in listings")
		}
		byName[entry.Name] = entry
	}
	if entry, ok := byName["notes.md"]; !ok || entry.Type != "file" || entry.SHA == "" {
		t.Fatalf("expected notes.md file entry with sha, got %+v", byName)
	}
	if entry, ok := byName["sub"]; !ok || entry.Type != "dir" {
		t.Fatalf("expected sub dir entry, got %+v", byName)
	}

	nested, err := svc.ListDirectory(ctx, "", "local/site", "sub")
	if err != nil {
		t.Fatalf("nested ListDirectory failed: %v", err)
	}
	if len(nested) != 1 || nested[0].Path != "sub/nested.md" {
		t.Fatalf("expected nested entry with full path, got %+v", nested)
	}
}

func TestListMissingDirectoryNotFound(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("local/site"); err != nil {
		t.Fatalf("EnsureRepo failed: %v", err)
	}
	if _, err := svc.ListDirectory(context.Background(), "", "local/site", "nope"); !errors.Is(err, github.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
