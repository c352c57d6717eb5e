package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
)

// newTestStorage creates a LocalStorage backed by a temporary directory.
func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestUpload(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	content := "Date/Time,User ID\n2024-01-01 09:00:00,7\n"
	result, err := s.Upload(ctx, "user-audit/audit-log/2024/01/a.csv", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	if result.Path != "user-audit/audit-log/2024/01/a.csv" {
		t.Errorf("Path = %q, want user-audit/audit-log/2024/01/a.csv", result.Path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}

	fullPath := filepath.Join(s.basePath, "user-audit", "audit-log", "2024", "01", "a.csv")
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		t.Error("Upload() did not create file at nested path")
	}
}

func TestUpload_ChecksumConsistency(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	content := "consistent data"
	r1, _ := s.Upload(ctx, "one.csv", strings.NewReader(content), int64(len(content)))
	r2, _ := s.Upload(ctx, "two.csv", strings.NewReader(content), int64(len(content)))

	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

func TestDownload(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	want := "download me"
	if _, err := s.Upload(ctx, "dl.csv", strings.NewReader(want), int64(len(want))); err != nil {
		t.Fatal("Upload:", err)
	}

	rc, err := s.Download(ctx, "dl.csv")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != want {
		t.Errorf("Download() content = %q, want %q", string(data), want)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.Download(context.Background(), "nonexistent.csv"); err == nil {
		t.Error("Download() expected error for missing file, got nil")
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete_CleansUpEmptyParentDirs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "sub/leaf.csv", strings.NewReader("x"), 1); err != nil {
		t.Fatal("Upload:", err)
	}
	if err := s.Delete(ctx, "sub/leaf.csv"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if ok, _ := s.Exists(ctx, "sub/leaf.csv"); ok {
		t.Error("Delete() file still exists after deletion")
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "sub")); !os.IsNotExist(err) {
		t.Error("Delete() should clean up empty parent directory 'sub'")
	}
	if _, err := os.Stat(s.basePath); err != nil {
		t.Errorf("Delete() removed the base directory: %v", err)
	}
}

func TestDelete_NonExistentFile(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Delete(context.Background(), "does-not-exist.csv"); err != nil {
		t.Errorf("Delete() error for non-existent file: %v (want nil)", err)
	}
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "no-such.csv")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists() = true for non-existent file, want false")
	}

	if _, err := s.Upload(ctx, "yes.csv", strings.NewReader("data"), 4); err != nil {
		t.Fatal("Upload:", err)
	}
	if ok, _ := s.Exists(ctx, "yes.csv"); !ok {
		t.Error("Exists() = false for existing file, want true")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestList_FiltersByPrefixAndSorts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{
		"user-audit/report/2024/02/b.csv",
		"user-audit/audit-log/2024/01/z.csv",
		"user-audit/audit-log/2024/01/a.csv",
		"other/x.csv",
	} {
		if _, err := s.Upload(ctx, p, strings.NewReader("data"), 4); err != nil {
			t.Fatal("Upload:", err)
		}
	}

	got, err := s.List(ctx, "user-audit/audit-log/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d objects, want 2", len(got))
	}
	if got[0].Path != "user-audit/audit-log/2024/01/a.csv" || got[1].Path != "user-audit/audit-log/2024/01/z.csv" {
		t.Errorf("List() paths = %q, %q", got[0].Path, got[1].Path)
	}
	if got[0].Size != 4 || got[0].LastModified.IsZero() {
		t.Errorf("List() info = %+v", got[0])
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List(\"\") returned %d objects, want 4", len(all))
	}
}

func TestList_Empty(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.List(context.Background(), "user-audit/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", got)
	}
}
