package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
)

type storedBlob struct {
	content      []byte
	metadata     map[string]string
	lastModified time.Time
}

// newTestStorage points an AzureStorage at an httptest server that speaks
// enough of the Blob REST API for these tests. Keys are "<container>/<blob>".
func newTestStorage(t *testing.T) (*AzureStorage, map[string]*storedBlob) {
	t.Helper()

	var mu sync.Mutex
	store := map[string]*storedBlob{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		key := strings.TrimPrefix(r.URL.Path, "/")
		q := r.URL.Query()

		// List blobs: GET /container?restype=container&comp=list&prefix=...
		if r.Method == http.MethodGet && q.Get("comp") == "list" {
			prefix := key + "/" + q.Get("prefix")
			var names []string
			for k := range store {
				if strings.HasPrefix(k, prefix) {
					names = append(names, k)
				}
			}
			sort.Strings(names)
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><EnumerationResults ContainerName="%s"><Blobs>`, key)
			for _, k := range names {
				b := store[k]
				fmt.Fprintf(w, `<Blob><Name>%s</Name><Properties><Last-Modified>%s</Last-Modified><Content-Length>%d</Content-Length></Properties></Blob>`,
					strings.TrimPrefix(k, key+"/"), b.lastModified.Format(http.TimeFormat), len(b.content))
			}
			fmt.Fprint(w, `</Blobs><NextMarker /></EnumerationResults>`)
			return
		}

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
				}
			}
			store[key] = &storedBlob{content: data, metadata: meta, lastModified: time.Now().UTC()}
			w.WriteHeader(http.StatusCreated)

		case http.MethodGet:
			b, ok := store[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.WriteHeader(http.StatusOK)
			w.Write(b.content)

		case http.MethodHead:
			b, ok := store[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
			w.Header().Set("Last-Modified", b.lastModified.Format(http.TimeFormat))
			for k, v := range b.metadata {
				w.Header().Set("x-ms-meta-"+k, v)
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			if _, ok := store[key]; !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(store, key)
			w.WriteHeader(http.StatusAccepted)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}

	return &AzureStorage{client: client, containerName: "archives"}, store
}

// ---------------------------------------------------------------------------
// Upload / Download / Delete / Exists
// ---------------------------------------------------------------------------

func TestUploadDownloadDeleteAndExists(t *testing.T) {
	s, store := newTestStorage(t)
	ctx := context.Background()
	data := []byte("Date/Time,User ID\n")

	res, err := s.Upload(ctx, "user-audit/report/a.csv", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("unexpected size: got %d want %d", res.Size, len(data))
	}
	if got := store["archives/user-audit/report/a.csv"].metadata["sha256"]; got != res.Checksum {
		t.Errorf("sha256 metadata = %q, want %q", got, res.Checksum)
	}

	rc, err := s.Download(ctx, "user-audit/report/a.csv")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("download content mismatch: %q", string(got))
	}

	exists, err := s.Exists(ctx, "user-audit/report/a.csv")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("Exists = false, want true")
	}

	if err := s.Delete(ctx, "user-audit/report/a.csv"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = s.Exists(ctx, "user-audit/report/a.csv")
	if err != nil {
		t.Fatalf("Exists after delete returned error: %v", err)
	}
	if exists {
		t.Fatalf("Exists = true after delete, want false")
	}
}

func TestDelete_MissingBlobIsNotAnError(t *testing.T) {
	s, _ := newTestStorage(t)

	if err := s.Delete(context.Background(), "never/uploaded.csv"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestList(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"user-audit/audit-log/b.csv", "user-audit/audit-log/a.csv", "user-audit/report/c.csv"} {
		if _, err := s.Upload(ctx, p, strings.NewReader("abcd"), 4); err != nil {
			t.Fatalf("Upload(%s): %v", p, err)
		}
	}

	got, err := s.List(ctx, "user-audit/audit-log/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d blobs, want 2", len(got))
	}
	if got[0].Path != "user-audit/audit-log/a.csv" || got[1].Path != "user-audit/audit-log/b.csv" {
		t.Errorf("List paths = %q, %q", got[0].Path, got[1].Path)
	}
	if got[0].Size != 4 {
		t.Errorf("Size = %d, want 4", got[0].Size)
	}
}

// ---------------------------------------------------------------------------
// New() - constructor validation (no cloud connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}},
		{"missing account key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Errorf("New() = nil error, want error")
			}
		})
	}
}

func TestNew_Valid(t *testing.T) {
	s, err := New(&config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5", ContainerName: "archives"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.containerName != "archives" {
		t.Errorf("containerName = %q, want archives", s.containerName)
	}
}
