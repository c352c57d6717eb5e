package forward_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/forward"
)

func entry(id int64) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:              id,
		SubjectUserID:   42,
		SubjectUsername: "alice",
		ChangeType:      models.ChangeRoleChanged,
		OldValue:        models.StringPtr("Editor"),
		NewValue:        models.StringPtr("Administrator"),
		ActorUsername:   "root",
		OccurredAt:      time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Fanout
// ---------------------------------------------------------------------------

func TestNew_Empty(t *testing.T) {
	f, err := forward.New(config.ForwardingConfig{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if f.Enabled() {
		t.Error("Enabled() = true, want false with no sinks")
	}
	if err := f.Ship(context.Background(), entry(1)); err != nil {
		t.Errorf("Ship() on empty fanout = %v, want nil", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() on empty fanout = %v, want nil", err)
	}
}

func TestNew_FileBadPath(t *testing.T) {
	cfg := config.ForwardingConfig{File: config.ForwardFileConfig{Path: filepath.Join(t.TempDir(), "nodir", "audit.jsonl")}}
	if _, err := forward.New(cfg); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFanout_ContinuesAfterSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := forward.New(config.ForwardingConfig{
		Webhook: config.ForwardWebhookConfig{URL: srv.URL, Timeout: time.Second},
		File:    config.ForwardFileConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !f.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}

	if err := f.Ship(context.Background(), entry(1)); err == nil {
		t.Error("Ship() = nil, want webhook error")
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		t.Error("file sink received nothing after webhook failure")
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestNewWebhookShipper_RequiresURL(t *testing.T) {
	if _, err := forward.NewWebhookShipper(config.ForwardWebhookConfig{}); err == nil {
		t.Error("expected error for empty url, got nil")
	}
}

func TestWebhookShipper_ShipEntry(t *testing.T) {
	var received bytes.Buffer
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		gotToken = r.Header.Get("X-Auth-Token")
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := forward.NewWebhookShipper(config.ForwardWebhookConfig{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Auth-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), entry(7)); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded models.AuditLogEntry
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.ID != 7 || decoded.ChangeType != models.ChangeRoleChanged {
		t.Errorf("decoded = %+v, want id 7 role_changed", decoded)
	}
	if models.ValueOrEmpty(decoded.NewValue) != "Administrator" {
		t.Errorf("new_value = %q, want Administrator", models.ValueOrEmpty(decoded.NewValue))
	}
	if gotToken != "secret" {
		t.Errorf("X-Auth-Token = %q, want secret", gotToken)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, _ := forward.NewWebhookShipper(config.ForwardWebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	defer ws.Close()

	if err := ws.Ship(context.Background(), entry(1)); err == nil {
		t.Error("Ship() = nil, want error for 502 response")
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := forward.NewWebhookShipper(config.ForwardWebhookConfig{URL: "http://localhost:0", BatchSize: 10})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

// batchServer records the size of each posted JSON array.
func batchServer(t *testing.T) (*httptest.Server, chan int) {
	t.Helper()
	sizes := make(chan int, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.AuditLogEntry
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("batch body is not a JSON array: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		sizes <- len(batch)
	}))
	t.Cleanup(srv.Close)
	return srv, sizes
}

func TestWebhookShipper_BatchFlushOnSize(t *testing.T) {
	srv, sizes := batchServer(t)

	ws, _ := forward.NewWebhookShipper(config.ForwardWebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     2,
		FlushInterval: time.Minute,
	})
	defer ws.Close()

	ws.Ship(context.Background(), entry(1))
	ws.Ship(context.Background(), entry(2))

	select {
	case n := <-sizes:
		if n != 2 {
			t.Errorf("batch size = %d, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for size-triggered flush")
	}
}

func TestWebhookShipper_BatchFlushOnInterval(t *testing.T) {
	srv, sizes := batchServer(t)

	ws, _ := forward.NewWebhookShipper(config.ForwardWebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	})
	defer ws.Close()

	ws.Ship(context.Background(), entry(1))

	select {
	case n := <-sizes:
		if n != 1 {
			t.Errorf("batch size = %d, want 1", n)
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for interval flush")
	}
}

func TestWebhookShipper_BatchFlushOnClose(t *testing.T) {
	srv, sizes := batchServer(t)

	ws, _ := forward.NewWebhookShipper(config.ForwardWebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: time.Minute,
	})

	ws.Ship(context.Background(), entry(1))
	ws.Ship(context.Background(), entry(2))
	ws.Close()

	select {
	case n := <-sizes:
		if n != 2 {
			t.Errorf("batch size = %d, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for close-triggered flush")
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_MultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	fs, err := forward.NewFileShipper(config.ForwardFileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := fs.Ship(context.Background(), entry(i)); err != nil {
			t.Fatalf("Ship(%d) error: %v", i, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, _ := os.ReadFile(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var ids []int64
	for scanner.Scan() {
		var decoded models.AuditLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, decoded.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("ids = %v, want [1 2 3]", ids)
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	if err := os.WriteFile(path, make([]byte, 1*1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := forward.NewFileShipper(config.ForwardFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), entry(1)); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("live file missing after rotation: %v", err)
	}
	if info.Size() > 1024 {
		t.Errorf("live file size = %d, want a single entry", info.Size())
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

type fakeStore struct {
	err error
	id  int64
}

func (s *fakeStore) Insert(_ context.Context, e *models.AuditLogEntry) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.id++
	e.ID = s.id
	return s.id, nil
}

type recordingShipper struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
	err     error
}

func (r *recordingShipper) Ship(_ context.Context, e *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return r.err
}

func (r *recordingShipper) Close() error { return nil }

func TestStore_ShipsCommittedEntry(t *testing.T) {
	sink := &recordingShipper{}
	store := forward.NewStore(&fakeStore{}, sink)

	id, err := store.Insert(context.Background(), entry(0))
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if len(sink.entries) != 1 || sink.entries[0].ID != 1 {
		t.Errorf("shipped = %+v, want one entry with id 1", sink.entries)
	}
}

func TestStore_InsertFailureIsNotShipped(t *testing.T) {
	sink := &recordingShipper{}
	storeErr := errors.New("db down")
	store := forward.NewStore(&fakeStore{err: storeErr}, sink)

	if _, err := store.Insert(context.Background(), entry(0)); !errors.Is(err, storeErr) {
		t.Errorf("Insert() error = %v, want %v", err, storeErr)
	}
	if len(sink.entries) != 0 {
		t.Errorf("shipped %d entries, want 0", len(sink.entries))
	}
}

func TestStore_ShipFailureDoesNotFailInsert(t *testing.T) {
	sink := &recordingShipper{err: errors.New("sink down")}
	store := forward.NewStore(&fakeStore{}, sink)

	if _, err := store.Insert(context.Background(), entry(0)); err != nil {
		t.Errorf("Insert() error = %v, want nil", err)
	}
}
