package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"
	"github.com/user-audit-scheduler/user-audit-scheduler/pkg/checksum"
)

// memStorage is an in-memory storage.Storage.
type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) Upload(_ context.Context, p string, r io.Reader, _ int64) (*storage.UploadResult, error) {
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = data
	return &storage.UploadResult{Path: p, Size: int64(len(data)), Checksum: checksum.Bytes(data)}, nil
}

func (m *memStorage) Download(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p]
	if !ok {
		return nil, fmt.Errorf("not found: %s", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
	return nil
}

func (m *memStorage) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[p]
	return ok, nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for p, data := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, storage.ObjectInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func newTestService(t *testing.T, settings models.AuditSettings, notifier Notifier, archive storage.Storage) (*Service, *fakeAuditReader) {
	t.Helper()
	logs := &fakeAuditReader{entries: []models.AuditLogEntry{
		entry(1, models.ChangeUserDeleted, "Editor", ""),
	}}
	b := NewBuilder(logs, directory(), fakePolicy{}, fakeRoleNames{highest: "Administrator"}, 30, "")
	r, err := NewRenderer()
	require.NoError(t, err)
	var archiver *storage.Archiver
	if archive != nil {
		archiver = storage.NewArchiver(archive, "archives")
	}
	return NewService(&fakeSettings{settings: settings}, b, r, notifier, archiver), logs
}

func settingsWithRecipients(raw string) models.AuditSettings {
	s := models.DefaultAuditSettings()
	s.EmailRecipients = raw
	return s
}

func TestService_Send(t *testing.T) {
	n := &fakeNotifier{}
	store := newMemStorage()
	svc, _ := newTestService(t, settingsWithRecipients("ops@example.com\nsec@example.com"), n, store)

	require.NoError(t, svc.Send(context.Background(), TriggerManual))

	require.Len(t, n.sent, 1)
	msg := n.sent[0]
	assert.Equal(t, []string{"ops@example.com", "sec@example.com"}, msg.To)
	assert.Equal(t, models.DefaultEmailSubject, msg.Subject)
	assert.Contains(t, msg.HTMLBody, "High priority (1)")

	objects, err := store.List(context.Background(), "archives/"+storage.KindReport+"/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Contains(t, string(store.objects[objects[0].Path]), "admin")
}

func TestService_Send_CustomSubject(t *testing.T) {
	n := &fakeNotifier{}
	cfg := settingsWithRecipients("ops@example.com")
	cfg.EmailSubject = "  Weekly review  "
	svc, _ := newTestService(t, cfg, n, nil)

	require.NoError(t, svc.Send(context.Background(), TriggerScheduled))
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Weekly review", n.sent[0].Subject)
}

func TestService_Send_NoRecipientsSkipsBuild(t *testing.T) {
	n := &fakeNotifier{}
	svc, logs := newTestService(t, settingsWithRecipients("not-an-address"), n, nil)

	err := svc.Send(context.Background(), TriggerScheduled)
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Equal(t, 0, logs.calls)
	assert.Empty(t, n.sent)
}

func TestService_Send_DeliveryFailureSkipsArchive(t *testing.T) {
	n := &fakeNotifier{err: fmt.Errorf("%w: connection refused", ErrDelivery)}
	store := newMemStorage()
	svc, _ := newTestService(t, settingsWithRecipients("ops@example.com"), n, store)

	err := svc.Send(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Empty(t, store.objects)
}

func TestService_Send_ArchiveFailureIsNotFatal(t *testing.T) {
	n := &fakeNotifier{}
	store := newMemStorage()
	store.uploadErr = errBoom
	svc, _ := newTestService(t, settingsWithRecipients("ops@example.com"), n, store)

	require.NoError(t, svc.Send(context.Background(), TriggerManual))
	assert.Len(t, n.sent, 1)
}

func TestService_Send_SettingsError(t *testing.T) {
	svc, _ := newTestService(t, models.AuditSettings{}, &fakeNotifier{}, nil)
	svc.settings = &fakeSettings{err: errBoom}

	err := svc.Send(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, errBoom)
}

func TestService_PrivilegedUsers(t *testing.T) {
	svc, _ := newTestService(t, models.DefaultAuditSettings(), &fakeNotifier{}, nil)

	users, err := svc.PrivilegedUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "Administrator", users[0].Role)
}
