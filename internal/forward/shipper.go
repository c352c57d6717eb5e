// Package forward copies recorded audit entries to sinks outside the
// database so a SIEM or log pipeline sees privileged account changes as they
// happen. Forwarding runs after the entry is committed and never fails the
// audit write.
//
// Two sinks are supported and may run together: a webhook that POSTs JSON
// (one entry, or arrays when batching), and a JSON-lines file with
// size-based rotation.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/safego"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// Shipper delivers audit entries to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLogEntry) error
	Close() error
}

type namedShipper struct {
	name string
	Shipper
}

// Fanout ships to every configured sink.
type Fanout struct {
	mu       sync.RWMutex
	shippers []namedShipper
}

// New builds the sinks named in cfg. A config with no URL and no path yields
// an empty Fanout.
func New(cfg config.ForwardingConfig) (*Fanout, error) {
	f := &Fanout{}

	if cfg.Webhook.URL != "" {
		ws, err := NewWebhookShipper(cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook shipper: %w", err)
		}
		f.shippers = append(f.shippers, namedShipper{name: "webhook", Shipper: ws})
	}

	if cfg.File.Path != "" {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		f.shippers = append(f.shippers, namedShipper{name: "file", Shipper: fs})
	}

	return f, nil
}

// Enabled reports whether any sink is configured.
func (f *Fanout) Enabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.shippers) > 0
}

// Ship sends entry to every sink. A failing sink does not stop the others;
// the returned error joins every failure.
func (f *Fanout) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for _, s := range f.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			telemetry.AuditEntriesForwardedTotal.WithLabelValues(s.name, "failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		telemetry.AuditEntriesForwardedTotal.WithLabelValues(s.name, "shipped").Inc()
	}
	return errors.Join(errs...)
}

// Close flushes and closes every sink.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, s := range f.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts entries to an HTTP endpoint
type WebhookShipper struct {
	cfg       config.ForwardWebhookConfig
	client    *http.Client
	batchCh   chan *models.AuditLogEntry
	batch     []*models.AuditLogEntry
	batchMu   sync.Mutex
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper and, when batching, starts its
// flush loop.
func NewWebhookShipper(cfg config.ForwardWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		batchCh: make(chan *models.AuditLogEntry, 1000),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		safego.Go("forward-webhook-batcher", ws.processBatches)
	} else {
		close(ws.doneCh)
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
			// Drain whatever was queued before Close.
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
					continue
				default:
				}
				break
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the pending batch. Caller holds batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	n := len(ws.batch)
	ws.batch = ws.batch[:0]
	if err != nil {
		slog.Error("failed to encode forwarded audit batch", "error", err, "entries", n)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Error("failed to forward audit batch", "error", err, "entries", n)
	}
}

// Ship queues entry when batching and the queue has room, otherwise posts
// it directly.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *models.AuditLogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any queued batch and stops the flush loop. Safe to call
// more than once.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends entries to a JSON-lines file
type FileShipper struct {
	cfg  config.ForwardFileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the target file for appending.
func NewFileShipper(cfg config.ForwardFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open forward file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes entry as one line, rotating first when the file has grown
// past MaxSizeMB.
func (fs *FileShipper) Ship(_ context.Context, entry *models.AuditLogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate forward file: %w", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and
// reopens. Backups beyond MaxBackups are removed.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
