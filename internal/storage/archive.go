package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user-audit-scheduler/user-audit-scheduler/pkg/checksum"
)

// Archive kinds, used as the first path segment under the prefix.
const (
	KindAuditLog = "audit-log"
	KindReport   = "report"
)

// Archiver names and writes archive files on a Backend. A nil *Archiver is
// valid and archives nothing.
type Archiver struct {
	backend Storage
	prefix  string
	now     func() time.Time
}

// NewArchiver returns an Archiver writing under prefix, or nil when backend
// is nil.
func NewArchiver(backend Storage, prefix string) *Archiver {
	if backend == nil {
		return nil
	}
	return &Archiver{
		backend: backend,
		prefix:  strings.Trim(prefix, "/"),
		now:     time.Now,
	}
}

// Enabled reports whether archives are written.
func (a *Archiver) Enabled() bool {
	return a != nil
}

// ObjectPath returns the path for a new archive of kind taken at t:
// <prefix>/<kind>/<yyyy>/<mm>/<kind>-<yyyymmddThhmmssZ>-<id>.csv
func (a *Archiver) ObjectPath(kind string, t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s-%s-%s.csv", kind, t.Format("20060102T150405Z"), uuid.NewString()[:8])
	return path.Join(a.prefix, kind, t.Format("2006"), t.Format("01"), name)
}

// Put stores data as a new archive of kind. The backend's checksum must
// match the data written. On a nil Archiver it returns nil, nil.
func (a *Archiver) Put(ctx context.Context, kind string, data []byte) (*UploadResult, error) {
	if a == nil {
		return nil, nil
	}
	p := a.ObjectPath(kind, a.now())
	res, err := a.backend.Upload(ctx, p, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", kind, err)
	}
	if want := checksum.Bytes(data); res.Checksum != want {
		return nil, fmt.Errorf("archive %s: checksum mismatch for %s: got %q, want %q", kind, p, res.Checksum, want)
	}
	return res, nil
}

// List returns the archives of kind, or every archive when kind is empty.
func (a *Archiver) List(ctx context.Context, kind string) ([]ObjectInfo, error) {
	if a == nil {
		return []ObjectInfo{}, nil
	}
	prefix := a.prefix
	if kind != "" {
		prefix = path.Join(prefix, kind)
	}
	if prefix != "" {
		prefix += "/"
	}
	return a.backend.List(ctx, prefix)
}

// Open opens an archive previously returned by List or Put.
func (a *Archiver) Open(ctx context.Context, p string) (*bytes.Reader, error) {
	if a == nil {
		return nil, fmt.Errorf("archiving is disabled")
	}
	p = path.Clean(p)
	if strings.HasPrefix(p, "..") || path.IsAbs(p) || (a.prefix != "" && !strings.HasPrefix(p, a.prefix+"/")) {
		return nil, fmt.Errorf("path %q is outside the archive prefix", p)
	}
	rc, err := a.backend.Download(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read archive %s: %w", p, err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
