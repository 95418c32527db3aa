package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/codec"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const (
	snapshotPrefix = "snapshots/"
	jsonlType      = "application/x-ndjson"
	snapshotPart   = 8 * 1024 * 1024
)

// Archiver implements domain.Archiver. Events and answer history are written
// as JSONL partitioned by the cutoff month; snapshots are codec binaries.
//
// Archived rows stay in the primary store. Pruning them is a separate step.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	events  domain.EventLog
	history domain.HistoryArchive
	audit   domain.AuditStore
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events domain.EventLog,
	history domain.HistoryArchive,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{writer: writer, reader: reader, events: events, history: history, audit: audit}
}

// ArchiveEvents uploads every event older than before to
// archive/events/YYYY-MM.jsonl and returns how many were written.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.EventsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	records := make([]bus.Message, len(events))
	for i, e := range events {
		records[i] = bus.FromEvent(e)
	}
	return upload(ctx, a, "events", before, records)
}

type historyRecord struct {
	OpinionID   uint64    `json:"opinion_id"`
	Answer      string    `json:"answer"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner"`
	Price       int64     `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
}

// ArchiveHistory uploads every answer history entry older than before to
// archive/history/YYYY-MM.jsonl.
func (a *Archiver) ArchiveHistory(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.history.HistoryBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	records := make([]historyRecord, len(entries))
	for i, h := range entries {
		records[i] = historyRecord{
			OpinionID:   h.OpinionID,
			Answer:      h.Answer,
			Description: h.Description,
			Owner:       h.Owner.Hex(),
			Price:       int64(h.Price),
			Timestamp:   h.Timestamp.UTC(),
		}
	}
	return upload(ctx, a, "history", before, records)
}

func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlType); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	count := int64(len(records))
	a.auditLog(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	})
	return count, nil
}

// ExportSnapshot writes snap to snapshots/{unix-nanos}.bin and returns the
// object path.
func (a *Archiver) ExportSnapshot(ctx context.Context, snap *domain.Snapshot, at time.Time) (string, error) {
	path := fmt.Sprintf("%s%020d.bin", snapshotPrefix, at.UTC().UnixNano())
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(codec.EncodeSnapshot(snap)), snapshotPart); err != nil {
		return "", fmt.Errorf("s3blob: export snapshot: %w", err)
	}
	a.auditLog(ctx, "archive.snapshot", map[string]any{
		"path":     path,
		"opinions": len(snap.Opinions),
		"pools":    len(snap.Pools),
	})
	return path, nil
}

// LatestSnapshot reads the newest exported snapshot. It returns
// domain.ErrNotFound when none exists.
func (a *Archiver) LatestSnapshot(ctx context.Context) (*domain.Snapshot, string, error) {
	if a.reader == nil {
		return nil, "", fmt.Errorf("s3blob: latest snapshot: no reader configured")
	}
	infos, err := a.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, "", fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	var paths []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".bin") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) == 0 {
		return nil, "", domain.ErrNotFound
	}
	// Zero-padded timestamps sort lexically.
	sort.Strings(paths)
	latest := paths[len(paths)-1]

	body, err := a.reader.Get(ctx, latest)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("s3blob: read snapshot %s: %w", latest, err)
	}
	snap, err := codec.DecodeSnapshot(raw)
	if err != nil {
		return nil, "", fmt.Errorf("s3blob: decode snapshot %s: %w", latest, err)
	}
	return snap, latest, nil
}

func (a *Archiver) auditLog(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	// Audit is best effort; the upload already succeeded.
	_ = a.audit.Log(ctx, event, detail)
}

// archivePath is archive/{kind}/{YYYY-MM}.jsonl for the cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
