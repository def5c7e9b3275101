// exporter.go ships recorded auth events to destinations outside the
// database: a collector webhook (SIEM, log aggregator) or a local
// newline-delimited JSON file. The database row remains the authoritative
// record; export is an additive copy, and delivery failures are logged and
// dropped like every other failure on the trail's write path.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/agentplane/agentplane/internal/config"
)

// Entry is the wire form of one exported auth event. The database model
// carries no serialization tags; this type pins the export contract so
// collector pipelines do not break when storage details change.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Outcome   string                 `json:"outcome"`
	UserID    string                 `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Exporter sends auth events to an external destination.
type Exporter interface {
	// Export delivers one entry. Batching implementations may return nil
	// after queueing and deliver later.
	Export(ctx context.Context, entry *Entry) error
	// Close flushes buffered entries and releases resources.
	Close() error
}

// NewExporters builds an Exporter from the configured export destinations.
// Disabled entries are skipped. Returns nil when nothing is enabled; with one
// destination the exporter is returned directly, with several they are
// wrapped in a fan-out.
func NewExporters(cfgs []config.AuditExporterConfig) (Exporter, error) {
	var exporters []Exporter

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}

		var (
			exp Exporter
			err error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("audit export: webhook settings are required for a webhook destination")
			}
			exp = NewWebhookExporter(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("audit export: file settings are required for a file destination")
			}
			exp, err = NewFileExporter(cfg.File)
		default:
			return nil, fmt.Errorf("audit export: unknown destination type %q", cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("audit export: %w", err)
		}

		exporters = append(exporters, exp)
	}

	switch len(exporters) {
	case 0:
		return nil, nil
	case 1:
		return exporters[0], nil
	default:
		return &fanout{exporters: exporters}, nil
	}
}

// fanout delivers each entry to every destination, continuing past failures
// so one unreachable collector does not starve the others.
type fanout struct {
	exporters []Exporter
}

func (f *fanout) Export(ctx context.Context, entry *Entry) error {
	var lastErr error
	for _, exp := range f.exporters {
		if err := exp.Export(ctx, entry); err != nil {
			lastErr = err
			slog.Error("audit export destination failed", "error", err)
		}
	}
	return lastErr
}

func (f *fanout) Close() error {
	var lastErr error
	for _, exp := range f.exporters {
		if err := exp.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Webhook delivery defaults, applied when the config leaves them zero.
const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second
)

// WebhookExporter POSTs entries to an HTTP collector as JSON. With a batch
// size configured, entries are queued and sent as a JSON array when the batch
// fills, the flush interval elapses, or the exporter closes; otherwise each
// entry is sent on its own request.
type WebhookExporter struct {
	url     string
	headers map[string]string
	timeout time.Duration

	batchSize int
	client    *http.Client

	queue     chan *Entry
	batch     []*Entry
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookExporter creates a webhook exporter from its settings.
func NewWebhookExporter(cfg *config.AuditWebhookConfig) *WebhookExporter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultWebhookTimeout
	}

	w := &WebhookExporter{
		url:       cfg.URL,
		headers:   cfg.Headers,
		timeout:   timeout,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: timeout},
		queue:     make(chan *Entry, 1000),
		closeCh:   make(chan struct{}),
	}

	if w.batchSize > 0 {
		flushInterval := cfg.FlushInterval
		if flushInterval == 0 {
			flushInterval = defaultFlushInterval
		}
		go w.run(flushInterval)
	}

	return w
}

// run owns the batch: it appends queued entries, flushing when the batch
// fills or the interval fires, and drains the queue one last time on close.
func (w *WebhookExporter) run(flushInterval time.Duration) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-w.queue:
			w.batchMu.Lock()
			w.batch = append(w.batch, entry)
			if len(w.batch) >= w.batchSize {
				w.flush()
			}
			w.batchMu.Unlock()
		case <-ticker.C:
			w.batchMu.Lock()
			w.flush()
			w.batchMu.Unlock()
		case <-w.closeCh:
			w.batchMu.Lock()
		drain:
			for {
				select {
				case entry := <-w.queue:
					w.batch = append(w.batch, entry)
				default:
					break drain
				}
			}
			w.flush()
			w.batchMu.Unlock()
			return
		}
	}
}

// flush sends the accumulated batch as one request. Callers hold batchMu.
func (w *WebhookExporter) flush() {
	if len(w.batch) == 0 {
		return
	}

	data, err := json.Marshal(w.batch)
	if err != nil {
		slog.Error("failed to marshal audit export batch", "error", err)
		w.batch = w.batch[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.send(ctx, data); err != nil {
		slog.Error("failed to deliver audit export batch",
			"entries", len(w.batch),
			"error", err,
		)
	}

	w.batch = w.batch[:0]
}

// Export queues the entry when batching, or sends it immediately otherwise.
// A full queue falls back to a direct send rather than dropping the entry.
func (w *WebhookExporter) Export(ctx context.Context, entry *Entry) error {
	if w.batchSize > 0 {
		select {
		case w.queue <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return w.send(ctx, data)
}

func (w *WebhookExporter) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build collector request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the batch goroutine, which flushes whatever is queued.
func (w *WebhookExporter) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
	return nil
}

// FileExporter appends entries to a local file as newline-delimited JSON,
// rotating when the file exceeds the configured size.
type FileExporter struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewFileExporter opens (or creates) the export file.
func NewFileExporter(cfg *config.AuditFileConfig) (*FileExporter, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit export file: %w", err)
	}

	return &FileExporter{
		path:       cfg.Path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		file:       file,
	}, nil
}

// Export writes one JSON line, rotating first if the file is over size.
func (f *FileExporter) Export(ctx context.Context, entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxBytes > 0 {
		if info, err := f.file.Stat(); err == nil && info.Size() > f.maxBytes {
			if err := f.rotate(); err != nil {
				slog.Error("failed to rotate audit export file", "path", f.path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path → path.1 → path.2 … keeping maxBackups files, then
// reopens a fresh file at path. Callers hold mu.
func (f *FileExporter) rotate() error {
	if err := f.file.Close(); err != nil {
		return err
	}

	for i := f.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(
			fmt.Sprintf("%s.%d", f.path, i),
			fmt.Sprintf("%s.%d", f.path, i+1),
		)
	}
	_ = os.Rename(f.path, f.path+".1")
	if f.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", f.path, f.maxBackups+1))
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	f.file = file
	return nil
}

// Close closes the export file.
func (f *FileExporter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
