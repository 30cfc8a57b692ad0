package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 30 * time.Second
	defaultHTTPTimeout   = 5 * time.Second
	batchPath            = "/analytics/batch"
)

// Config drives how the reporting client is built. Every field is
// optional except BaseURL.
type Config struct {
	// BaseURL of the TreePulse server, e.g. "https://pulse.example.com".
	BaseURL string
	// StoragePath of the persistent state file. Defaults to
	// analytics.json under the user cache directory.
	StoragePath string
	// FlushInterval of the background timer. Defaults to 30s.
	FlushInterval time.Duration
	// HTTPTimeout of one batch delivery. Defaults to 5s.
	HTTPTimeout time.Duration
	Logger      *zap.Logger
}

// Client is the embeddable reporting client: deduplicates events,
// buffers them in a persistent local queue, and flushes batches on a
// timer, on capacity, after clicks, and on Close.
type Client struct {
	dedup  *Deduplicator
	queue  *Queue
	logger *zap.Logger

	stopChan  chan struct{}
	closeOnce sync.Once
}

// New builds a client and starts its background flush timer.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path := cfg.StoragePath
	if path == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("client: resolve storage path: %w", err)
		}
		path = filepath.Join(cacheDir, "treepulse", "analytics.json")
	}

	persistent, err := NewFileStore(path)
	if err != nil {
		// Degrade to memory-only persistence rather than refusing to
		// start: the queue then lives for this process only.
		logger.Warn("persistent store unavailable, using memory store", zap.Error(err))
		persistent = NewMemoryStore()
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	sender := newHTTPSender(cfg.BaseURL, timeout)

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	c := &Client{
		dedup:    NewDeduplicator(NewMemoryStore(), persistent),
		queue:    NewQueue(persistent, sender, logger),
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	go c.autoFlush(interval)
	return c, nil
}

// TrackView reports one view of the linktree with the given UID, unless
// it was already tracked on this client.
func (c *Client) TrackView(uid string) {
	if uid == "" || c.dedup.HasTracked(KindView, uid) {
		return
	}
	c.dedup.MarkTracked(KindView, uid)
	c.queue.EnqueueView(uid)
}

// TrackClick reports one click on a link. A flush is kicked off right
// away to maximize delivery odds before the user navigates away.
func (c *Client) TrackClick(linkID, linktreeID string) {
	if linkID == "" || linktreeID == "" || c.dedup.HasTracked(KindClick, linkID) {
		return
	}
	c.dedup.MarkTracked(KindClick, linkID)
	c.queue.EnqueueClick(linkID, linktreeID)

	go func() {
		if err := c.queue.Flush(context.Background()); err != nil {
			c.logger.Debug("click flush failed, batch restored", zap.Error(err))
		}
	}()
}

// Flush delivers all queued events now.
func (c *Client) Flush(ctx context.Context) error {
	return c.queue.Flush(ctx)
}

// Close stops the background timer and performs one final flush, the
// counterpart of flushing when a page becomes hidden.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopChan)
		ctx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
		defer cancel()
		err = c.queue.Flush(ctx)
	})
	return err
}

func (c *Client) autoFlush(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.queue.Len() == 0 {
				continue
			}
			if err := c.queue.Flush(context.Background()); err != nil {
				c.logger.Debug("timer flush failed, batch restored", zap.Error(err))
			}
		case <-c.stopChan:
			return
		}
	}
}

// httpSender posts batches to the ingest endpoint. It deliberately uses
// net/http: the client must stay embeddable without dragging a server
// framework into consumer builds.
type httpSender struct {
	baseURL string
	client  *http.Client
}

func newHTTPSender(baseURL string, timeout time.Duration) *httpSender {
	return &httpSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *httpSender) SendBatch(ctx context.Context, batch BatchPayload) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send batch: unexpected status %d", resp.StatusCode)
	}
	return nil
}
