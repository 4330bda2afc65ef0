package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "trendsched/pkg/logx"
)

const webhookTimeout = 10 * time.Second

// webhook posts alerts as JSON. Posts are throttled to one per interval;
// alerts over the limit are counted and dropped, never queued.
type webhook struct {
	log    logx.Logger
	client *http.Client

	mu      sync.Mutex
	url     string
	limiter *rate.Limiter

	outbox  chan Alert
	dropped atomic.Uint64
}

func newWebhook(url string, every time.Duration, log logx.Logger) *webhook {
	w := &webhook{
		log:    log,
		client: &http.Client{Timeout: webhookTimeout},
		outbox: make(chan Alert, 64),
	}
	w.reconfigure(url, every)
	return w
}

func (w *webhook) reconfigure(url string, every time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = strings.TrimSpace(url)
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(rate.Every(every), 1)
		return
	}
	w.limiter.SetLimit(rate.Every(every))
}

func (w *webhook) enqueue(a Alert) {
	w.mu.Lock()
	url := w.url
	allowed := url != "" && w.limiter.Allow()
	w.mu.Unlock()
	if url == "" {
		return
	}
	if !allowed {
		w.dropped.Add(1)
		w.log.Debug("alert webhook throttled", logx.String("alert_id", a.ID))
		return
	}
	select {
	case w.outbox <- a:
	default:
		w.dropped.Add(1)
	}
}

func (w *webhook) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-w.outbox:
			if err := w.post(ctx, a); err != nil {
				w.log.Warn("alert webhook failed", logx.String("alert_id", a.ID), logx.Err(err))
			}
		}
	}
}

func (w *webhook) post(ctx context.Context, a Alert) error {
	w.mu.Lock()
	url := w.url
	w.mu.Unlock()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
