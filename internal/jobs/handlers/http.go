package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trendsched/internal/jobs"
)

const maxErrorBody = 512

type HTTPOptions struct {
	URL     string
	Method  string // default POST
	Headers map[string]string
	Client  *http.Client
}

type httpHandler struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

type httpPayload struct {
	JobName     string           `json:"job_name"`
	ExecutionID string           `json:"execution_id"`
	Trigger     jobs.TriggerKind `json:"trigger"`
	SentAt      time.Time        `json:"sent_at"`
}

// NewHTTP returns a handler that calls a collaborator endpoint. Any non-2xx
// response fails the run with the status and a truncated body.
func NewHTTP(opt HTTPOptions) (jobs.Handler, error) {
	u, err := url.Parse(strings.TrimSpace(opt.URL))
	if err != nil {
		return nil, fmt.Errorf("handler url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("handler url: scheme must be http or https")
	}
	method := strings.ToUpper(strings.TrimSpace(opt.Method))
	if method == "" {
		method = http.MethodPost
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{}
	}
	return &httpHandler{url: u.String(), method: method, headers: opt.Headers, client: client}, nil
}

func (h *httpHandler) Run(ctx context.Context, run jobs.Run) error {
	body, err := json.Marshal(httpPayload{
		JobName:     run.JobName,
		ExecutionID: run.ExecutionID,
		Trigger:     run.Trigger,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Execution-ID", run.ExecutionID)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", h.method, h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("%s %s: status %d", h.method, h.url, resp.StatusCode)
	if msg := strings.TrimSpace(string(snippet)); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	// A 4xx will not change on retry, except timeouts and throttling.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return jobs.Permanent(err)
	}
	return err
}
