// Package handlers builds job handlers from config.
//
// The heavy lifting (scraping trending repositories, rendering and mailing
// newsletters) lives in collaborator services; trendsched calls them over
// HTTP and records the outcome.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trendsched/internal/config"
	"trendsched/internal/jobs"
)

// Build returns the handler described by cfg. client may be nil.
func Build(cfg config.HandlerConfig, client *http.Client) (jobs.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "noop":
		return Noop(), nil
	case "sleep":
		d, err := config.ParseDurationField("handler.duration", cfg.Duration)
		if err != nil {
			return nil, err
		}
		return Sleep(d, cfg.FailMessage), nil
	case "http":
		return NewHTTP(HTTPOptions{
			URL:     cfg.URL,
			Method:  cfg.Method,
			Headers: cfg.Headers,
			Client:  client,
		})
	default:
		return nil, fmt.Errorf("unknown handler kind %q", cfg.Kind)
	}
}

func Noop() jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, _ jobs.Run) error { return ctx.Err() })
}

// Sleep waits d (or until ctx ends), then fails with failMsg when it is set.
func Sleep(d time.Duration, failMsg string) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, _ jobs.Run) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if failMsg != "" {
			return errors.New(failMsg)
		}
		return nil
	})
}
