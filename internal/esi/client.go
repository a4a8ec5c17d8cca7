// Package esi is the HTTP client for the EVE ESI API.
// Responsibilities: make HTTP requests, return typed structs, respect ESI cache headers.
// Has no knowledge of the database or of sessions.
// Reads the Expires header from ESI responses and returns it to callers as CachedUntil.
// Handles ESI errors (429, 5xx) with retry logic.
package esi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/logging"
)

// DefaultBaseURL is the production ESI root including the version segment.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// maxRetries is the number of retries after the first attempt for 429 and 5xx.
const maxRetries = 3

// Client is the subset of ESI that corpsso needs to identify a character.
type Client interface {
	GetCharacter(ctx context.Context, characterID int64, token string) (Character, error)
	GetCharacterRoles(ctx context.Context, characterID int64, token string) ([]string, error)
	GetCorporation(ctx context.Context, corporationID int64) (Corporation, error)
	GetAlliance(ctx context.Context, allianceID int64) (Alliance, error)
}

// StatusError is returned for a non-retryable or exhausted non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ESI returned HTTP %d: %s", e.StatusCode, e.Body)
}

type httpClient struct {
	http    *http.Client
	baseURL string
	sleep   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

// NewClient returns an ESI client. An empty baseURL selects DefaultBaseURL;
// nil httpClient selects http.DefaultClient.
func NewClient(hc *http.Client, baseURL string, logger *zap.Logger) *httpClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &httpClient{
		http:    hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		sleep:   sleepCtx,
		logger:  logging.OrNop(logger).Named("esi"),
	}
}

// do performs a GET with retries. It returns the body and the time until which
// ESI allows the response to be cached. token is sent as Bearer when non-empty.
func (c *httpClient) do(ctx context.Context, url, token string) ([]byte, time.Time, error) {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("GET %s: %w", url, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if readErr != nil {
				return nil, time.Time{}, fmt.Errorf("reading response: %w", readErr)
			}
			return body, parseExpires(resp.Header.Get("Expires")), nil

		case resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries:
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.logger.Warn("rate limited, retrying", zap.String("url", url), zap.Duration("wait", wait))
			if err := c.wait(ctx, wait); err != nil {
				return nil, time.Time{}, err
			}

		case resp.StatusCode >= 500 && attempt < maxRetries:
			c.logger.Warn("server error, retrying",
				zap.String("url", url), zap.Int("status", resp.StatusCode), zap.Duration("wait", backoff))
			if err := c.wait(ctx, backoff); err != nil {
				return nil, time.Time{}, err
			}
			backoff *= 2

		default:
			return nil, time.Time{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
	}
}

func (c *httpClient) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sleep(ctx, d); err != nil {
		return err
	}
	return ctx.Err()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseExpires parses an HTTP-date Expires header, falling back to now.
func parseExpires(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Now()
	}
	return t
}

// parseRetryAfter parses a Retry-After header given in seconds, falling back to 1s.
func parseRetryAfter(s string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return time.Second
	}
	return time.Duration(n) * time.Second
}
