package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nexus-rag/nexus/internal/errors"
)

// lazyClient defers HTTP client construction until the first request so
// that building a router has no network side effects.
type lazyClient struct {
	once   sync.Once
	client *http.Client
}

func (l *lazyClient) get() *http.Client {
	l.once.Do(func() {
		l.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
			},
			Timeout: DefaultRequestTimeout,
		}
	})
	return l.client
}

// classifyStatus maps a provider HTTP status to an error kind.
// 429-class responses are rate limits, 5xx are server faults, anything
// else non-2xx is unrecoverable.
func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("status %d: %s", status, string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return errors.New(errors.KindRateLimit, msg, nil)
	case status >= 500:
		return errors.New(errors.KindServerFault, msg, nil)
	default:
		return errors.New(errors.KindUnrecoverable, msg, nil)
	}
}

// postJSON sends a JSON body and decodes a JSON response into out.
// Transport failures are classified as server faults (retryable);
// non-2xx statuses go through classifyStatus.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(errors.KindUnrecoverable, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindUnrecoverable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(errors.KindServerFault, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(resp.StatusCode, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.KindUnrecoverable, fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// getOK performs a GET and reports whether the response is 2xx.
// Used by availability probes.
func getOK(ctx context.Context, client *http.Client, url string, headers map[string]string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// subBatches splits texts into provider-safe batches of at most size.
func subBatches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var batches [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}
