package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"course-bot/internal/util"
)

// httpClient performs JSON calls against a processor API under a per-call timeout
type httpClient struct {
	name    Name
	http    *http.Client
	timeout time.Duration
}

func newHTTPClient(name Name, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		name:    name,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("processor api returned %d: %s", e.Status, e.Body)
}

// call sends the request built by build and decodes a JSON response into out
func (c *httpClient) call(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error), out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := util.StartSpan(ctx, "processor."+string(c.name)+"."+op)
	start := time.Now()

	err := func() error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return &apiError{Status: resp.StatusCode, Body: string(body)}
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	}()

	util.ProcessorCallLatency.WithLabelValues(string(c.name), op).Observe(time.Since(start).Seconds())
	util.EndSpan(span, err)

	if err != nil {
		util.ProcessorUnavailableTotal.WithLabelValues(string(c.name), op).Inc()
		util.GetLogger().Warn("Processor call failed",
			zap.String("processor", string(c.name)),
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return err
}

func jsonRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
