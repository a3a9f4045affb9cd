package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// StatusError is returned for a non-2xx response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// poster sends a request with retries on network errors, 429 and 5xx
type poster struct {
	client   *http.Client
	attempts uint
	delay    time.Duration
}

func newPoster(client *http.Client) poster {
	return poster{client: client, attempts: defaultAttempts, delay: defaultRetryDelay}
}

func (p poster) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) error {
	return retry.Do(func() error {
		req, err := newReq(ctx)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{Code: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return serr
		}
		return retry.Unrecoverable(serr)
	},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.LastErrorOnly(true))
}
