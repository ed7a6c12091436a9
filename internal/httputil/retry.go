// Package httputil provides HTTP helpers shared by the upstream clients.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryBaseDelay is the base for exponential backoff on HTTP 429.
// Tests override it to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// DefaultMaxRetries is used when DoWithRetry is given maxRetries <= 0.
const DefaultMaxRetries = 3

// maxRetryAfter caps a server-provided Retry-After hint.
const maxRetryAfter = time.Minute

// DoWithRetry executes req and retries on 429 Too Many Requests with
// exponential backoff (RetryBaseDelay, doubled per attempt). A Retry-After
// header in seconds takes precedence when present.
//
// Requests with a body must be replayable (http.NewRequest sets GetBody for
// bytes and strings readers). After exhausting retries the last 429 is
// returned for the caller to inspect. A context cancelled during a wait
// returns ctx.Err().
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= maxRetries {
			return resp, nil
		}

		backoff := retryAfter(resp.Header.Get("Retry-After"))
		if backoff == 0 {
			backoff = time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
