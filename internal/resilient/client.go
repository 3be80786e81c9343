// Package resilient wraps one logical outbound HTTP call with a per-attempt
// timeout, a bounded number of attempts and exponential backoff. Every
// attempt is handed to a Recorder before the client retries or returns.
package resilient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/types"
)

// ErrDecode marks a 2xx response whose body could not be decoded.
var ErrDecode = errors.New("decode response")

// Recorder receives attempt records in issue order.
type Recorder interface {
	Record(types.AttemptRecord)
}

// Classifier maps an HTTP response to an outcome. Adapters supply one to
// translate provider-specific error bodies.
type Classifier func(status int, body []byte) types.Outcome

// Decoder consumes a successful response body.
type Decoder func(body []byte) error

type Request struct {
	Service  string
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Classify Classifier
}

// CallError is the terminal failure of a call.
type CallError struct {
	Service    string
	Kind       types.Kind
	Outcome    types.Outcome
	Attempts   int
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %s after %d attempt(s)", e.Service, e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// Policy is the retry policy. MaxAttempts counts the first attempt.
type Policy struct {
	CallTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64
}

func DefaultPolicy() Policy {
	return Policy{
		CallTimeout: 60 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
	}
}

// PolicyFromConfig copies the retry settings out of the pipeline config.
func PolicyFromConfig(p config.Pipeline) Policy {
	return Policy{
		CallTimeout: p.CallTimeout,
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BackoffBase,
		Multiplier:  p.BackoffFactor,
		MaxDelay:    p.BackoffMax,
		Jitter:      p.BackoffJitter,
	}
}

// BackOff returns the delay schedule between attempts. It yields
// MaxAttempts-1 delays and then backoff.Stop.
func (p Policy) BackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(retries))
}

type Client struct {
	http   *http.Client
	policy Policy
	log    *logrus.Entry
}

// NewHTTPClient returns the pooled client shared by every run. Timeouts are
// applied per attempt through the request context.
func NewHTTPClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 20
	t.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: t}
}

func New(httpClient *http.Client, policy Policy, log *logrus.Entry) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Client{http: httpClient, policy: policy, log: log.WithField("component", "resilient")}
}

func (c *Client) Policy() Policy { return c.policy }

// Do runs req until it succeeds, fails permanently, exhausts the attempt
// ceiling or ctx ends. decode may be nil.
func (c *Client) Do(ctx context.Context, rec Recorder, req Request, decode Decoder) error {
	log := c.log.WithField("service", req.Service)
	attempt := 0
	var last *CallError

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		r, cerr := c.attempt(ctx, req, decode, attempt)
		rec.Record(r)
		if cerr == nil {
			return nil
		}
		last = cerr
		log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"outcome":     r.Outcome,
			"status_code": r.StatusCode,
			"duration_ms": r.Duration.Milliseconds(),
		}).Warn(cerr.Err)
		if !cerr.Outcome.Retriable() {
			return backoff.Permanent(cerr)
		}
		return cerr
	}
	notify := func(_ error, d time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "delay_ms": d.Milliseconds()}).Info("backing off before retry")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.policy.BackOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		out := &CallError{Service: req.Service, Kind: types.KindDeadlineExceeded, Outcome: types.OutcomeTimeout, Attempts: attempt, Err: ctx.Err()}
		if last != nil {
			out.StatusCode = last.StatusCode
		}
		return out
	}
	if last != nil {
		return last
	}
	return &CallError{Service: req.Service, Kind: types.KindInternalError, Outcome: types.OutcomePermanentError, Attempts: attempt, Err: err}
}

// attempt issues a single request and always returns a filled record.
func (c *Client) attempt(ctx context.Context, req Request, decode Decoder, n int) (types.AttemptRecord, *CallError) {
	start := time.Now()
	rec := types.AttemptRecord{Timestamp: start, Service: req.Service, Attempt: n}
	fail := func(kind types.Kind, outcome types.Outcome, status int, err error) (types.AttemptRecord, *CallError) {
		rec.Duration = time.Since(start)
		rec.Outcome = outcome
		rec.StatusCode = status
		rec.Error = err.Error()
		return rec, &CallError{Service: req.Service, Kind: kind, Outcome: outcome, Attempts: n, StatusCode: status, Err: err}
	}

	actx, cancel := context.WithTimeout(ctx, c.policy.CallTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fail(types.KindUpstreamPermanent, types.OutcomePermanentError, 0, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		outcome := types.OutcomeTransientError
		if isTimeout(actx, err) {
			outcome = types.OutcomeTimeout
		}
		return fail(types.KindUpstreamTransient, outcome, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome := types.OutcomeTransientError
		if isTimeout(actx, err) {
			outcome = types.OutcomeTimeout
		}
		return fail(types.KindUpstreamTransient, outcome, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	classify := req.Classify
	if classify == nil {
		classify = DefaultClassify
	}
	outcome := classify(resp.StatusCode, body)
	if outcome != types.OutcomeSuccess {
		kind := types.KindUpstreamTransient
		if !outcome.Retriable() {
			kind = types.KindUpstreamPermanent
			if resp.StatusCode < 400 || resp.StatusCode > 599 {
				kind = types.KindInternalError
			}
		}
		return fail(kind, outcome, resp.StatusCode, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 512)))
	}

	if decode != nil {
		if err := decode(body); err != nil {
			return fail(types.KindUpstreamPermanent, types.OutcomePermanentError, resp.StatusCode, fmt.Errorf("%w: %v", ErrDecode, err))
		}
	}
	rec.Duration = time.Since(start)
	rec.Outcome = types.OutcomeSuccess
	rec.StatusCode = resp.StatusCode
	return rec, nil
}

// DefaultClassify is the status-code policy: 2xx success, 408 timeout,
// 429 rate limited, 5xx transient, everything else permanent.
func DefaultClassify(status int, _ []byte) types.Outcome {
	switch {
	case status >= 200 && status < 300:
		return types.OutcomeSuccess
	case status == http.StatusRequestTimeout:
		return types.OutcomeTimeout
	case status == http.StatusTooManyRequests:
		return types.OutcomeRateLimited
	case status >= 500:
		return types.OutcomeTransientError
	}
	return types.OutcomePermanentError
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
