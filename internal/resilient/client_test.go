package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"meeting-assistant-go/internal/logger"
	"meeting-assistant-go/internal/types"
)

type sliceRecorder struct {
	records []types.AttemptRecord
}

func (s *sliceRecorder) Record(r types.AttemptRecord) { s.records = append(s.records, r) }

func (s *sliceRecorder) outcomes() []types.Outcome {
	out := make([]types.Outcome, len(s.records))
	for i, r := range s.records {
		out[i] = r.Outcome
	}
	return out
}

func fastPolicy() Policy {
	return Policy{
		CallTimeout: time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    4 * time.Millisecond,
	}
}

func newClient(p Policy) *Client {
	return New(nil, p, logger.Discard().Entry)
}

// scripted answers each request with the next status in order, repeating
// the last one once the script runs out.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	srv, calls := scripted(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
	rec := &sliceRecorder{}

	var got struct{ OK bool }
	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{Service: "speech", Method: http.MethodPost, URL: srv.URL},
		func(body []byte) error { return json.Unmarshal(body, &got) })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !got.OK {
		t.Fatal("decoder did not run on the successful body")
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Fatalf("server saw %d calls, want 3", *calls)
	}
	want := []types.Outcome{types.OutcomeTransientError, types.OutcomeRateLimited, types.OutcomeSuccess}
	if diff := cmp.Diff(want, rec.outcomes()); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	for i, r := range rec.records {
		if r.Attempt != i+1 {
			t.Errorf("record %d has attempt index %d", i, r.Attempt)
		}
		if r.Service != "speech" {
			t.Errorf("record %d has service %q", i, r.Service)
		}
	}
}

func TestDoNonRetriableStopsImmediately(t *testing.T) {
	srv, calls := scripted(t, http.StatusBadRequest, http.StatusOK)
	rec := &sliceRecorder{}

	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{Service: "text", Method: http.MethodPost, URL: srv.URL}, nil)
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CallError, got %v", err)
	}
	if ce.Kind != types.KindUpstreamPermanent || ce.Attempts != 1 || ce.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected CallError: %+v", ce)
	}
	if len(rec.records) != 1 || atomic.LoadInt32(calls) != 1 {
		t.Fatalf("got %d records and %d calls, want 1 and 1", len(rec.records), *calls)
	}
}

func TestDoExhaustsCeiling(t *testing.T) {
	srv, _ := scripted(t, http.StatusBadGateway)
	rec := &sliceRecorder{}

	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{Service: "speech", Method: http.MethodPost, URL: srv.URL}, nil)
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CallError, got %v", err)
	}
	if ce.Kind != types.KindUpstreamTransient || ce.Attempts != 3 || ce.Outcome != types.OutcomeTransientError {
		t.Fatalf("unexpected CallError: %+v", ce)
	}
	if len(rec.records) != 3 {
		t.Fatalf("got %d records, want 3", len(rec.records))
	}
}

func TestDoDeadlineDuringBackoff(t *testing.T) {
	srv, calls := scripted(t, http.StatusServiceUnavailable)
	rec := &sliceRecorder{}
	p := fastPolicy()
	p.BaseDelay = time.Second
	p.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := newClient(p).Do(ctx, rec, Request{Service: "speech", Method: http.MethodPost, URL: srv.URL}, nil)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Do slept through the deadline: %v", elapsed)
	}
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != types.KindDeadlineExceeded {
		t.Fatalf("expected deadline CallError, got %v", err)
	}
	if len(rec.records) != 1 || atomic.LoadInt32(calls) != 1 {
		t.Fatalf("got %d records and %d calls after deadline, want 1 and 1", len(rec.records), *calls)
	}
}

func TestDoPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	rec := &sliceRecorder{}
	p := fastPolicy()
	p.CallTimeout = 20 * time.Millisecond
	p.MaxAttempts = 2

	err := newClient(p).Do(context.Background(), rec, Request{Service: "speech", Method: http.MethodGet, URL: srv.URL}, nil)
	var ce *CallError
	if !errors.As(err, &ce) || ce.Outcome != types.OutcomeTimeout || ce.Kind != types.KindUpstreamTransient {
		t.Fatalf("expected timeout CallError, got %v", err)
	}
	want := []types.Outcome{types.OutcomeTimeout, types.OutcomeTimeout}
	if diff := cmp.Diff(want, rec.outcomes()); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestDoDecodeFailureIsPermanent(t *testing.T) {
	srv, calls := scripted(t, http.StatusOK)
	rec := &sliceRecorder{}

	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{Service: "text", Method: http.MethodPost, URL: srv.URL},
		func([]byte) error { return errors.New("missing candidates") })
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if atomic.LoadInt32(calls) != 1 || rec.records[0].Outcome != types.OutcomePermanentError {
		t.Fatalf("decode failure was retried or misrecorded: %+v", rec.records)
	}
}

func TestDoUsesClassifierAndForwardsRequest(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"invalid audio"}`)
	}))
	defer srv.Close()
	rec := &sliceRecorder{}

	classify := func(status int, body []byte) types.Outcome { return types.OutcomePermanentError }
	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{
		Service:  "speech",
		Method:   http.MethodPost,
		URL:      srv.URL,
		Header:   http.Header{"Authorization": {"token"}},
		Body:     []byte(`{"a":1}`),
		Classify: classify,
	}, nil)
	if err == nil || len(rec.records) != 1 {
		t.Fatalf("classifier override ignored: err=%v records=%d", err, len(rec.records))
	}
	if gotAuth != "token" || gotBody != `{"a":1}` {
		t.Fatalf("request not forwarded: auth=%q body=%q", gotAuth, gotBody)
	}
}

func TestPolicyBackOffSchedule(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 7
	b := p.BackOff()

	var got []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		got = append(got, d)
	}
	ms := time.Millisecond
	want := []time.Duration{500 * ms, 1000 * ms, 2000 * ms, 4000 * ms, 8000 * ms, 8000 * ms}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultClassify(t *testing.T) {
	tests := map[int]types.Outcome{
		200: types.OutcomeSuccess,
		204: types.OutcomeSuccess,
		400: types.OutcomePermanentError,
		401: types.OutcomePermanentError,
		404: types.OutcomePermanentError,
		408: types.OutcomeTimeout,
		429: types.OutcomeRateLimited,
		500: types.OutcomeTransientError,
		503: types.OutcomeTransientError,
	}
	for status, want := range tests {
		if got := DefaultClassify(status, nil); got != want {
			t.Errorf("DefaultClassify(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestDoRetriesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &sliceRecorder{}
	err := newClient(fastPolicy()).Do(context.Background(), rec, Request{Service: "speech", Method: http.MethodPost, URL: url}, nil)

	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CallError, got %v", err)
	}
	if ce.Kind != types.KindUpstreamTransient || ce.Attempts != 3 || ce.StatusCode != 0 {
		t.Fatalf("call error: kind=%s attempts=%d status=%d", ce.Kind, ce.Attempts, ce.StatusCode)
	}
	want := []types.Outcome{types.OutcomeTransientError, types.OutcomeTransientError, types.OutcomeTransientError}
	if diff := cmp.Diff(want, rec.outcomes()); diff != "" {
		t.Errorf("outcomes (-want +got):\n%s", diff)
	}
	for i, r := range rec.records {
		if r.Attempt != i+1 || r.StatusCode != 0 || r.Error == "" {
			t.Errorf("record %d: %+v", i, r)
		}
	}
}
