package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/go-cmp/cmp"

	"meeting-assistant-go/internal/audio"
	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/logger"
	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/summarizer"
	"meeting-assistant-go/internal/transcription"
	"meeting-assistant-go/internal/types"
)

// toneWAV writes a 16 kHz mono tone of the given length and returns its bytes.
func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	frames := int(16000 * seconds)
	data := make([]int, frames)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 16000}, Data: data, SourceBitDepth: 16}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type stubs struct {
	speech, text   *httptest.Server
	speechN, textN int32
	speechBody     string
	speechStatus   int
	textBody       string
	textStatus     int
}

func newStubs(t *testing.T) *stubs {
	s := &stubs{
		speechStatus: http.StatusOK,
		speechBody:   `{"pipelineResponse":[{"taskType":"asr","config":{"language":{"sourceLanguage":"en"}},"output":[{"source":"hello team"}]}]}`,
		textStatus:   http.StatusOK,
		textBody:     geminiReply(`{"title":"Standup","keyPoints":["hello team"]}`),
	}
	s.speech = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.speechN, 1)
		w.WriteHeader(s.speechStatus)
		_, _ = io.WriteString(w, s.speechBody)
	}))
	s.text = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.textN, 1)
		w.WriteHeader(s.textStatus)
		_, _ = io.WriteString(w, s.textBody)
	}))
	t.Cleanup(s.speech.Close)
	t.Cleanup(s.text.Close)
	return s
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
	})
	return string(b)
}

func (s *stubs) pipeline(policy resilient.Policy, opts Options) *Pipeline {
	log := logger.Discard().Entry
	caller := resilient.New(nil, policy, log)
	return New(
		audio.NewNormalizer(16000, "/nonexistent/ffmpeg", log),
		transcription.New(config.Bhashini{URL: s.speech.URL, AuthToken: "t"}, caller, log),
		summarizer.New(config.Gemini{BaseURL: s.text.URL, Model: "m", APIKey: "k"}, caller, log),
		opts, log)
}

func fastPolicy() resilient.Policy {
	return resilient.Policy{CallTimeout: time.Second, MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
}

func request(data []byte) types.ProcessRequest {
	return types.ProcessRequest{
		Audio:     types.AudioInput{Data: data, Format: "audio/wav"},
		Languages: types.LanguageHints{Source: "en", Target: "en"},
	}
}

type countingObserver struct {
	attempts []types.AttemptRecord
	runs     []*Run
}

func (o *countingObserver) ObserveAttempt(a types.AttemptRecord) { o.attempts = append(o.attempts, a) }
func (o *countingObserver) ObserveRun(r *Run)                    { o.runs = append(o.runs, r) }

func TestProcessEndToEnd(t *testing.T) {
	s := newStubs(t)
	obs := &countingObserver{}
	run := s.pipeline(fastPolicy(), Options{Deadline: 10 * time.Second, Observer: obs}).
		Process(context.Background(), request(toneWAV(t, 2)))

	resp := run.Response()
	if resp.Status != types.StatusComplete || resp.Partial || run.HTTPStatus() != http.StatusOK {
		t.Fatalf("status=%s partial=%v http=%d err=%s", resp.Status, resp.Partial, run.HTTPStatus(), resp.Error)
	}
	if resp.Transcription == nil || resp.Transcription.Text != "hello team" {
		t.Fatalf("transcription: %+v", resp.Transcription)
	}
	if resp.Summary == nil || resp.Summary.Title != "Standup" {
		t.Fatalf("summary: %+v", resp.Summary)
	}
	if diff := cmp.Diff([]string{"hello team"}, resp.Summary.KeyPoints); diff != "" {
		t.Errorf("key points (-want +got):\n%s", diff)
	}

	type step struct {
		Stage   types.Stage
		Service string
		Attempt int
		Outcome types.Outcome
	}
	var got []step
	for _, a := range resp.Attempts {
		got = append(got, step{a.Stage, a.Service, a.Attempt, a.Outcome})
	}
	want := []step{
		{types.StageTranscribing, transcription.Service, 1, types.OutcomeSuccess},
		{types.StageSummarizing, summarizer.Service, 1, types.OutcomeSuccess},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attempts (-want +got):\n%s", diff)
	}
	if resp.Metadata.Decoder != "native" || resp.Metadata.SourceLanguage != "en" || resp.Metadata.AudioFormat != "wav" {
		t.Errorf("metadata: %+v", resp.Metadata)
	}
	if run.State != types.StageComplete || run.Audio.SampleRate != 16000 {
		t.Errorf("state=%s rate=%d", run.State, run.Audio.SampleRate)
	}
	if len(obs.attempts) != 2 || len(obs.runs) != 1 || obs.runs[0] != run {
		t.Errorf("observer saw %d attempts and %d runs", len(obs.attempts), len(obs.runs))
	}
}

func TestProcessPartialWhenSummaryExhausted(t *testing.T) {
	s := newStubs(t)
	s.textStatus = http.StatusServiceUnavailable
	s.textBody = `{"error":{"status":"UNAVAILABLE"}}`

	run := s.pipeline(fastPolicy(), Options{}).Process(context.Background(), request(toneWAV(t, 1)))
	resp := run.Response()
	if resp.Status != types.StatusPartial || !resp.Partial || run.HTTPStatus() != http.StatusOK {
		t.Fatalf("status=%s partial=%v http=%d", resp.Status, resp.Partial, run.HTTPStatus())
	}
	if resp.Transcription == nil || resp.Summary != nil {
		t.Fatalf("transcription=%v summary=%v", resp.Transcription, resp.Summary)
	}
	if resp.ErrorStage != types.StageSummarizing || resp.ErrorCode != types.CodeSummaryServiceError || resp.ErrorKind != types.KindUpstreamTransient {
		t.Fatalf("error: %s/%s/%s", resp.ErrorStage, resp.ErrorKind, resp.ErrorCode)
	}
	if len(resp.Attempts) != 4 || atomic.LoadInt32(&s.textN) != 3 {
		t.Fatalf("got %d attempts and %d text calls", len(resp.Attempts), s.textN)
	}
}

func TestProcessEmptyAudioMakesNoCalls(t *testing.T) {
	s := newStubs(t)
	run := s.pipeline(fastPolicy(), Options{}).Process(context.Background(), request(nil))
	resp := run.Response()
	if resp.Status != types.StatusFailed || resp.ErrorKind != types.KindInputError || resp.ErrorCode != types.CodeEmptyAudio {
		t.Fatalf("resp: %+v", resp)
	}
	if resp.ErrorStage != types.StageNormalizing || run.HTTPStatus() != http.StatusBadRequest {
		t.Fatalf("stage=%s http=%d", resp.ErrorStage, run.HTTPStatus())
	}
	if atomic.LoadInt32(&s.speechN)+atomic.LoadInt32(&s.textN) != 0 || len(resp.Attempts) != 0 {
		t.Fatal("external service called for empty audio")
	}
}

func TestProcessTranscriptionFailureIsFatal(t *testing.T) {
	s := newStubs(t)
	s.speechStatus = http.StatusBadRequest
	s.speechBody = `{"detail":"bad request"}`

	run := s.pipeline(fastPolicy(), Options{}).Process(context.Background(), request(toneWAV(t, 1)))
	resp := run.Response()
	if resp.Status != types.StatusFailed || resp.ErrorStage != types.StageTranscribing || run.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("status=%s stage=%s http=%d", resp.Status, resp.ErrorStage, run.HTTPStatus())
	}
	if resp.Transcription != nil || atomic.LoadInt32(&s.textN) != 0 {
		t.Fatal("summarization ran after a failed transcription")
	}
}

func TestProcessDeadlineDuringBackoff(t *testing.T) {
	s := newStubs(t)
	s.speechStatus = http.StatusServiceUnavailable
	policy := fastPolicy()
	policy.BaseDelay = time.Second
	policy.MaxDelay = time.Second

	start := time.Now()
	run := s.pipeline(policy, Options{Deadline: 100 * time.Millisecond}).Process(context.Background(), request(toneWAV(t, 1)))
	if time.Since(start) > 900*time.Millisecond {
		t.Fatal("run outlived its deadline")
	}
	resp := run.Response()
	if resp.ErrorKind != types.KindDeadlineExceeded || resp.ErrorStage != types.StageTranscribing || run.HTTPStatus() != http.StatusGatewayTimeout {
		t.Fatalf("kind=%s stage=%s http=%d", resp.ErrorKind, resp.ErrorStage, run.HTTPStatus())
	}
	if len(resp.Attempts) != 1 || atomic.LoadInt32(&s.textN) != 0 {
		t.Fatalf("attempts=%d text calls=%d", len(resp.Attempts), s.textN)
	}
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(context.Context, types.AudioInput) (types.NormalizedAudio, error) {
	return types.NormalizedAudio{Data: []byte("wav"), SampleRate: 16000, Channels: 1, Decoder: "fake"}, nil
}

type fakeTranscriber struct {
	res types.TranscriptionResult
	err error
}

func (f fakeTranscriber) Transcribe(context.Context, resilient.Recorder, types.NormalizedAudio, types.LanguageHints) (types.TranscriptionResult, error) {
	return f.res, f.err
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ resilient.Recorder, _ types.TranscriptionResult, _ string) (types.SummaryResult, error) {
	f.calls++
	return types.SummaryResult{Title: "ok"}, nil
}

// stallingSummarizer blocks until the run's context ends.
type stallingSummarizer struct{}

func (stallingSummarizer) Summarize(ctx context.Context, _ resilient.Recorder, _ types.TranscriptionResult, _ string) (types.SummaryResult, error) {
	<-ctx.Done()
	return types.SummaryResult{}, ctx.Err()
}

func TestProcessDeadlineDuringSummarizingIsPartial(t *testing.T) {
	tr := types.TranscriptionResult{Text: "hello team", SourceLanguage: "en"}
	p := New(fakeNormalizer{}, fakeTranscriber{res: tr}, stallingSummarizer{}, Options{Deadline: 50 * time.Millisecond}, logger.Discard().Entry)

	run := p.Process(context.Background(), request([]byte("x")))
	resp := run.Response()
	if resp.Status != types.StatusPartial || !resp.Partial || run.HTTPStatus() != http.StatusOK {
		t.Fatalf("status=%s partial=%v http=%d", resp.Status, resp.Partial, run.HTTPStatus())
	}
	if resp.ErrorKind != types.KindDeadlineExceeded || resp.ErrorCode != types.CodeDeadlineExceeded || resp.ErrorStage != types.StageSummarizing {
		t.Fatalf("error: %s/%s/%s", resp.ErrorKind, resp.ErrorCode, resp.ErrorStage)
	}
	if resp.Transcription == nil || resp.Transcription.Text != "hello team" || resp.Summary != nil {
		t.Fatalf("transcription=%v summary=%v", resp.Transcription, resp.Summary)
	}
}

func TestProcessUntypedErrorIsInternal(t *testing.T) {
	sum := &fakeSummarizer{}
	p := New(fakeNormalizer{}, fakeTranscriber{err: errors.New("boom")}, sum, Options{}, logger.Discard().Entry)
	run := p.Process(context.Background(), request([]byte("x")))
	if run.Err == nil || run.Err.Kind != types.KindInternalError || run.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("err=%v http=%d", run.Err, run.HTTPStatus())
	}
	if sum.calls != 0 {
		t.Fatal("summarizer called after failure")
	}
}

func TestProcessCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := &fakeSummarizer{}
	p := New(fakeNormalizer{}, fakeTranscriber{}, sum, Options{}, logger.Discard().Entry)
	run := p.Process(ctx, request([]byte("x")))
	if run.Err == nil || run.Err.Kind != types.KindDeadlineExceeded || run.Err.Stage != types.StageNormalizing {
		t.Fatalf("err=%v", run.Err)
	}
	if run.Audio != nil || sum.calls != 0 {
		t.Fatal("stages ran after cancellation")
	}
}

func TestRunRejectsIllegalTransition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on re-entering a stage")
		}
	}()
	r := newRun(types.ProcessRequest{}, nil)
	r.advance(types.StageNormalizing)
	r.advance(types.StageNormalizing)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *types.Error
		want int
	}{
		{types.InputErrorf(types.CodeEmptyAudio, "x"), 400},
		{types.InputErrorf(types.CodeInvalidRequest, "x"), 400},
		{types.InputErrorf(types.CodeUnsupportedFormat, "x"), 415},
		{types.InputErrorf(types.CodePayloadTooLarge, "x"), 413},
		{types.NewError(types.KindUpstreamTransient, types.CodeTranscriptionServiceError, "", nil), 502},
		{types.NewError(types.KindUpstreamPermanent, types.CodeSummaryParseError, "", nil), 502},
		{types.NewError(types.KindDeadlineExceeded, types.CodeDeadlineExceeded, "", nil), 504},
		{types.NewError(types.KindInternalError, types.CodeInternalError, "", nil), 500},
		{nil, 500},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
