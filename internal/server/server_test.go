package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/eburon/livecaption/internal/health"
	"github.com/eburon/livecaption/internal/ingest"
	"github.com/eburon/livecaption/internal/meeting"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/recorder"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/pkg/provider/asr"
	asrmock "github.com/eburon/livecaption/pkg/provider/asr/mock"
	speechmock "github.com/eburon/livecaption/pkg/provider/speech/mock"
	translatemock "github.com/eburon/livecaption/pkg/provider/translate/mock"
	"github.com/eburon/livecaption/pkg/wav"
)

// fakeUnit returns fixed bytes when stopped.
type fakeUnit struct{}

func (u *fakeUnit) Stop() ([]byte, error) { return []byte("chunk-audio"), nil }

// fakeSource accepts every format.
type fakeSource struct{}

func (s *fakeSource) Open(ctx context.Context, mimeType string) (recorder.CaptureUnit, error) {
	return &fakeUnit{}, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, checkers ...health.Checker) *httptest.Server {
	t.Helper()

	metrics := testMetrics(t)
	store := transcript.NewMemStore()
	recog := &asrmock.Provider{Result: &asr.Result{
		Text:             "Hello from the meeting room!",
		DetectedLanguage: "en",
	}}
	pipeline := ingest.New(recog, store, ingest.WithMetrics(metrics))

	mgr, err := meeting.NewManager(meeting.ManagerConfig{
		Store:           store,
		Ingest:          pipeline,
		Translator:      &translatemock.Provider{},
		Speech:          &speechmock.Provider{},
		Source:          &fakeSource{},
		PollInterval:    time.Hour,
		RecorderOptions: []recorder.Option{recorder.WithChunkInterval(time.Hour)},
		Metrics:         metrics,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	srv := New(Config{
		Manager:    mgr,
		Ingest:     pipeline,
		Store:      store,
		Translator: &translatemock.Provider{},
		Speech:     &speechmock.Provider{},
		Health:     health.New(checkers...),
		Metrics:    metrics,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, health.Checker{
		Name:  "boom",
		Check: func(ctx context.Context) error { return errors.New("down") },
	})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing checker: got %d, want 503", resp2.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: got %d, want 200", resp.StatusCode)
	}
}

func TestMeetingLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/meetings", startMeetingRequest{
		MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: got %d, want 201", resp.StatusCode)
	}

	// Duplicate start conflicts.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/meetings", startMeetingRequest{
		MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start: got %d, want 409", resp.StatusCode)
	}

	// Identical devices are refused.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/meetings", startMeetingRequest{
		MeetingID: "m2", CaptureDevice: "spk", PlaybackDevice: "spk",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("feedback loop start: got %d, want 409", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/v1/meetings")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer listResp.Body.Close()
	meetings := decodeBody[[]meeting.Info](t, listResp)
	if len(meetings) != 1 || meetings[0].MeetingID != "m1" {
		t.Fatalf("list: got %+v, want one meeting m1", meetings)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/meetings/m1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop: got %d, want 204", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/meetings/m1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stop unknown: got %d, want 404", resp.StatusCode)
	}
}

func TestChunkUploadAndTranscript(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/meetings/m1/chunks?index=0", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "audio/webm")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: got %d (%s), want 200", resp.StatusCode, body)
	}
	status := decodeBody[chunkUploadResponse](t, resp)
	if status.Status != "success" {
		t.Fatalf("upload status: got %q, want success", status.Status)
	}
	if status.ChunkIndex != 0 {
		t.Fatalf("upload chunk index: got %d, want 0", status.ChunkIndex)
	}

	tResp, err := http.Get(ts.URL + "/v1/meetings/m1/transcript")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	defer tResp.Body.Close()
	if tResp.StatusCode != http.StatusOK {
		t.Fatalf("transcript: got %d, want 200", tResp.StatusCode)
	}
	rec := decodeBody[transcriptResponse](t, tResp)
	if !strings.Contains(rec.Text, "Hello from the meeting room") {
		t.Errorf("transcript text: got %q", rec.Text)
	}
	if rec.SourceLanguage != "en" {
		t.Errorf("transcript language: got %q, want en", rec.SourceLanguage)
	}

	// Missing index parameter.
	resp2, err := http.Post(ts.URL+"/v1/meetings/m1/chunks", "audio/webm", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("upload without index: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("upload without index: got %d, want 400", resp2.StatusCode)
	}

	// Unknown meeting transcript.
	nResp, err := http.Get(ts.URL + "/v1/meetings/nope/transcript")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	defer nResp.Body.Close()
	if nResp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown transcript: got %d, want 404", nResp.StatusCode)
	}
}

type chunkUploadResponse struct {
	Status     string `json:"status"`
	ChunkIndex int    `json:"chunkIndex"`
}

func TestChunkUploadMultipart(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chunk_index", "3"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", "chunk-3.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("audio-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/meetings/m1/chunks", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: got %d (%s), want 200", resp.StatusCode, body)
	}
	status := decodeBody[chunkUploadResponse](t, resp)
	if status.Status != "success" {
		t.Errorf("upload status: got %q, want success", status.Status)
	}
	if status.ChunkIndex != 3 {
		t.Errorf("upload chunk index: got %d, want 3", status.ChunkIndex)
	}

	// Missing file field.
	var buf2 bytes.Buffer
	mw2 := multipart.NewWriter(&buf2)
	_ = mw2.WriteField("chunk_index", "4")
	_ = mw2.Close()
	resp2, err := http.Post(ts.URL+"/v1/meetings/m1/chunks", mw2.FormDataContentType(), &buf2)
	if err != nil {
		t.Fatalf("upload without file: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("upload without file: got %d, want 400", resp2.StatusCode)
	}
}

func TestListenerEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/meetings", startMeetingRequest{
		MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: got %d, want 201", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/meetings/m1/listeners", addListenerRequest{
		ListenerID: "l1", TargetLanguage: "nl",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add listener: got %d, want 201", resp.StatusCode)
	}

	hResp, err := http.Get(ts.URL + "/v1/meetings/m1/listeners/l1/history?language=nl")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer hResp.Body.Close()
	if hResp.StatusCode != http.StatusOK {
		t.Fatalf("history: got %d, want 200", hResp.StatusCode)
	}
	history := decodeBody[[]historyItemResponse](t, hResp)
	if len(history) != 0 {
		t.Errorf("history: got %d items, want 0", len(history))
	}

	// Missing language parameter.
	mResp, err := http.Get(ts.URL + "/v1/meetings/m1/listeners/l1/history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer mResp.Body.Close()
	if mResp.StatusCode != http.StatusBadRequest {
		t.Errorf("history without language: got %d, want 400", mResp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/meetings/m1/listeners/l1?language=nl", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove listener: got %d, want 204", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/meetings/m1/listeners/l1?language=nl", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove unknown listener: got %d, want 404", resp.StatusCode)
	}
}

func TestTranslateEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/translate", translateRequest{
		Text: "Good morning", TargetLanguage: "nl",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("translate: got %d, want 200", resp.StatusCode)
	}
	res := decodeBody[translateResponse](t, resp)
	if res.TranslatedText != "[nl] Good morning" {
		t.Errorf("translatedText: got %q", res.TranslatedText)
	}
	if res.OriginalText != "Good morning" {
		t.Errorf("originalText: got %q", res.OriginalText)
	}
	if res.TargetLanguage != "nl" {
		t.Errorf("targetLanguage: got %q", res.TargetLanguage)
	}

	// Missing text.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/translate", translateRequest{TargetLanguage: "nl"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("translate without text: got %d, want 400", resp.StatusCode)
	}
}

func TestSynthesizeEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/synthesize", synthesizeRequest{Text: "Hallo daar"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("synthesize: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type: got %q, want audio/wav", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	hdr, err := wav.ParseHeader(body)
	if err != nil {
		t.Fatalf("response is not a valid WAV file: %v", err)
	}
	if hdr.Format.SampleRate != 24000 {
		t.Errorf("sample rate: got %d, want 24000", hdr.Format.SampleRate)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/synthesize", synthesizeRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("synthesize without text: got %d, want 400", resp.StatusCode)
	}
}
