// Package server exposes the livecaption HTTP API.
//
// Routes are grouped under /v1. Meetings are started and stopped through the
// meeting manager, audio chunks are ingested directly, and stateless
// translate/synthesize endpoints expose the underlying providers. Operational
// endpoints (/healthz, /readyz, /metrics) live at the root.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eburon/livecaption/internal/guard"
	"github.com/eburon/livecaption/internal/health"
	"github.com/eburon/livecaption/internal/ingest"
	"github.com/eburon/livecaption/internal/listener"
	"github.com/eburon/livecaption/internal/meeting"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/pkg/provider/speech"
	"github.com/eburon/livecaption/pkg/provider/translate"
	"github.com/eburon/livecaption/pkg/wav"
)

// maxChunkBytes bounds one uploaded audio chunk. A three-second chunk stays
// well below this even as uncompressed WAV.
const maxChunkBytes = 8 << 20

// Config holds the dependencies for a [Server].
type Config struct {
	Manager    *meeting.Manager
	Ingest     *ingest.Pipeline
	Store      transcript.Store
	Translator translate.Provider
	Speech     speech.Provider

	// Voice is the synthesis voice for /v1/synthesize.
	Voice speech.Voice

	// Health serves /healthz and /readyz. When nil, a checkerless handler
	// is used.
	Health *health.Handler

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Server is the livecaption HTTP API.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	handler http.Handler
}

// New creates a Server and builds its route table.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	s := &Server{cfg: cfg, metrics: cfg.Metrics}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/meetings", s.handleStartMeeting)
	mux.HandleFunc("GET /v1/meetings", s.handleListMeetings)
	mux.HandleFunc("DELETE /v1/meetings/{id}", s.handleStopMeeting)

	mux.HandleFunc("POST /v1/meetings/{id}/chunks", s.handleUploadChunk)
	mux.HandleFunc("GET /v1/meetings/{id}/transcript", s.handleGetTranscript)
	mux.HandleFunc("GET /v1/meetings/{id}/live", s.handleLiveTranscript)

	mux.HandleFunc("POST /v1/meetings/{id}/listeners", s.handleAddListener)
	mux.HandleFunc("DELETE /v1/meetings/{id}/listeners/{listener}", s.handleRemoveListener)
	mux.HandleFunc("GET /v1/meetings/{id}/listeners/{listener}/history", s.handleListenerHistory)

	mux.HandleFunc("POST /v1/translate", s.handleTranslate)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)

	cfg.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ─── Meetings ────────────────────────────────────────────────────────────────

type startMeetingRequest struct {
	MeetingID      string `json:"meetingId"`
	CaptureDevice  string `json:"captureDevice"`
	PlaybackDevice string `json:"playbackDevice"`
}

func (s *Server) handleStartMeeting(w http.ResponseWriter, r *http.Request) {
	var req startMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.cfg.Manager.Start(r.Context(), meeting.StartConfig{
		MeetingID:      req.MeetingID,
		CaptureDevice:  req.CaptureDevice,
		PlaybackDevice: req.PlaybackDevice,
	})
	switch {
	case errors.Is(err, guard.ErrFeedbackLoop):
		writeError(w, http.StatusConflict, err)
	case err != nil && req.MeetingID == "":
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusConflict, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"meetingId": req.MeetingID})
	}
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.Active())
}

func (s *Server) handleStopMeeting(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Chunks and transcripts ──────────────────────────────────────────────────

// handleUploadChunk accepts one audio chunk, either as a multipart form with
// "file" and "chunk_index" fields or as a raw audio body with an index query
// parameter.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes)

	var (
		index    int
		data     []byte
		mimeType string
		err      error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		index, data, mimeType, err = readMultipartChunk(r)
	} else {
		index, data, mimeType, err = readRawChunk(r)
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := s.cfg.Ingest.ProcessChunk(r.Context(), ingest.Chunk{
		MeetingID: meetingID,
		Index:     index,
		Data:      data,
		MimeType:  mimeType,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(status), "chunkIndex": index})
}

func readMultipartChunk(r *http.Request) (int, []byte, string, error) {
	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		return 0, nil, "", err
	}
	index, err := parseIndex(r.FormValue("chunk_index"))
	if err != nil {
		return 0, nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return 0, nil, "", errors.New("file form field is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return 0, nil, "", err
	}
	if len(data) == 0 {
		return 0, nil, "", errors.New("empty chunk file")
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	return index, data, mimeType, nil
}

func readRawChunk(r *http.Request) (int, []byte, string, error) {
	index, err := parseIndex(r.URL.Query().Get("index"))
	if err != nil {
		return 0, nil, "", err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return 0, nil, "", err
	}
	if len(data) == 0 {
		return 0, nil, "", errors.New("empty chunk body")
	}
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	return index, data, mimeType, nil
}

type transcriptResponse struct {
	MeetingID      string    `json:"meetingId"`
	ChunkIndex     int       `json:"chunkIndex"`
	Text           string    `json:"text"`
	SpeakerLabel   string    `json:"speakerLabel,omitempty"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Store.GetLatest(r.Context(), r.PathValue("id"))
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		MeetingID:      rec.MeetingID,
		ChunkIndex:     rec.ChunkIndex,
		Text:           rec.Text,
		SpeakerLabel:   rec.SpeakerLabel,
		SourceLanguage: rec.SourceLanguage,
		UpdatedAt:      rec.UpdatedAt,
	})
}

// ─── Listeners ───────────────────────────────────────────────────────────────

type addListenerRequest struct {
	ListenerID     string `json:"listenerId"`
	TargetLanguage string `json:"targetLanguage"`
}

func (s *Server) handleAddListener(w http.ResponseWriter, r *http.Request) {
	var req addListenerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ListenerID == "" || req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, errors.New("listenerId and targetLanguage are required"))
		return
	}

	err := s.cfg.Manager.AddListener(r.Context(), r.PathValue("id"), req.ListenerID, req.TargetLanguage)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRemoveListener(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("language")
	if lang == "" {
		writeError(w, http.StatusBadRequest, errors.New("language query parameter is required"))
		return
	}
	err := s.cfg.Manager.RemoveListener(r.Context(), r.PathValue("id"), r.PathValue("listener"), lang)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyItemResponse struct {
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	TargetLanguage string    `json:"targetLanguage"`
	At             time.Time `json:"at"`
	Failed         bool      `json:"failed,omitempty"`
}

func (s *Server) handleListenerHistory(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("language")
	if lang == "" {
		writeError(w, http.StatusBadRequest, errors.New("language query parameter is required"))
		return
	}

	history, err := s.cfg.Manager.History(r.PathValue("id"), r.PathValue("listener"), lang)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(history))
}

func toHistoryResponse(items []listener.HistoryItem) []historyItemResponse {
	out := make([]historyItemResponse, len(items))
	for i, item := range items {
		out[i] = historyItemResponse{
			OriginalText:   item.OriginalText,
			TranslatedText: item.TranslatedText,
			SourceLanguage: item.SourceLanguage,
			TargetLanguage: item.TargetLanguage,
			At:             item.At,
			Failed:         item.Failed,
		}
	}
	return out
}

// ─── Stateless provider endpoints ────────────────────────────────────────────

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
	SourceLanguage string `json:"sourceLanguage"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	OriginalText   string `json:"originalText"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" || req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, errors.New("text and targetLanguage are required"))
		return
	}

	start := time.Now()
	res, err := s.cfg.Translator.Translate(r.Context(), translate.Request{
		Text:           req.Text,
		TargetLanguage: req.TargetLanguage,
		SourceLanguage: req.SourceLanguage,
	})
	s.metrics.TranslateDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "translate", "request")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		TranslatedText: res.TranslatedText,
		OriginalText:   res.OriginalText,
		SourceLanguage: res.SourceLanguage,
		TargetLanguage: res.TargetLanguage,
	})
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	voice := s.cfg.Voice
	if req.Voice != "" {
		voice.Name = req.Voice
	}
	if req.Language != "" {
		voice.Language = req.Language
	}

	start := time.Now()
	audio, err := s.cfg.Speech.Synthesize(r.Context(), req.Text, voice)
	s.metrics.SynthesisDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "speech", "request")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	format := wav.DefaultFormat
	if audio.SampleRate > 0 {
		format.SampleRate = audio.SampleRate
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav.Encode(audio.PCM, format))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseIndex(s string) (int, error) {
	if s == "" {
		return 0, errors.New("index query parameter is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("index must be a non-negative integer")
	}
	return n, nil
}
