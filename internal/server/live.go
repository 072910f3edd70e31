package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/eburon/livecaption/internal/transcript"
)

// handleLiveTranscript upgrades GET /v1/meetings/{id}/live to a WebSocket and
// streams transcript updates as JSON. The current transcript, if any, is sent
// first so late joiners start with a full view.
func (s *Server) handleLiveTranscript(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error response.
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Drain client frames so pings are answered and a client close ends the
	// stream promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	updates, err := s.cfg.Store.Subscribe(ctx, meetingID)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	if rec, err := s.cfg.Store.GetLatest(ctx, meetingID); err == nil {
		if err := writeLiveRecord(ctx, conn, rec); err != nil {
			return
		}
	} else if !errors.Is(err, transcript.ErrNotFound) {
		slog.Warn("live transcript: initial fetch failed", "meeting_id", meetingID, "err", err)
	}

	for {
		select {
		case rec, ok := <-updates:
			if !ok {
				return
			}
			if err := writeLiveRecord(ctx, conn, rec); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeLiveRecord(ctx context.Context, conn *websocket.Conn, rec transcript.Record) error {
	payload, err := json.Marshal(transcriptResponse{
		MeetingID:      rec.MeetingID,
		ChunkIndex:     rec.ChunkIndex,
		Text:           rec.Text,
		SpeakerLabel:   rec.SpeakerLabel,
		SourceLanguage: rec.SourceLanguage,
		UpdatedAt:      rec.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
