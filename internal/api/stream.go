// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/seqstream/internal/log"
	"github.com/ManuGH/seqstream/internal/metrics"
	"github.com/ManuGH/seqstream/internal/stream"
)

// retryHintMillis is the reconnect delay hint sent as the first SSE line.
const retryHintMillis = 15000

// topic names are client input and become metric labels and storage keys;
// leading underscore is reserved for internal names like the heartbeat topic
var validTopic = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,127}$`)

var errInvalidTopic = errors.New("invalid topic name")

// handleStream is the SSE subscribe endpoint. The resume cursor comes from
// the Last-Event-ID header (EventSource reconnects set it automatically) or
// a cursor query parameter for first connects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !validTopic.MatchString(topic) {
		writeError(w, errInvalidTopic)
		return
	}

	identity, carrier, err := s.authn.Authenticate(r, topic)
	if err != nil {
		metrics.IncAuthFailure(string(carrier), authFailureReason(err))
		logger := log.WithContext(r.Context(), s.logger)
		logger.Warn().
			Str("event", "stream.auth_rejected").
			Str("topic", topic).
			Str("carrier", string(carrier)).
			Str("reason", authFailureReason(err)).
			Msg("stream handshake rejected")
		writeUnauthorized(w)
		return
	}

	cursor, err := resumeCursor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	// subscribe before the first byte goes out: once the client has seen
	// the retry hint it is attached and cannot miss a publish
	session := s.engine.Open(r.Context(), topic, identity, cursor)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", retryHintMillis)
	flusher.Flush()

	for f := range session.Frames() {
		if err := writeFrame(w, f); err != nil {
			// client went away mid-write; the session sees the context
			// cancellation, this just stops consuming frames early
			session.Close()
			for range session.Frames() { //nolint:revive
			}
			return
		}
		flusher.Flush()
	}
}

// resumeCursor extracts the client's resume point. nil means live-only.
func resumeCursor(r *http.Request) (*uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("cursor")
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid resume cursor %q", raw)
	}
	return &v, nil
}

func writeFrame(w io.Writer, f stream.Frame) error {
	switch f.Type {
	case stream.FrameEvent:
		data, err := f.Event.Encode()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", f.Event.Seq, f.Event.Name, data)
		return err
	case stream.FrameHeartbeat:
		_, err := fmt.Fprintf(w, "event: heartbeat\ndata: {\"topic\":\"_hb\",\"ts\":%q}\n\n",
			time.Now().UTC().Format(time.RFC3339))
		return err
	case stream.FrameReset:
		// no id line: a reset must not advance the client's Last-Event-ID
		_, err := fmt.Fprint(w, "event: reset\ndata: {\"reason\":\"resume_window_exceeded\"}\n\n")
		return err
	default:
		return nil
	}
}

// handlePublish accepts one JSON payload and appends it to the topic's
// ordered stream. Header credential only.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !validTopic.MatchString(topic) {
		writeError(w, errInvalidTopic)
		return
	}

	identity, err := s.authn.AuthenticatePublisher(r)
	if err != nil {
		metrics.IncAuthFailure("header", authFailureReason(err))
		writeUnauthorized(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxPayloadBytes))
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("payload too large (max %d bytes)", s.cfg.MaxPayloadBytes),
			})
			return
		}
		writeError(w, err)
		return
	}
	if !json.Valid(payload) {
		writeError(w, errors.New("payload must be valid JSON"))
		return
	}

	seq, err := s.engine.Publish(r.Context(), topic, payload)
	if err != nil {
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).
			Str("event", "publish.rejected").
			Str("topic", topic).
			Str("subject", identity.Subject).
			Msg("publish failed")
		if errors.Is(err, stream.ErrBackendUnavailable) {
			writeServiceUnavailable(w, stream.ErrBackendUnavailable)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "publish failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic": topic,
		"seq":   seq,
	})
}

// handleTopics reports the per-topic window and subscriber state for topics
// with at least one local subscriber. Operational surface, header credential.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authn.AuthenticatePublisher(r); err != nil {
		metrics.IncAuthFailure("header", authFailureReason(err))
		writeUnauthorized(w)
		return
	}

	topics := s.engine.Topics()
	snaps := make([]stream.TopicSnapshot, 0, len(topics))
	for _, t := range topics {
		snap, err := s.engine.Snapshot(r.Context(), t)
		if err != nil {
			writeServiceUnavailable(w, err)
			return
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": snaps})
}

type streamTokenRequest struct {
	Topic string `json:"topic"`
}

// handleStreamToken mints a short-lived topic-bound token a browser client
// can embed in the stream URL, exchanged against the header credential.
func (s *Server) handleStreamToken(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authn.AuthenticatePublisher(r)
	if err != nil {
		metrics.IncAuthFailure("header", authFailureReason(err))
		writeUnauthorized(w)
		return
	}
	if s.tokens == nil {
		writeServiceUnavailable(w, errors.New("stream tokens not configured"))
		return
	}

	var req streamTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, errors.New("invalid request body"))
		return
	}
	if !validTopic.MatchString(req.Topic) {
		writeError(w, errInvalidTopic)
		return
	}

	token, err := s.tokens.Issue(identity.Subject, identity.Tenant, req.Topic)
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"token_type": "stream",
		"topic":      req.Topic,
		"expires_in": int(s.tokens.TTL().Seconds()),
	})
}
