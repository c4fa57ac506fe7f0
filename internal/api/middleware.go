package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one JSON log line per request and feeds the http and
// latency counter families. The body is buffered so the message_id of webhook
// deliveries can be logged alongside the request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		s.collector.ObserveLatency(latencyMS)
		s.collector.RecordHTTP(r.URL.Path, rec.status)

		evt := s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Float64("latency_ms", latencyMS)
		if id := extractMessageID(body); id != "" {
			evt = evt.Str("message_id", id)
		}
		evt.Msg("request")
	})
}

func extractMessageID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.MessageID
}
