// Package api is the HTTP boundary: it turns requests into core calls and
// core results into responses. All invariants live below it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kairavb/lyftr-a001/internal/cache"
	"github.com/kairavb/lyftr-a001/internal/common"
	"github.com/kairavb/lyftr-a001/internal/ingest"
	"github.com/kairavb/lyftr-a001/internal/metrics"
	"github.com/kairavb/lyftr-a001/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 100

	statsCacheKey = "stats"
)

type Server struct {
	store      store.MessageStore
	protocol   *ingest.Protocol
	collector  *metrics.Collector
	statsCache cache.ResponseCache
	secretSet  bool
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewServer wires the boundary. statsCache may be nil, in which case /stats
// always hits the store.
func NewServer(st store.MessageStore, protocol *ingest.Protocol, collector *metrics.Collector, statsCache cache.ResponseCache, secretSet bool, logger zerolog.Logger) *Server {
	return &Server{
		store:      st,
		protocol:   protocol,
		collector:  collector,
		statsCache: statsCache,
		secretSet:  secretSet,
		logger:     logger,
		tracer:     otel.Tracer("api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Get("/", s.home)
	r.Post("/webhook", s.webhook)
	r.Get("/messages", s.messages)
	r.Get("/stats", s.stats)
	r.Get("/metrics", s.metrics)
	r.Get("/health/live", s.live)
	r.Get("/health/ready", s.ready)
	return r
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("API is Running"))
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "webhook")
	defer span.End()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondDetail(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := s.protocol.Accept(ctx, raw, r.Header.Get("X-Signature"))
	if err != nil {
		s.respondUnavailable(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))

	switch res.Outcome {
	case ingest.OutcomeInvalidSignature:
		s.respondDetail(w, http.StatusUnauthorized, "invalid signature")
	case ingest.OutcomeValidationError:
		s.respondDetail(w, http.StatusUnprocessableEntity, res.Reason)
	default:
		// Created and duplicate deliveries are indistinguishable to the
		// sender; only metrics and logs tell them apart.
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type messageJSON struct {
	MessageID string  `json:"message_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	TS        string  `json:"ts"`
	Text      *string `json:"text"`
}

type messagesResponse struct {
	Data   []messageJSON `json:"data"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "list-messages")
	defer span.End()

	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 || limit > maxLimit {
		s.respondDetail(w, http.StatusUnprocessableEntity, "limit out of range")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondDetail(w, http.StatusUnprocessableEntity, "offset out of range")
		return
	}

	page, err := s.store.List(ctx, store.ListFilter{
		Limit:  limit,
		Offset: offset,
		From:   r.URL.Query().Get("from"),
		Since:  r.URL.Query().Get("since"),
		Query:  r.URL.Query().Get("q"),
	})
	if err != nil {
		s.respondUnavailable(ctx, w, err)
		return
	}

	data := make([]messageJSON, 0, len(page.Messages))
	for _, m := range page.Messages {
		data = append(data, messageJSON{
			MessageID: m.MessageID,
			From:      m.From,
			To:        m.To,
			TS:        m.Timestamp,
			Text:      m.Text,
		})
	}
	s.respondJSON(w, http.StatusOK, messagesResponse{
		Data:   data,
		Total:  page.Total,
		Limit:  limit,
		Offset: offset,
	})
}

type senderCountJSON struct {
	From  string `json:"from"`
	Count int    `json:"count"`
}

type statsResponse struct {
	TotalMessages     int               `json:"total_messages"`
	SendersCount      int               `json:"senders_count"`
	MessagesPerSender []senderCountJSON `json:"messages_per_sender"`
	FirstMessageTS    *string           `json:"first_message_ts"`
	LastMessageTS     *string           `json:"last_message_ts"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "stats")
	defer span.End()

	if s.statsCache != nil {
		cached, err := s.statsCache.Get(ctx, statsCacheKey)
		if err != nil {
			logger := common.WithContext(ctx, s.logger)
			logger.Warn().Err(err).Msg("stats cache read failed")
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	snap, err := s.store.Stats(ctx)
	if err != nil {
		s.respondUnavailable(ctx, w, err)
		return
	}

	perSender := make([]senderCountJSON, 0, len(snap.TopSenders))
	for _, sc := range snap.TopSenders {
		perSender = append(perSender, senderCountJSON{From: sc.From, Count: sc.Count})
	}
	body, err := json.Marshal(statsResponse{
		TotalMessages:     snap.TotalMessages,
		SendersCount:      snap.SendersCount,
		MessagesPerSender: perSender,
		FirstMessageTS:    snap.FirstMessageTS,
		LastMessageTS:     snap.LastMessageTS,
	})
	if err != nil {
		s.respondDetail(w, http.StatusInternalServerError, "encode stats")
		return
	}

	if s.statsCache != nil {
		if err := s.statsCache.Set(ctx, statsCacheKey, body); err != nil {
			logger := common.WithContext(ctx, s.logger)
			logger.Warn().Err(err).Msg("stats cache write failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.collector.Render()))
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if !s.secretSet || s.store.Ping(r.Context()) != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("SERVICE UNAVAILABLE"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondDetail(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) respondUnavailable(ctx context.Context, w http.ResponseWriter, err error) {
	logger := common.WithContext(ctx, s.logger)
	if errors.Is(err, store.ErrUnavailable) {
		logger.Error().Err(err).Msg("backing store unavailable")
	} else {
		logger.Error().Err(err).Msg("unexpected store failure")
	}
	s.respondDetail(w, http.StatusServiceUnavailable, "service unavailable")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
