// Package ingest turns a raw signed webhook payload into a store outcome.
// Signature verification is a hard precondition: nothing touches the store
// until the HMAC checks out.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/kairavb/lyftr-a001/internal/metrics"
	"github.com/kairavb/lyftr-a001/internal/store"
)

type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeValidationError  Outcome = "validation_error"
)

// Result carries the terminal outcome of one delivery. Reason is set only for
// validation errors.
type Result struct {
	Outcome   Outcome
	MessageID string
	Reason    string
}

// Publisher receives accepted messages for downstream consumers. Publishing
// is best-effort; a failure never fails the delivery.
type Publisher interface {
	PublishCreated(ctx context.Context, msg store.Message) error
}

type Protocol struct {
	store     store.MessageStore
	collector *metrics.Collector
	secret    []byte
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProtocol(st store.MessageStore, collector *metrics.Collector, secret string, publisher Publisher, logger zerolog.Logger) *Protocol {
	return &Protocol{
		store:     st,
		collector: collector,
		secret:    []byte(secret),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Accept verifies the signature, validates the payload, and inserts the
// message. Every outcome, rejections included, lands in the webhook outcome
// counter. A non-nil error means the store was unavailable.
func (p *Protocol) Accept(ctx context.Context, rawBody []byte, signature string) (Result, error) {
	if signature == "" || !p.verifySignature(rawBody, signature) {
		p.collector.RecordWebhookOutcome(string(OutcomeInvalidSignature))
		return Result{Outcome: OutcomeInvalidSignature}, nil
	}

	msg, err := parseMessage(rawBody)
	if err != nil {
		p.collector.RecordWebhookOutcome(string(OutcomeValidationError))
		return Result{Outcome: OutcomeValidationError, Reason: err.Error()}, nil
	}
	msg.CreatedAt = p.now().UTC().Format(time.RFC3339)

	res, err := p.store.Insert(ctx, msg)
	if err != nil {
		return Result{}, err
	}

	outcome := OutcomeCreated
	if res == store.Duplicate {
		outcome = OutcomeDuplicate
	}
	p.collector.RecordWebhookOutcome(string(outcome))

	if outcome == OutcomeCreated && p.publisher != nil {
		if err := p.publisher.PublishCreated(ctx, msg); err != nil {
			p.logger.Error().Err(err).Str("message_id", msg.MessageID).Msg("publish created event failed")
		}
	}

	p.logger.Info().
		Str("message_id", msg.MessageID).
		Bool("dup", outcome == OutcomeDuplicate).
		Str("result", string(outcome)).
		Msg("webhook_processed")

	return Result{Outcome: outcome, MessageID: msg.MessageID}, nil
}

func (p *Protocol) verifySignature(rawBody []byte, signature string) bool {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	// Constant-time over the hex strings so mismatch position never leaks.
	return hmac.Equal([]byte(expected), []byte(signature))
}

var msisdnPattern = regexp.MustCompile(`^\+[0-9]+$`)

const maxTextLen = 4096

type webhookPayload struct {
	MessageID string  `json:"message_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	TS        string  `json:"ts"`
	Text      *string `json:"text"`
}

// parseMessage validates the raw body against the message shape. The returned
// timestamp is normalized to UTC with a Z suffix so lexical ordering holds
// across mixed input offsets.
func parseMessage(rawBody []byte) (store.Message, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return store.Message{}, errors.New("body is not valid JSON")
	}
	if payload.MessageID == "" {
		return store.Message{}, errors.New("message_id is required")
	}
	if !msisdnPattern.MatchString(payload.From) {
		return store.Message{}, errors.New("from must be + followed by digits")
	}
	if !msisdnPattern.MatchString(payload.To) {
		return store.Message{}, errors.New("to must be + followed by digits")
	}
	ts, err := time.Parse(time.RFC3339, payload.TS)
	if err != nil {
		return store.Message{}, errors.New("ts must be an ISO-8601 date-time")
	}
	// The limit is in characters, not bytes, so multibyte text gets the
	// full 4096.
	if payload.Text != nil && utf8.RuneCountInString(*payload.Text) > maxTextLen {
		return store.Message{}, errors.New("text exceeds 4096 characters")
	}
	return store.Message{
		MessageID: payload.MessageID,
		From:      payload.From,
		To:        payload.To,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Text:      payload.Text,
	}, nil
}
