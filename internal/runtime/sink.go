package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/talkatype/talkatype/internal/bus"
	"github.com/talkatype/talkatype/internal/protocol"
	"github.com/talkatype/talkatype/internal/sessionstore"
	"github.com/talkatype/talkatype/internal/streaming"
)

const journalTimeout = 2 * time.Second

// busSink relays pipeline events to UI clients over NATS and the
// websocket hub, and journals lifecycle entries into the session store.
// All delivery is best-effort; a lost notification never affects the
// pipeline.
type busSink struct {
	log       *slog.Logger
	client    *bus.Client
	hub       *eventHub
	store     *sessionstore.Store
	sessionID func() string
}

var _ streaming.EventSink = (*busSink)(nil)

func (s *busSink) StateChanged(state streaming.State) {
	session := s.sessionID()
	s.publish(protocol.SubjectState, protocol.StateChange{
		SessionID: session,
		State:     state.String(),
		Timestamp: time.Now().UTC(),
	})
	s.journal(session, "state", state.String())
}

func (s *busSink) TentativeUpdated(text string) {
	s.publish(protocol.SubjectTentative, protocol.TentativeUpdate{
		SessionID: s.sessionID(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (s *busSink) WordTyped(word string) {
	s.publish(protocol.SubjectWordTyped, protocol.WordTyped{
		SessionID: s.sessionID(),
		Word:      word,
		Timestamp: time.Now().UTC(),
	})
}

func (s *busSink) PipelineError(err error) {
	session := s.sessionID()
	s.publish(protocol.SubjectError, protocol.SessionError{
		SessionID: session,
		Cause:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	s.journal(session, "error", err.Error())
}

func (s *busSink) publish(subject string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("marshal event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if s.client != nil && s.client.Healthy() {
		if err := s.client.Conn().Publish(subject, payload); err != nil {
			s.log.Warn("publish event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}
	if s.hub != nil {
		envelope, err := json.Marshal(struct {
			Subject string          `json:"subject"`
			Payload json.RawMessage `json:"payload"`
		}{Subject: subject, Payload: payload})
		if err != nil {
			return
		}
		s.hub.Broadcast(envelope)
	}
}

func (s *busSink) journal(sessionID, eventType, detail string) {
	if s.store == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.store.AppendEvent(ctx, sessionstore.Event{
		SessionID: sessionID,
		Type:      eventType,
		Detail:    detail,
	}); err != nil {
		s.log.Warn("journal event failed", slog.String("error", err.Error()))
	}
}
