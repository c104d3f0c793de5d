package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowroll/dicehall/domain/dice"
	domainmoderation "github.com/lowroll/dicehall/domain/moderation"
	"github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/services/moderation"
	"github.com/lowroll/dicehall/services/sessions"
	"github.com/lowroll/dicehall/system/stream"
)

// Websocket pump timings, grounded on the pack's bot-server stream pattern
// (ping/pong keepalive with a write deadline tighter than the pong wait).
const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// clientFrame is one inbound stream message (spec.md §4.9/§6):
// {"type": "turn_action"|"chat"|"heartbeat", ...}.
type clientFrame struct {
	Type string `json:"type"`

	// turn_action
	Intent              string         `json:"intent,omitempty"` // "roll" | "score"
	ClaimedServerRollID string         `json:"claimedServerRollId,omitempty"`
	Selection           dice.Selection `json:"selection,omitempty"`
	Bank                bool           `json:"bank,omitempty"` // fullTurnRound: stop and keep this turn's points

	// chat
	Content string `json:"content,omitempty"`
}

// handleStream upgrades `GET /api/multiplayer/sessions/:id/stream` to a
// websocket and pumps server events to the caller while dispatching inbound
// turn_action/chat/heartbeat frames to the owning services.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	sessionID := pathVar(r, "id")

	rec, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, ok := rec.Participants[identity.PlayerID]; !ok {
		s.writeError(w, r, errors.Forbidden("not a participant of this session"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.deps.Stream.Subscribe(r.Context(), rec.Session.RoomID, identity.PlayerID, rec)
	defer s.deps.Stream.Unsubscribe(rec.Session.RoomID, sub.Handle)

	done := make(chan struct{})
	go s.streamWritePump(conn, sub, done)
	s.streamReadPump(conn, sessionID, identity.PlayerID, done)
}

// streamWritePump relays hub frames and keepalive pings to the client until
// the subscription closes or the read pump signals done.
func (s *Server) streamWritePump(conn *websocket.Conn, sub *stream.Subscription, done chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-sub.Closed:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// streamReadPump reads inbound client frames until the connection closes,
// dispatching each to the owning service.
func (s *Server) streamReadPump(conn *websocket.Conn, sessionID, playerID string, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		s.dispatchClientFrame(sessionID, playerID, frame)
	}
}

// dispatchClientFrame runs on a background context: the request context
// that served the upgrade is long gone by the time later frames arrive.
func (s *Server) dispatchClientFrame(sessionID, playerID string, frame clientFrame) {
	ctx := context.Background()

	switch frame.Type {
	case "heartbeat":
		s.deps.Sessions.Heartbeat(ctx, sessionID, playerID)

	case "turn_action":
		switch frame.Intent {
		case "roll":
			s.deps.Turn.RollIntent(ctx, sessionID, playerID)
		case "score":
			s.deps.Turn.ScoreSelection(ctx, sessionID, playerID, frame.ClaimedServerRollID, frame.Selection, frame.Bank)
		}

	case "chat":
		rec, err := s.deps.Sessions.Get(ctx, sessionID)
		if err != nil {
			return
		}
		outcome, err := s.deps.Moderation.EvaluateChat(ctx, rec.Session.RoomID, sessionID, playerID, frame.Content)
		if err != nil {
			return
		}
		s.deliverChat(ctx, rec, playerID, frame.Content, outcome)
	}
}

// chatMessage is the `chat_message` stream frame payload.
type chatMessage struct {
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	Warning  bool   `json:"warning,omitempty"`
}

// deliverChat fans the sender's message out to every participant who has
// not blocked them, skipping delivery entirely for rejected/banned outcomes
// (spec.md §4.10).
func (s *Server) deliverChat(ctx context.Context, rec *sessions.Record, senderID, content string, outcome moderation.ChatOutcome) {
	if outcome.Action != domainmoderation.ActionDeliverClean && outcome.Action != domainmoderation.ActionDeliverWarning {
		return
	}

	exclude := map[string]bool{}
	for recipientID := range rec.Participants {
		if recipientID == senderID {
			continue
		}
		if blocked, _ := s.deps.Moderation.CheckBlock(ctx, recipientID, senderID); blocked {
			exclude[recipientID] = true
		}
	}

	s.deps.Stream.PublishExcluding(ctx, rec.Session.RoomID, "chat_message", chatMessage{
		SenderID: senderID,
		Content:  content,
		Warning:  outcome.Action == domainmoderation.ActionDeliverWarning,
	}, exclude)
}
