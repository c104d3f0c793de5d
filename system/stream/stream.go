// Package stream implements the per-room stream hub (spec.md §4.9): a
// transport-agnostic fan-out of server events to one subscriber per
// participant stream. system/httpapi owns the actual websocket upgrade and
// read/write loops; this package only owns ordering, buffering, and
// backpressure disconnection.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth before a
// slow reader is disconnected for backpressure.
const DefaultSubscriberBuffer = 32

// Frame is one server-to-client stream message. Type tags the frame per the
// categories in spec.md §4.9 (turn_start, roll_result, session_state, ...);
// Data carries the type-specific payload.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Subscription is returned by Subscribe. Events delivers fan-out frames in
// the order the room owner committed them; Closed fires exactly once, with
// the reason the subscription ended (backpressure, room closure, explicit
// Unsubscribe — nil in that last case).
type Subscription struct {
	Handle string
	Events <-chan Frame
	Closed <-chan error
}

type subscriber struct {
	handle        string
	participantID string
	out           chan Frame
	closed        chan error
	closeOnce     sync.Once
}

func (s *subscriber) close(reason error) {
	s.closeOnce.Do(func() {
		s.closed <- reason
		close(s.closed)
		close(s.out)
	})
}

type event struct {
	eventType string
	payload   interface{}
	exclude   map[string]bool
}

type room struct {
	id      string
	mu      sync.Mutex
	subs    map[string]*subscriber
	order   chan event
	done    chan struct{}
	stopped bool
}

func newRoom(id string) *room {
	return &room{
		id:    id,
		subs:  make(map[string]*subscriber),
		order: make(chan event, 256),
		done:  make(chan struct{}),
	}
}

// Hub is the process-wide stream hub, one instance shared by every room.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	bufferSize int
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// New builds a Hub. m and logger may be nil in tests.
func New(m *metrics.Metrics, logger *logging.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		bufferSize: DefaultSubscriberBuffer,
		metrics:    m,
		logger:     logger,
	}
}

// SetBufferSize overrides the per-subscriber channel depth (tests only).
func (h *Hub) SetBufferSize(n int) {
	if n > 0 {
		h.bufferSize = n
	}
}

func (h *Hub) getOrCreateRoom(roomID string) *room {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return r
	}
	r = newRoom(roomID)
	h.rooms[roomID] = r
	go h.runRoom(r)
	return r
}

func (h *Hub) runRoom(r *room) {
	for {
		select {
		case ev := <-r.order:
			h.fanOut(r, ev)
		case <-r.done:
			return
		}
	}
}

func (h *Hub) fanOut(r *room, ev event) {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	frame := Frame{Type: ev.eventType, Data: ev.payload}
	for _, s := range subs {
		if ev.exclude != nil && ev.exclude[s.participantID] {
			continue
		}
		select {
		case s.out <- frame:
		default:
			h.disconnect(r, s, internalerrors.Backpressure())
		}
	}
}

// Subscribe registers participantID's stream on roomID and returns the
// handle and channels the caller (system/httpapi's websocket writer loop)
// reads from. When snapshot is non-nil it is enqueued as a session_state
// frame before any subsequent fan-out, so a reconnecting client always
// resynchronizes from a consistent point (spec.md §4.9).
func (h *Hub) Subscribe(ctx context.Context, roomID, participantID string, snapshot interface{}) *Subscription {
	r := h.getOrCreateRoom(roomID)

	sub := &subscriber{
		handle:        uuid.NewString(),
		participantID: participantID,
		out:           make(chan Frame, h.bufferSize),
		closed:        make(chan error, 1),
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		sub.close(internalerrors.RoomClosed(roomID))
		return &Subscription{Handle: sub.handle, Events: sub.out, Closed: sub.closed}
	}
	if snapshot != nil {
		sub.out <- Frame{Type: "session_state", Data: snapshot}
	}
	r.subs[sub.handle] = sub
	r.mu.Unlock()

	if h.metrics != nil {
		h.metrics.StreamConnections.Inc()
	}

	return &Subscription{Handle: sub.handle, Events: sub.out, Closed: sub.closed}
}

// Unsubscribe removes handle from roomID's fan-out and closes its channels.
// Safe to call more than once or after a backpressure disconnect.
func (h *Hub) Unsubscribe(roomID, handle string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	s, ok := r.subs[handle]
	if ok {
		delete(r.subs, handle)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.close(nil)
	if h.metrics != nil {
		h.metrics.StreamConnections.Dec()
	}
}

func (h *Hub) disconnect(r *room, s *subscriber, reason error) {
	r.mu.Lock()
	if _, ok := r.subs[s.handle]; ok {
		delete(r.subs, s.handle)
	} else {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	s.close(reason)
	if h.metrics != nil {
		h.metrics.StreamConnections.Dec()
		h.metrics.BackpressureDisconnects.Inc()
	}
	if h.logger != nil {
		h.logger.Warn(context.Background(), "subscriber disconnected for backpressure", map[string]interface{}{
			"roomId": r.id, "participantId": s.participantID,
		})
	}
}

// Publish enqueues eventType/payload onto roomID's single ordered channel;
// the room's fan-out goroutine delivers it to every live subscriber in the
// order Publish calls were made (spec.md §5 per-room ordering guarantee).
func (h *Hub) Publish(ctx context.Context, roomID, eventType string, payload interface{}) error {
	return h.publish(ctx, roomID, eventType, payload, nil)
}

// PublishExcluding behaves like Publish but skips delivery to every
// participant ID in exclude — used for chat delivery, where a recipient who
// has blocked the sender must never receive the message (spec.md §4.10).
func (h *Hub) PublishExcluding(ctx context.Context, roomID, eventType string, payload interface{}, exclude map[string]bool) error {
	return h.publish(ctx, roomID, eventType, payload, exclude)
}

func (h *Hub) publish(ctx context.Context, roomID, eventType string, payload interface{}, exclude map[string]bool) error {
	r := h.getOrCreateRoom(roomID)
	select {
	case <-r.done:
		return internalerrors.RoomClosed(roomID)
	default:
	}
	select {
	case r.order <- event{eventType: eventType, payload: payload, exclude: exclude}:
		return nil
	case <-r.done:
		return internalerrors.RoomClosed(roomID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseRoom publishes a room_closed frame to every subscriber, then tears
// down the room's fan-out goroutine and disconnects every subscriber. The
// closed room stays registered, so a later Publish fails and a later
// Subscribe returns an already-closed subscription. Used by room expiry and
// graceful shutdown (spec.md §4.15).
func (h *Hub) CloseRoom(roomID, reason string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*subscriber)
	r.mu.Unlock()

	frame := Frame{Type: "room_closed", Data: map[string]interface{}{"reason": reason}}
	for _, s := range subs {
		select {
		case s.out <- frame:
		default:
		}
		s.close(internalerrors.RoomClosed(roomID))
		if h.metrics != nil {
			h.metrics.StreamConnections.Dec()
		}
	}
	close(r.done)
}

// CloseAll closes every live room with reason, used during process shutdown
// (spec.md §4.15) so connected clients receive a room_closed frame instead
// of a bare connection drop.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	roomIDs := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		roomIDs = append(roomIDs, id)
	}
	h.mu.RUnlock()

	for _, id := range roomIDs {
		h.CloseRoom(id, reason)
	}
}

// SubscriberCount reports the live subscriber count for roomID (admin
// overview and tests).
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
