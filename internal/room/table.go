package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/rtcerr"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/thumbnail"
)

// Table is the Media Router's state: the room table and the viewer index,
// per §4.5.
type Table struct {
	mu             sync.RWMutex
	rooms          map[string]*Room
	publisherIndex map[string]string // session.ID -> room id
	viewerIndex    map[string]string // session.ID -> room id

	maxRooms          int
	maxViewersPerRoom int

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}

	extractor *thumbnail.Extractor

	log logging.LeveledLogger
}

// NewTable constructs an empty room table.
func NewTable(maxRooms, maxViewersPerRoom int, extractor *thumbnail.Extractor, log logging.LeveledLogger) *Table {
	return &Table{
		rooms:             make(map[string]*Room),
		publisherIndex:    make(map[string]string),
		viewerIndex:       make(map[string]string),
		maxRooms:          maxRooms,
		maxViewersPerRoom: maxViewersPerRoom,
		subscribers:       make(map[chan Event]struct{}),
		extractor:         extractor,
		log:               log,
	}
}

// RegisterPublisher is called on DTLS completion for a Publisher-role
// Session (§4.5). It allocates a fresh room_id and installs the Room.
func (t *Table) RegisterPublisher(sess *session.Session, track TrackParams) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rooms) >= t.maxRooms {
		return "", &rtcerr.ResourceExhaustedError{Resource: "rooms", Limit: t.maxRooms}
	}

	id := uuid.NewString()
	r := newRoom(id, sess, track)
	t.rooms[id] = r
	t.publisherIndex[sess.ID] = id

	t.emit(Event{Kind: EventRoomCreated, RoomID: id})
	t.log.Infof("room %s created, publisher=%s", id, sess.ID)
	return id, nil
}

// RegisterViewer attaches a viewer Session to an existing Room (§4.5). It
// returns a *rtcerr.NotFoundError if targetRoomID does not exist, and a
// *rtcerr.ResourceExhaustedError if the room's viewer cap is reached.
func (t *Table) RegisterViewer(sess *session.Session, targetRoomID string, viewerSSRC uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[targetRoomID]
	if !ok {
		return &rtcerr.NotFoundError{RoomID: targetRoomID}
	}
	if len(r.Viewers) >= t.maxViewersPerRoom {
		return &rtcerr.ResourceExhaustedError{Resource: fmt.Sprintf("viewers in room %s", targetRoomID), Limit: t.maxViewersPerRoom}
	}

	r.Viewers[sess.ID] = sess
	r.ssrcRewrite[sess.ID] = viewerSSRC
	t.viewerIndex[sess.ID] = targetRoomID

	t.emit(Event{Kind: EventViewerJoined, RoomID: targetRoomID})
	t.log.Infof("viewer %s joined room %s (count=%d)", sess.ID, targetRoomID, len(r.Viewers))
	return nil
}

// OnPublisherLeave removes the Room and emits a teardown for every attached
// viewer (§4.5). Idempotent: calling it twice for the same session is a
// no-op the second time.
func (t *Table) OnPublisherLeave(pubSessionID string) {
	t.mu.Lock()
	roomID, ok := t.publisherIndex[pubSessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.publisherIndex, pubSessionID)
	r, ok := t.rooms[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, roomID)

	viewers := make([]*session.Session, 0, len(r.Viewers))
	for id, v := range r.Viewers {
		viewers = append(viewers, v)
		delete(t.viewerIndex, id)
	}
	t.mu.Unlock()

	t.emit(Event{Kind: EventRoomDestroyed, RoomID: roomID})
	t.log.Infof("room %s destroyed (publisher %s left), tearing down %d viewers", roomID, pubSessionID, len(viewers))

	if t.extractor != nil {
		t.extractor.ForgetRoom(roomID)
	}

	for _, v := range viewers {
		v.Teardown()
	}
	r.Publisher.Teardown()
}

// OnViewerLeave removes a viewer from its Room's viewer set (§4.5).
// Idempotent.
func (t *Table) OnViewerLeave(viewerSessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roomID, ok := t.viewerIndex[viewerSessionID]
	if !ok {
		return
	}
	delete(t.viewerIndex, viewerSessionID)

	r, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(r.Viewers, viewerSessionID)
	delete(r.ssrcRewrite, viewerSessionID)

	t.emit(Event{Kind: EventViewerLeft, RoomID: roomID})
}

// RoomForPublisher returns the Room a publisher session owns, if any.
func (t *Table) RoomForPublisher(pubSessionID string) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.publisherIndex[pubSessionID]
	if !ok {
		return nil, false
	}
	r := t.rooms[id]
	return r, r != nil
}

// RoomForViewer returns the Room a viewer session borrows, if any.
func (t *Table) RoomForViewer(viewerSessionID string) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.viewerIndex[viewerSessionID]
	if !ok {
		return nil, false
	}
	r := t.rooms[id]
	return r, r != nil
}

// Counts returns the current room count and total attached-viewer count
// across all rooms, for periodic metrics sampling.
func (t *Table) Counts() (rooms, viewers int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms = len(t.rooms)
	for _, r := range t.rooms {
		viewers += len(r.Viewers)
	}
	return rooms, viewers
}

// emit fans e out to every subscriber's own channel (best effort — a slow
// subscriber drops events rather than blocking the room table).
func (t *Table) emit(e Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for ch := range t.subscribers {
		select {
		case ch <- e:
		default:
			t.log.Warnf("room: subscriber channel full, dropping %v for room %s", e.Kind, e.RoomID)
		}
	}
}

// SubscribeRoomEvents implements the core's exposed subscribe_room_events()
// interface (§6), backing the signaling plane's SSE fan-out: each caller
// gets its own channel carrying every event, independent of other
// subscribers. The returned unsubscribe func must be called (typically via
// defer) once the caller stops reading, or the channel and its slot leak.
func (t *Table) SubscribeRoomEvents() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	t.subMu.Lock()
	t.subscribers[ch] = struct{}{}
	t.subMu.Unlock()

	unsubscribe := func() {
		t.subMu.Lock()
		delete(t.subscribers, ch)
		t.subMu.Unlock()
	}
	return ch, unsubscribe
}
