// Registry implements the matching side of §3's Pending Offer lifecycle and
// the 5-tuple session table the event loop (package medialoop, the
// top-level UDP loop) looks sessions up in.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/iceagent"
)

// EventKind tells the event loop what, if anything, changed as a result of
// a STUN exchange.
type EventKind int

const (
	EventNone EventKind = iota
	EventSessionCreated
	EventNominated
)

// Event reports a Registry.HandleSTUN side effect that the event loop must
// act on (e.g. EventNominated triggers StartDTLS).
type Event struct {
	Kind    EventKind
	Session *Session
}

// Registry owns the Pending Offer table and the 5-tuple session map.
// Pending Offers arrive from the signaling plane over a single-producer
// channel (§5: "Pending Offers ... consumed by the media plane through a
// single-producer-single-consumer queue"), so RegisterPendingOffer takes no
// lock. The mutex guards the two maps, which are touched by the event-loop
// goroutine that calls HandleSTUN and DrainPending, by the idle-sweep
// goroutine (SweepExpiredOffers, All, Remove), and by per-session handshake
// goroutines that call Remove on teardown.
type Registry struct {
	mu             sync.Mutex
	pendingByUfrag map[string]*PendingOffer
	sessions       map[string]*Session

	pendingCh chan *PendingOffer

	tIce time.Duration
	log  logging.LeveledLogger
}

// NewRegistry constructs an empty Registry. tIce is the Pending Offer
// expiry window (§5's T_ice, default 15s).
func NewRegistry(tIce time.Duration, log logging.LeveledLogger) *Registry {
	return &Registry{
		pendingByUfrag: make(map[string]*PendingOffer),
		sessions:       make(map[string]*Session),
		pendingCh:      make(chan *PendingOffer, 256),
		tIce:           tIce,
		log:            log,
	}
}

// RegisterPendingOffer is called by the signaling plane; it never blocks the
// media loop because it only enqueues.
func (r *Registry) RegisterPendingOffer(po *PendingOffer) {
	po.CreatedAt = time.Now()
	select {
	case r.pendingCh <- po:
	default:
		r.log.Warnf("registry: pending offer queue full, dropping ufrag %s", po.LocalUfrag)
	}
}

// DrainPending moves queued Pending Offers into the lookup table. Called
// once per event-loop tick (§4.6 step 6).
func (r *Registry) DrainPending() {
	for {
		select {
		case po := <-r.pendingCh:
			r.mu.Lock()
			r.pendingByUfrag[po.LocalUfrag] = po
			r.mu.Unlock()
		default:
			return
		}
	}
}

// SweepExpiredOffers drops Pending Offers that outlived T_ice without ever
// seeing a matching STUN request (§5).
func (r *Registry) SweepExpiredOffers(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, po := range r.pendingByUfrag {
		if po.Expired(now, r.tIce) {
			delete(r.pendingByUfrag, k)
		}
	}
}

// Lookup returns the Session bound to addr, if any.
func (r *Registry) Lookup(addr *net.UDPAddr) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[addr.String()]
	return s, ok
}

// Remove deletes a session from the 5-tuple table. Safe to call more than
// once.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.remoteAddr != nil {
		delete(r.sessions, s.remoteAddr.String())
	}
}

// All returns a snapshot slice of every active session, for the idle sweep.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// HandleSTUN implements §4.2's handle_stun(session_or_none, datagram,
// remote_addr) contract. It authenticates the request, creates a Session
// from a matching Pending Offer on first contact, nominates on
// USE-CANDIDATE, and returns the Binding Success Response to send plus
// whatever Event the event loop needs to react to.
//
// Any returned error means: drop silently, bump a ProtocolReject counter,
// no session effect — per §4.2's failure policy.
func (r *Registry) HandleSTUN(datagram []byte, addr *net.UDPAddr) ([]byte, Event, error) {
	if existing, ok := r.Lookup(addr); ok {
		return r.handleExisting(existing, datagram, addr)
	}
	return r.handlePending(datagram, addr)
}

func (r *Registry) handleExisting(s *Session, datagram []byte, addr *net.UDPAddr) ([]byte, Event, error) {
	req, err := iceagent.ParseAndAuthenticate(datagram, s.LocalUfrag, s.LocalPassword, addr)
	if err != nil {
		return nil, Event{}, fmt.Errorf("registry: authenticating keepalive: %w", err)
	}

	s.Touch(time.Now())

	evt := Event{}
	if req.UseCandidate && s.ICEState() != ICENominated {
		s.Nominate(addr)
		evt = Event{Kind: EventNominated, Session: s}
	}

	resp, err := iceagent.BuildSuccessResponse(req, s.LocalPassword)
	if err != nil {
		return nil, Event{}, err
	}
	return resp, evt, nil
}

func (r *Registry) handlePending(datagram []byte, addr *net.UDPAddr) ([]byte, Event, error) {
	localUfrag, err := iceagent.PeekLocalUfrag(datagram)
	if err != nil {
		return nil, Event{}, fmt.Errorf("registry: peeking username: %w", err)
	}

	r.mu.Lock()
	po, ok := r.pendingByUfrag[localUfrag]
	r.mu.Unlock()
	if !ok {
		return nil, Event{}, fmt.Errorf("registry: no pending offer for ufrag %q", localUfrag)
	}
	if po.Expired(time.Now(), r.tIce) {
		r.mu.Lock()
		delete(r.pendingByUfrag, localUfrag)
		r.mu.Unlock()
		return nil, Event{}, fmt.Errorf("registry: pending offer %q expired", localUfrag)
	}

	req, err := iceagent.ParseAndAuthenticate(datagram, localUfrag, po.LocalPassword, addr)
	if err != nil {
		return nil, Event{}, fmt.Errorf("registry: authenticating first contact: %w", err)
	}
	if req.RemoteUfrag != po.RemoteUfrag {
		return nil, Event{}, fmt.Errorf("registry: remote ufrag %q does not match pending offer %q", req.RemoteUfrag, po.RemoteUfrag)
	}

	sess := New(uuid.NewString(), po.Role, po, r.log)

	r.mu.Lock()
	delete(r.pendingByUfrag, localUfrag)
	r.sessions[addr.String()] = sess
	r.mu.Unlock()

	kind := EventSessionCreated
	if req.UseCandidate {
		sess.Nominate(addr)
		kind = EventNominated
	}

	resp, err := iceagent.BuildSuccessResponse(req, po.LocalPassword)
	if err != nil {
		return nil, Event{}, err
	}
	return resp, Event{Kind: kind, Session: sess}, nil
}
