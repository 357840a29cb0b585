package signaling

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/room"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
)

// Server implements the design's WHIP/WHEP HTTP endpoints plus the
// room_snapshot()/subscribe_room_events() read models (§6). It never
// touches the UDP socket directly; it only produces session.PendingOffer
// values the media plane's Registry consumes (§5: "Pending Offers are
// produced by the signaling plane ... through a single-producer-single-
// consumer queue").
type Server struct {
	registry *session.Registry
	table    *room.Table

	localAddr *net.UDPAddr
	fingerprint string

	whipToken   string
	frontendURL string

	log logging.LeveledLogger
}

// NewServer constructs the signaling HTTP server. localAddr is the relay's
// bound UDP socket address, embedded as the single ICE-lite host candidate
// in every SDP answer.
func NewServer(registry *session.Registry, table *room.Table, localAddr *net.UDPAddr, fingerprint, whipToken, frontendURL string, log logging.LeveledLogger) *Server {
	return &Server{
		registry:    registry,
		table:       table,
		localAddr:   localAddr,
		fingerprint: fingerprint,
		whipToken:   whipToken,
		frontendURL: frontendURL,
		log:         log,
	}
}

// Handler returns the full mux, ready to hand to http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/whip", s.withCORS(s.handleWHIP))
	mux.HandleFunc("/whep/", s.withCORS(s.handleWHEP))
	mux.HandleFunc("/rooms", s.withCORS(s.handleRooms))
	mux.HandleFunc("/notifications", s.withCORS(s.handleNotifications))
	return mux
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.frontendURL != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.frontendURL)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// handleWHIP implements the publisher ingest endpoint: POST /whip with an
// SDP offer body and a bearer token, answering with an SDP answer and a
// Location header naming the session. No handler serves that Location, so
// DELETE is not supported; a publisher session ends only through the media
// plane's own idle/teardown handling.
func (s *Server) handleWHIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	offer, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	neg, err := parseOffer(string(offer))
	if err != nil {
		s.log.Debugf("signaling: whip offer rejected: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	local, err := newLocalCredentials(s.fingerprint)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	po := toPendingOffer(local, neg, session.Publisher, "", 0)
	s.registry.RegisterPendingOffer(po)

	answer := buildAnswer(local, s.localAddr, neg, 0)

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/whip/"+local.ufrag)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

// handleWHEP implements the viewer subscribe endpoint: POST
// /whep/{room_id} with an SDP offer body, answering with an SDP answer
// carrying a freshly allocated SSRC the Media Router will rewrite the
// publisher's media into (§4.5 step 1).
func (s *Server) handleWHEP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/whep/")
	if roomID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.roomExists(roomID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	offer, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	neg, err := parseOffer(string(offer))
	if err != nil {
		s.log.Debugf("signaling: whep offer rejected: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	local, err := newLocalCredentials(s.fingerprint)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	viewerSSRC, err := newAnonymousSSRC()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	po := toPendingOffer(local, neg, session.Viewer, roomID, viewerSSRC)
	s.registry.RegisterPendingOffer(po)

	answer := buildAnswer(local, s.localAddr, neg, viewerSSRC)

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

func (s *Server) roomExists(roomID string) bool {
	for _, snap := range s.table.RoomSnapshot() {
		if snap.ID == roomID {
			return true
		}
	}
	return false
}

// handleRooms implements room_snapshot() as JSON (§6).
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.table.RoomSnapshot())
}

// handleNotifications implements subscribe_room_events() as an SSE stream
// (§6), used by the frontend to react to room lifecycle without polling.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := s.table.SubscribeRoomEvents()
	defer unsubscribe()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: {\"room_id\":%q}\n\n", evt.Kind, evt.RoomID)
			flusher.Flush()
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.whipToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return auth == "Bearer "+s.whipToken
}
