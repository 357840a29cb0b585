// Package room implements the design's Media Router (§4.5): the room
// table, publisher-to-viewer RTP fan-out with per-viewer SSRC rewrite, the
// viewer-to-publisher RTCP feedback path, and the lifecycle cascades that
// tie a Room's life to its single Publisher Session.
package room

import (
	"time"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
)

// TrackParams are the SDP-negotiated parameters a Room needs to forward
// and rewrite media (§3 Data Model).
type TrackParams struct {
	PayloadType    uint8
	ClockRate      uint32
	PublisherSSRC  uint32
}

// Room is identified by an opaque random ID and ties exactly one Publisher
// Session to a set of Viewer Sessions (§3's single-publisher invariant).
type Room struct {
	ID string

	Publisher *session.Session
	Track     TrackParams

	// Viewers, keyed by Session.ID. ssrcRewrite maps each viewer's Session.ID
	// to the SSRC it negotiated in its own SDP answer (§4.5 step 1).
	Viewers     map[string]*session.Session
	ssrcRewrite map[string]uint32

	thumbnail []byte

	CreatedAt time.Time
}

func newRoom(id string, publisher *session.Session, track TrackParams) *Room {
	return &Room{
		ID:          id,
		Publisher:   publisher,
		Track:       track,
		Viewers:     make(map[string]*session.Session),
		ssrcRewrite: make(map[string]uint32),
		CreatedAt:   time.Now(),
	}
}

// ViewerCount returns the current number of attached viewers.
func (r *Room) ViewerCount() int {
	return len(r.Viewers)
}

// Thumbnail returns the last successfully extracted thumbnail, or nil if
// none has been produced yet — an empty thumbnail is normal, not an error
// (§3 Data Model).
func (r *Room) Thumbnail() []byte {
	return r.thumbnail
}

// SetThumbnail replaces the Room's current thumbnail bytes. Called only
// from the thumbnail extractor's worker-pool callback.
func (r *Room) SetThumbnail(b []byte) {
	r.thumbnail = b
}
