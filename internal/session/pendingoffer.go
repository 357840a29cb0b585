package session

import "time"

// PendingOffer is produced by the signaling plane once a WHIP/WHEP request
// has an SDP answer (§3 Data Model). It is consumed — and removed — the
// first time a STUN binding request matches its credentials.
type PendingOffer struct {
	LocalUfrag    string
	LocalPassword string
	RemoteUfrag   string

	// LocalFingerprint is this relay's own certificate fingerprint, as
	// advertised in the SDP answer; ExpectedRemoteFingerprint is what the
	// offer promised the peer's DTLS certificate will fingerprint to.
	LocalFingerprint          string
	ExpectedRemoteFingerprint string

	Role Role

	// TargetRoomID is set only for Viewer offers.
	TargetRoomID string

	// Track parameters negotiated by the SdpNegotiator (§6). PayloadType and
	// ClockRate are always set; PublisherSSRC is set for Publisher offers,
	// ViewerSSRC for Viewer offers (§4.5 step 1's per-viewer SSRC rewrite
	// table is built up from these as viewers register).
	PayloadType   uint8
	ClockRate     uint32
	PublisherSSRC uint32
	ViewerSSRC    uint32

	CreatedAt time.Time
}

// Expired reports whether the offer has outlived T_ice (§5) without a
// matching STUN binding request ever arriving.
func (p *PendingOffer) Expired(now time.Time, tIce time.Duration) bool {
	return now.Sub(p.CreatedAt) > tIce
}
