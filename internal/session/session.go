// Package session implements the design's per-peer state machine (§3 Data
// Model, §4.2, §4.3): a Session tracks ICE nomination, drives the DTLS
// handshake, and once established owns the inbound/outbound SRTP contexts
// a Session needs. It also implements the state-machine half of ICE-lite
// (credential matching, nomination, idle tracking) built on the wire-level
// helpers in package iceagent.
package session

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/dtlsdriver"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/srtpsession"
)

// Role distinguishes a Session's place in its Room, per §3.
type Role int

const (
	Publisher Role = iota
	Viewer
)

func (r Role) String() string {
	if r == Publisher {
		return "publisher"
	}
	return "viewer"
}

// ICEState is the design's §4.2 state machine.
type ICEState int

const (
	ICEGathering ICEState = iota
	ICEChecking
	ICENominated
	ICEFailed
)

// Session is keyed by the remote address it first sent an authenticated
// STUN request from; the Registry inserts it at that first contact, before
// nomination, and AdmitsDTLSAndSRTP gates non-STUN traffic until nomination.
type Session struct {
	ID   string
	Role Role

	LocalUfrag    string
	LocalPassword string
	RemoteUfrag   string

	// ExpectedRemoteFingerprint is the DTLS driver's match target for the
	// peer's certificate (§4.3). TrackPayloadType/TrackClockRate/TrackSSRC
	// carry the SdpNegotiator's negotiated parameters (§6) through to
	// RegisterPublisher/RegisterViewer once DTLS establishes.
	ExpectedRemoteFingerprint string
	TrackPayloadType          uint8
	TrackClockRate            uint32
	TrackSSRC                 uint32

	mu         sync.Mutex
	iceState   ICEState
	remoteAddr *net.UDPAddr

	DTLS     *dtlsdriver.Driver
	endpoint *dtlsdriver.Endpoint

	InboundSRTP  *srtpsession.Context
	OutboundSRTP *srtpsession.Context

	// RoomID is owned (Publisher) or borrowed (Viewer); see §3 invariants.
	RoomID string

	CreatedAt    time.Time
	lastActivity time.Time

	log logging.LeveledLogger

	// torndown is set once and never unset; idempotent per §4.5.
	torndown bool
}

// New constructs a Session in ICEChecking state for a freshly matched
// Pending Offer. The caller (Registry) is responsible for inserting it into
// the address-keyed map; it does so on first contact, before nomination.
func New(id string, role Role, po *PendingOffer, log logging.LeveledLogger) *Session {
	now := time.Now()
	return &Session{
		ID:                        id,
		Role:                      role,
		LocalUfrag:                po.LocalUfrag,
		LocalPassword:             po.LocalPassword,
		RemoteUfrag:               po.RemoteUfrag,
		ExpectedRemoteFingerprint: po.ExpectedRemoteFingerprint,
		TrackPayloadType:          po.PayloadType,
		TrackClockRate:            po.ClockRate,
		TrackSSRC: func() uint32 {
			if role == Publisher {
				return po.PublisherSSRC
			}
			return po.ViewerSSRC
		}(),
		RoomID:       po.TargetRoomID,
		iceState:     ICEChecking,
		CreatedAt:    now,
		lastActivity: now,
		log:          log,
	}
}

// ICEState returns the current ICE state.
func (s *Session) ICEState() ICEState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iceState
}

// RemoteAddr returns the bound 5-tuple, or nil before nomination.
func (s *Session) RemoteAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// Touch records inbound activity for the idle-sweep timer (§5 T_idle).
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// IdleSince reports how long it has been since the last inbound datagram.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Nominate transitions the session to ICENominated and binds its canonical
// 5-tuple, per §4.2: "Further datagrams from that peer are now admitted to
// DTLS/SRTP paths." Calling it more than once with the same address is a
// no-op; calling it with a different address never happens because the
// event loop only routes datagrams matching the already-bound address once
// nominated.
func (s *Session) Nominate(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iceState == ICENominated {
		return
	}
	s.iceState = ICENominated
	s.remoteAddr = addr
}

// AdmitsDTLSAndSRTP reports whether this session has been ICE-nominated —
// the gate §4.2 describes for letting non-STUN traffic reach DTLS/SRTP.
func (s *Session) AdmitsDTLSAndSRTP() bool {
	return s.ICEState() == ICENominated
}

// StartDTLS instantiates the DTLS server driver for this session once ICE
// nomination is complete, per §4.3. send is called by the Endpoint whenever
// the DTLS engine flushes a record and delivers it to s.RemoteAddr();
// package medialoop's callback writes it straight to the UDP socket.
func (s *Session) StartDTLS(ctx context.Context, cert tls.Certificate, expectedFingerprint string, handshakeTimeout time.Duration, send func([]byte) error) {
	local := s.remoteAddr // from the relay's perspective "local" here just labels the Endpoint's own side for logging
	s.endpoint = dtlsdriver.NewEndpoint(local, s.remoteAddr, send)
	s.DTLS = dtlsdriver.New(s.endpoint, cert, expectedFingerprint, s.log)
	s.DTLS.Start(ctx, handshakeTimeout)
}

// FeedDTLS routes one inbound DTLS datagram into the session's driver.
func (s *Session) FeedDTLS(b []byte) error {
	return s.endpoint.Feed(b)
}

// InstallSRTP derives and installs the inbound/outbound SRTP contexts once
// the DTLS handshake reaches Established, per §4.3's key-pair selection: the
// remote peer is always the DTLS client, so the relay decrypts with the
// client key/salt and encrypts with the server key/salt, regardless of
// Role. Per §3's invariant, this is the only place SRTP contexts are ever
// created, and it runs exactly once per Session.
func (s *Session) InstallSRTP() error {
	km := s.DTLS.KeyingMaterial()

	inbound, err := srtpsession.NewContext(km.ClientKey, km.ClientSalt)
	if err != nil {
		return err
	}
	outbound, err := srtpsession.NewContext(km.ServerKey, km.ServerSalt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.InboundSRTP = inbound
	s.OutboundSRTP = outbound
	s.mu.Unlock()
	return nil
}

// HasSRTP reports the §3 invariant directly: a Session holds SRTP contexts
// iff its DTLS state is Established.
func (s *Session) HasSRTP() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InboundSRTP != nil && s.OutboundSRTP != nil
}

// Teardown releases the DTLS driver and marks the session dead. Idempotent,
// per §4.5's LifecycleCascade contract.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	s.mu.Unlock()

	if s.DTLS != nil {
		_ = s.DTLS.Close()
	}
}

// IsTornDown reports whether Teardown has already run.
func (s *Session) IsTornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torndown
}
