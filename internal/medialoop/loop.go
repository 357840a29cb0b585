// Package medialoop implements the design's Session Registry & Event Loop
// (§4.6): the single-threaded cooperative read loop that owns the UDP
// socket, classifies every inbound datagram, and dispatches it to the ICE
// agent, the DTLS driver, or the SRTP/Media Router path. It also drives the
// timer wheel — DTLS retransmission lives inside each session's own driver
// goroutine (see internal/dtlsdriver's documented deviation from the
// black-box framing), but the idle sweep runs here.
package medialoop

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/classify"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/dtlsdriver"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/room"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/rtcerr"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
)

// Counters is the minimal observability surface the loop reports through;
// package metrics supplies the Prometheus-backed implementation.
type Counters interface {
	ProtocolReject(reason string)
	AuthMismatch()
	HandshakeTimeout(stage string)
}

type noopCounters struct{}

func (noopCounters) ProtocolReject(string) {}
func (noopCounters) AuthMismatch()         {}
func (noopCounters) HandshakeTimeout(string) {}

// Loop owns the UDP socket and ties the Session Registry, the DTLS/SRTP
// plumbing, and the Media Router together into the §4.6 read loop.
type Loop struct {
	conn *net.UDPConn

	registry *session.Registry
	table    *room.Table

	cert                 tls.Certificate
	dtlsHandshakeTimeout time.Duration
	idleTimeout          time.Duration
	idleSweepInterval    time.Duration

	counters Counters
	log      logging.LeveledLogger
}

// Config bundles Loop's construction-time dependencies.
type Config struct {
	Registry *session.Registry
	Table    *room.Table

	Certificate          tls.Certificate
	DTLSHandshakeTimeout time.Duration
	SessionIdleTimeout   time.Duration
	IdleSweepInterval    time.Duration

	Counters Counters
	Log      logging.LeveledLogger
}

// New binds the UDP socket at addr and constructs the Loop.
func New(addr *net.UDPAddr, cfg Config) (*Loop, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	counters := cfg.Counters
	if counters == nil {
		counters = noopCounters{}
	}
	return &Loop{
		conn:                 conn,
		registry:             cfg.Registry,
		table:                cfg.Table,
		cert:                 cfg.Certificate,
		dtlsHandshakeTimeout: cfg.DTLSHandshakeTimeout,
		idleTimeout:          cfg.SessionIdleTimeout,
		idleSweepInterval:    cfg.IdleSweepInterval,
		counters:             counters,
		log:                  cfg.Log,
	}, nil
}

// LocalAddr reports the bound UDP address, for the SDP negotiator to embed
// as the single ICE-lite host candidate.
func (l *Loop) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Run blocks, servicing the read loop and the idle sweep until ctx is
// canceled.
func (l *Loop) Run(ctx context.Context) error {
	go l.sweepLoop(ctx)

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return l.conn.Close()
		default:
		}

		l.registry.DrainPending()

		_ = l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		l.handleDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

// send implements §4.6 step 5: drain a single outbound datagram to the
// socket. Non-blocking best effort — UDP writes do not queue in this
// driver.
func (l *Loop) send(data []byte, addr *net.UDPAddr) {
	if _, err := l.conn.WriteToUDP(data, addr); err != nil {
		l.log.Debugf("medialoop: write to %s failed: %v", addr, err)
	}
}

func (l *Loop) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	sess, known := l.registry.Lookup(addr)
	kind := classify.Packet(datagram)

	if !known {
		if kind != classify.STUN {
			l.counters.ProtocolReject("unknown-5-tuple-non-stun")
			return
		}
		l.handleSTUN(datagram, addr)
		return
	}

	if !sess.AdmitsDTLSAndSRTP() {
		if kind == classify.STUN {
			l.handleSTUN(datagram, addr)
		} else {
			l.counters.ProtocolReject("pre-nomination-non-stun")
		}
		return
	}

	switch kind {
	case classify.STUN:
		l.handleSTUN(datagram, addr)
	case classify.DTLS:
		if err := sess.FeedDTLS(datagram); err != nil {
			l.log.Debugf("medialoop: dtls feed for %s failed: %v", sess.ID, err)
		}
	case classify.SRTP:
		l.handleSRTP(sess, datagram)
	default:
		l.counters.ProtocolReject("unclassified")
	}
}

func (l *Loop) handleSTUN(datagram []byte, addr *net.UDPAddr) {
	resp, evt, err := l.registry.HandleSTUN(datagram, addr)
	if err != nil {
		l.counters.ProtocolReject("stun")
		l.log.Debugf("medialoop: stun rejected from %s: %v", addr, err)
		return
	}
	if resp != nil {
		l.send(resp, addr)
	}
	if evt.Kind == session.EventNominated {
		l.startDTLS(evt.Session)
	}
}

func (l *Loop) startDTLS(sess *session.Session) {
	sess.StartDTLS(context.Background(), l.cert, sess.ExpectedRemoteFingerprint, l.dtlsHandshakeTimeout, func(b []byte) error {
		l.send(b, sess.RemoteAddr())
		return nil
	})
	go l.awaitHandshake(sess)
}

// awaitHandshake blocks (in its own goroutine, not the media loop's) until
// the session's DTLS driver reaches a terminal state, then installs SRTP
// and registers the session with the Media Router, or tears it down.
func (l *Loop) awaitHandshake(sess *session.Session) {
	state, err := sess.DTLS.Wait()
	if err != nil {
		l.log.Debugf("medialoop: dtls handshake for %s failed: %v", sess.ID, err)
		var authErr *rtcerr.AuthMismatchError
		var timeoutErr *rtcerr.HandshakeTimeoutError
		switch {
		case errors.As(err, &authErr):
			l.counters.AuthMismatch()
		case errors.As(err, &timeoutErr):
			l.counters.HandshakeTimeout(timeoutErr.Stage)
		default:
			l.counters.ProtocolReject("dtls-handshake")
		}
		l.teardown(sess)
		return
	}
	if state != dtlsdriver.Established {
		l.teardown(sess)
		return
	}

	if err := sess.InstallSRTP(); err != nil {
		l.log.Debugf("medialoop: installing srtp for %s failed: %v", sess.ID, err)
		l.teardown(sess)
		return
	}

	switch sess.Role {
	case session.Publisher:
		_, err := l.table.RegisterPublisher(sess, room.TrackParams{
			PayloadType:   sess.TrackPayloadType,
			ClockRate:     sess.TrackClockRate,
			PublisherSSRC: sess.TrackSSRC,
		})
		if err != nil {
			l.log.Debugf("medialoop: register publisher %s failed: %v", sess.ID, err)
			l.teardown(sess)
		}
	case session.Viewer:
		if err := l.table.RegisterViewer(sess, sess.RoomID, sess.TrackSSRC); err != nil {
			l.log.Debugf("medialoop: register viewer %s failed: %v", sess.ID, err)
			l.teardown(sess)
		}
	}
}

func (l *Loop) handleSRTP(sess *session.Session, datagram []byte) {
	if !sess.HasSRTP() {
		l.counters.ProtocolReject("srtp-before-established")
		return
	}
	sess.Touch(time.Now())

	if isRTCP(datagram) {
		l.handleSRTCP(sess, datagram)
		return
	}

	if sess.Role != session.Publisher {
		l.counters.ProtocolReject("unexpected-rtp-from-viewer")
		return
	}
	pkt, err := sess.InboundSRTP.Decrypt(datagram)
	if err != nil {
		l.counters.ProtocolReject("srtp-decrypt")
		return
	}
	for _, ob := range l.table.OnPublisherRTP(sess.ID, pkt) {
		l.send(ob.Data, ob.Addr)
	}
}

func (l *Loop) handleSRTCP(sess *session.Session, datagram []byte) {
	raw, err := sess.InboundSRTP.DecryptRTCP(datagram)
	if err != nil {
		l.counters.ProtocolReject("srtcp-decrypt")
		return
	}
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		l.counters.ProtocolReject("rtcp-unmarshal")
		return
	}

	var outbound []room.Outbound
	switch sess.Role {
	case session.Viewer:
		outbound = l.table.OnViewerRTCP(sess.ID, packets)
	case session.Publisher:
		outbound = l.table.OnPublisherRTCP(sess.ID, packets)
	}
	for _, ob := range outbound {
		l.send(ob.Data, ob.Addr)
	}
}

// isRTCP applies the conventional RTP/RTCP payload-type split (RFC
// 5761 §4): RTCP packet types occupy [192,223]; everything else sharing the
// SRTP/SRTCP byte range is media RTP.
func isRTCP(datagram []byte) bool {
	if len(datagram) < 2 {
		return false
	}
	pt := datagram[1]
	return pt >= 192 && pt <= 223
}

func (l *Loop) teardown(sess *session.Session) {
	switch sess.Role {
	case session.Publisher:
		l.table.OnPublisherLeave(sess.ID)
	case session.Viewer:
		l.table.OnViewerLeave(sess.ID)
	}
	l.registry.Remove(sess)
	sess.Teardown()
}

func (l *Loop) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.registry.SweepExpiredOffers(now)
			for _, sess := range l.registry.All() {
				if sess.IdleSince(now) > l.idleTimeout {
					l.log.Debugf("medialoop: session %s idle, tearing down", sess.ID)
					l.teardown(sess)
				}
			}
		}
	}
}
