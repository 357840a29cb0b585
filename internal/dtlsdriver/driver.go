// Package dtlsdriver implements the design's DTLS Driver (§4.3): a per-
// Session wrapper around pion/dtls's server handshake, run to completion in
// a dedicated goroutine against a virtual Endpoint fed by the event loop,
// with SRTP keying material extracted via the RFC 5705 exporter once the
// handshake completes.
//
// The design frames the DTLS engine as an external black box driven by
// feed_input/pending_output/next_deadline. pion/dtls does not expose that
// shape directly — its Conn owns its own read goroutine and retransmit
// timer once Server() is called. Rather than re-implement DTLS retransmit
// scheduling on top of a library that already does it correctly, the driver
// accepts pion/dtls's own goroutine and timer, and keeps the black-box
// property where it matters: the event loop never reaches into the DTLS
// state machine, it only Feeds datagrams in and drains Outbound bytes out.
package dtlsdriver

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/rtcerr"
)

// State mirrors the design's DTLS state machine: Awaiting -> Handshaking ->
// Established, or -> Failed on timeout or fingerprint mismatch.
type State int

const (
	Awaiting State = iota
	Handshaking
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return "awaiting"
	}
}

const (
	exporterLabel = "EXTRACTOR-dtls_srtp"
	masterKeyLen  = 16 // AES_CM_128_HMAC_SHA1_80
	masterSaltLen = 14
)

// KeyingMaterial holds the four values RFC 5764 §4.2 derives from the DTLS
// exporter, laid out client-key, server-key, client-salt, server-salt.
// Because this relay is always the DTLS server, the remote peer (client)
// sends using the client pair and the relay must send using the server
// pair — §4.3's "select the correct pair for inbound vs outbound".
type KeyingMaterial struct {
	ClientKey, ClientSalt []byte
	ServerKey, ServerSalt []byte
}

// Driver drives one Session's DTLS handshake and exposes its outcome.
type Driver struct {
	endpoint            *Endpoint
	cert                tls.Certificate
	expectedFingerprint string
	log                 logging.LeveledLogger

	mu      sync.Mutex
	state   State
	conn    *dtls.Conn
	keying  *KeyingMaterial
	failErr error

	done chan struct{}
}

// New constructs a Driver for one Session. expectedFingerprint is the
// SHA-256 fingerprint the Pending Offer recorded from the SDP offer; it is
// checked against the peer's actual DTLS certificate during the handshake
// (§4.3's verification callback).
func New(endpoint *Endpoint, cert tls.Certificate, expectedFingerprint string, log logging.LeveledLogger) *Driver {
	return &Driver{
		endpoint:            endpoint,
		cert:                cert,
		expectedFingerprint: strings.ToUpper(expectedFingerprint),
		log:                 log,
		state:               Awaiting,
		done:                make(chan struct{}),
	}
}

// Start begins the handshake in a background goroutine. Session observes
// completion either by waiting on Done() or by polling State().
func (d *Driver) Start(ctx context.Context, handshakeTimeout time.Duration) {
	d.mu.Lock()
	d.state = Handshaking
	d.mu.Unlock()

	go d.run(ctx, handshakeTimeout)
}

func (d *Driver) run(ctx context.Context, handshakeTimeout time.Duration) {
	defer close(d.done)

	cfg := &dtls.Config{
		Certificates:           []tls.Certificate{d.cert},
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true, // browser DTLS certs are self-signed; trust binds to the SDP fingerprint instead
		VerifyPeerCertificate:  d.verifyPeerCertificate,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		LoggerFactory:          loggerFactory{d.log},
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, handshakeTimeout)
		},
	}

	conn, err := dtls.Server(d.endpoint, cfg)
	if err != nil {
		d.fail(classifyHandshakeError(err))
		return
	}

	keyingRaw, err := conn.ExportKeyingMaterial(exporterLabel, nil, 2*(masterKeyLen+masterSaltLen))
	if err != nil {
		d.fail(fmt.Errorf("dtlsdriver: exporting keying material: %w", err))
		_ = conn.Close()
		return
	}

	d.mu.Lock()
	d.conn = conn
	d.keying = splitKeyingMaterial(keyingRaw)
	d.state = Established
	d.mu.Unlock()

	d.log.Infof("dtls established, remote=%s", d.endpoint.RemoteAddr())
}

func classifyHandshakeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &rtcerr.HandshakeTimeoutError{Stage: "dtls"}
	}
	return err
}

// verifyPeerCertificate implements crypto/tls's VerifyPeerCertificate shape:
// it is called with the raw peer certificate chain after the handshake
// negotiates it, and fails the handshake if the fingerprint does not match
// what the SDP offer/answer promised.
func (d *Driver) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("dtlsdriver: no peer certificate presented")
	}
	sum := sha256.Sum256(rawCerts[0])
	got := fingerprintHex(sum[:])
	if got != d.expectedFingerprint {
		return &rtcerr.AuthMismatchError{Expected: d.expectedFingerprint, Got: got}
	}
	return nil
}

func fingerprintHex(sum []byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

func splitKeyingMaterial(km []byte) *KeyingMaterial {
	return &KeyingMaterial{
		ClientKey:  km[0:masterKeyLen],
		ServerKey:  km[masterKeyLen : 2*masterKeyLen],
		ClientSalt: km[2*masterKeyLen : 2*masterKeyLen+masterSaltLen],
		ServerSalt: km[2*masterKeyLen+masterSaltLen : 2*masterKeyLen+2*masterSaltLen],
	}
}

func (d *Driver) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Failed
	d.failErr = err
	d.log.Errorf("dtls handshake failed, remote=%s: %v", d.endpoint.RemoteAddr(), err)
}

// State returns the current handshake state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the failure reason once State() == Failed.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failErr
}

// KeyingMaterial returns the exported SRTP keys once State() == Established.
func (d *Driver) KeyingMaterial() *KeyingMaterial {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keying
}

// Done is closed when the handshake finishes, successfully or not.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the handshake reaches a terminal state and returns it
// alongside the failure reason, if any.
func (d *Driver) Wait() (State, error) {
	<-d.done
	return d.State(), d.Err()
}

// Close tears down the DTLS connection and unblocks the Endpoint.
func (d *Driver) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return d.endpoint.Close()
}

// loggerFactory adapts a single logging.LeveledLogger (scoped to one
// Session) into the logging.LoggerFactory pion/dtls expects.
type loggerFactory struct {
	log logging.LeveledLogger
}

func (f loggerFactory) NewLogger(string) logging.LeveledLogger { return f.log }
