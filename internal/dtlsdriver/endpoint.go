package dtlsdriver

import (
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// Endpoint is a virtual net.Conn for exactly one Session's DTLS traffic. It
// mirrors the teacher's internal/mux.Endpoint: a packetio.Buffer absorbs
// inbound datagrams the event loop feeds it via Feed, and outbound bytes
// written by the DTLS engine are handed to a send callback instead of a
// shared mux socket — there is no shared Mux here because the event loop,
// not pion/dtls, owns demultiplexing (it already routed this datagram to
// this Session's Endpoint via the RFC 7983 classifier and 5-tuple lookup).
type Endpoint struct {
	local, remote net.Addr
	buffer        *packetio.Buffer
	send          func(b []byte) error
}

// NewEndpoint builds an Endpoint bound to a fixed local/remote address pair.
// send is called synchronously by whichever goroutine the DTLS engine uses
// to flush handshake records and application data; package medialoop
// passes a callback that writes the record straight to the UDP socket.
func NewEndpoint(local, remote net.Addr, send func(b []byte) error) *Endpoint {
	buf := packetio.NewBuffer()
	buf.SetLimitSize(maxBufferedBytes)
	return &Endpoint{local: local, remote: remote, buffer: buf, send: send}
}

// maxBufferedBytes bounds how much inbound DTLS traffic can queue before a
// slow handshake starts dropping packets — this mirrors the teacher's
// mux.maxBufferSize, sized down since one Endpoint only ever serves one
// Session's DTLS records rather than a whole socket's SRTP traffic.
const maxBufferedBytes = 64 * 1024

// Feed delivers one inbound DTLS datagram, already classified and routed to
// this Session by the event loop, into the buffer pion/dtls reads from.
func (e *Endpoint) Feed(b []byte) error {
	_, err := e.buffer.Write(b)
	return err
}

// Read implements net.Conn for the DTLS engine's inbound side.
func (e *Endpoint) Read(p []byte) (int, error) {
	return e.buffer.Read(p)
}

// Write implements net.Conn for the DTLS engine's outbound side: handshake
// flights and, after Established, any application data the DTLS layer
// itself emits (none, in this relay — SRTP never rides inside the DTLS
// record layer here).
func (e *Endpoint) Write(p []byte) (int, error) {
	if err := e.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unblocks any pending Read and makes the Endpoint unusable.
func (e *Endpoint) Close() error {
	return e.buffer.Close()
}

func (e *Endpoint) LocalAddr() net.Addr  { return e.local }
func (e *Endpoint) RemoteAddr() net.Addr { return e.remote }

func (e *Endpoint) SetDeadline(time.Time) error      { return nil }
func (e *Endpoint) SetReadDeadline(time.Time) error   { return nil }
func (e *Endpoint) SetWriteDeadline(time.Time) error  { return nil }
