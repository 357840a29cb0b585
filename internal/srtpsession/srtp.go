// Package srtpsession implements the design's SRTP Session Pair (§4.4): a
// thin, single-producer wrapper around pion/srtp's low-level *Context,
// giving each Session one inbound and one outbound crypto context instead
// of the goroutine-driven Session/Stream multiplexer pion/srtp normally
// spins up per socket. The media-plane event loop already classifies and
// demultiplexes by remote address, so the per-packet encrypt/decrypt calls
// here are synchronous, bounded, and safe to call directly from that loop —
// no internal locking is needed, matching §4.4's "single-producer" contract
// and §5's single-threaded media plane.
package srtpsession

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// Profile is the one protection profile the design requires support for
// (§4.3): SRTP_AES128_CM_SHA1_80.
const Profile = srtp.ProtectionProfileAes128CmHmacSha1_80

// Context wraps one direction-agnostic pion/srtp *Context. A Session holds
// at most two: one keyed with its inbound master key/salt (decrypt) and one
// keyed with its outbound pair (encrypt) — see §4.4.
type Context struct {
	inner *srtp.Context
}

// NewContext derives an SRTP/SRTCP crypto context from a master key and
// salt extracted via the DTLS exporter (§4.3). Replay protection is enabled
// for both SRTP and SRTCP with a 64-packet window.
func NewContext(masterKey, masterSalt []byte) (*Context, error) {
	inner, err := srtp.CreateContext(masterKey, masterSalt, Profile,
		srtp.SRTPReplayProtection(64), srtp.SRTCPReplayProtection(64))
	if err != nil {
		return nil, fmt.Errorf("srtpsession: creating context: %w", err)
	}
	return &Context{inner: inner}, nil
}

// Decrypt verifies the auth tag, decrypts the payload, and applies replay
// protection (pion/srtp maintains the sliding window per SSRC internally).
// Returns the plaintext RTP packet.
func (c *Context) Decrypt(srtpPacket []byte) (*rtp.Packet, error) {
	var header rtp.Header
	if _, err := header.Unmarshal(srtpPacket); err != nil {
		return nil, fmt.Errorf("srtpsession: parsing rtp header: %w", err)
	}

	decrypted, err := c.inner.DecryptRTP(nil, srtpPacket, &header)
	if err != nil {
		return nil, fmt.Errorf("srtpsession: decrypt: %w", err)
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(decrypted); err != nil {
		return nil, fmt.Errorf("srtpsession: unmarshal decrypted rtp: %w", err)
	}
	return pkt, nil
}

// Encrypt preserves the RTP header, encrypts the payload, and appends the
// auth tag; pion/srtp derives and advances the per-SSRC ROC internally from
// the 16-bit sequence number.
func (c *Context) Encrypt(pkt *rtp.Packet) ([]byte, error) {
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("srtpsession: marshal rtp: %w", err)
	}
	out, err := c.inner.EncryptRTP(nil, raw, &pkt.Header)
	if err != nil {
		return nil, fmt.Errorf("srtpsession: encrypt: %w", err)
	}
	return out, nil
}

// DecryptRTCP mirrors Decrypt for RTCP/SRTCP compound packets (receiver
// reports from viewers, sender reports and PLI/FIR/NACK in either
// direction, per §4.4).
func (c *Context) DecryptRTCP(srtcpPacket []byte) ([]byte, error) {
	out, err := c.inner.DecryptRTCP(nil, srtcpPacket, nil)
	if err != nil {
		return nil, fmt.Errorf("srtpsession: decrypt rtcp: %w", err)
	}
	return out, nil
}

// EncryptRTCP mirrors Encrypt for RTCP.
func (c *Context) EncryptRTCP(rtcpPacket []byte) ([]byte, error) {
	out, err := c.inner.EncryptRTCP(nil, rtcpPacket, nil)
	if err != nil {
		return nil, fmt.Errorf("srtpsession: encrypt rtcp: %w", err)
	}
	return out, nil
}
