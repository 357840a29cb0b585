// Package signaling implements the design's external collaborators for
// WHIP/WHEP (§1, §6): SDP offer/answer handling backed by pion/sdp/v3, the
// room read model exposed as JSON, and an SSE fan-out of room lifecycle
// events. None of this is part of the core UDP media plane; it only
// produces session.PendingOffer values for the media plane's Registry and
// reads room.Table's snapshot/event-stream views.
package signaling

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
)

// negotiatedOffer is what parseOffer extracts from the peer's SDP, before a
// PendingOffer can be built (building one also needs our own local
// credentials and, for viewers, a freshly allocated SSRC).
type negotiatedOffer struct {
	remoteUfrag string
	fingerprint string
	payloadType uint8
	clockRate   uint32
	ssrc        uint32
}

// parseOffer extracts the ICE credentials, DTLS fingerprint, and track
// parameters from a WHIP/WHEP SDP offer's video media section. Only the
// first video m= section is considered — multi-track/simulcast offers are
// out of scope (§1 Non-goals). The track parameters are those of the first
// payload type on that m= line; the codec name in its rtpmap is not checked,
// so a non-H.264 first payload type is accepted and answered as H264.
func parseOffer(offerSDP string) (*negotiatedOffer, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offerSDP)); err != nil {
		return nil, fmt.Errorf("signaling: parsing offer: %w", err)
	}

	ufrag, _ := sessionOrMediaAttribute(&sd, "ice-ufrag")
	if ufrag == "" {
		return nil, fmt.Errorf("signaling: offer missing ice-ufrag")
	}
	fingerprintLine, _ := sessionOrMediaAttribute(&sd, "fingerprint")
	if fingerprintLine == "" {
		return nil, fmt.Errorf("signaling: offer missing fingerprint")
	}
	fingerprint := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(fingerprintLine, "sha-256")))

	var video *sdp.MediaDescription
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "video" {
			video = m
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("signaling: offer has no video media section")
	}

	payloadType, clockRate, err := videoCodec(video)
	if err != nil {
		return nil, err
	}

	ssrc, err := videoSSRC(video)
	if err != nil {
		return nil, err
	}

	return &negotiatedOffer{
		remoteUfrag: ufrag,
		fingerprint: fingerprint,
		payloadType: payloadType,
		clockRate:   clockRate,
		ssrc:        ssrc,
	}, nil
}

func sessionOrMediaAttribute(sd *sdp.SessionDescription, key string) (string, bool) {
	if v, ok := sd.Attribute(key); ok {
		return v, true
	}
	for _, m := range sd.MediaDescriptions {
		if v, ok := m.Attribute(key); ok {
			return v, true
		}
	}
	return "", false
}

// videoCodec reads the payload type off the video m= line and its clock
// rate off the matching rtpmap attribute, e.g. "96 H264/90000".
func videoCodec(m *sdp.MediaDescription) (uint8, uint32, error) {
	if len(m.MediaName.Formats) == 0 {
		return 0, 0, fmt.Errorf("signaling: video section has no payload types")
	}
	pt, err := strconv.Atoi(m.MediaName.Formats[0])
	if err != nil {
		return 0, 0, fmt.Errorf("signaling: invalid payload type: %w", err)
	}

	for _, a := range m.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) != 2 || fields[0] != strconv.Itoa(pt) {
			continue
		}
		parts := strings.Split(fields[1], "/")
		if len(parts) < 2 {
			continue
		}
		clockRate, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		return uint8(pt), uint32(clockRate), nil
	}
	return 0, 0, fmt.Errorf("signaling: no rtpmap found for payload type %d", pt)
}

func videoSSRC(m *sdp.MediaDescription) (uint32, error) {
	for _, a := range m.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) == 0 {
			continue
		}
		ssrc, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		return uint32(ssrc), nil
	}
	return 0, fmt.Errorf("signaling: video section has no ssrc attribute")
}

// buildAnswer renders the relay's SDP answer: a single video m= section,
// ICE-lite with one host candidate, setup:passive (the relay is always the
// DTLS server, per §4.3), and our own ufrag/pwd/fingerprint.
func buildAnswer(local localCredentials, host *net.UDPAddr, neg *negotiatedOffer, answerSSRC uint32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- %d 2 IN IP4 %s\r\n", local.sessionID, host.IP)
	fmt.Fprintf(&b, "s=-\r\n")
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "a=ice-lite\r\n")
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", local.ufrag)
	fmt.Fprintf(&b, "a=ice-pwd:%s\r\n", local.password)
	fmt.Fprintf(&b, "a=fingerprint:sha-256 %s\r\n", local.fingerprint)
	fmt.Fprintf(&b, "m=video 9 UDP/TLS/RTP/SAVPF %d\r\n", neg.payloadType)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", host.IP)
	fmt.Fprintf(&b, "a=rtcp-mux\r\n")
	fmt.Fprintf(&b, "a=setup:passive\r\n")
	fmt.Fprintf(&b, "a=sendonly\r\n")
	fmt.Fprintf(&b, "a=mid:0\r\n")
	fmt.Fprintf(&b, "a=rtpmap:%d H264/%d\r\n", neg.payloadType, neg.clockRate)
	fmt.Fprintf(&b, "a=candidate:1 1 UDP %d %s %d typ host\r\n", candidatePriority(), host.IP, host.Port)
	if answerSSRC != 0 {
		fmt.Fprintf(&b, "a=ssrc:%d cname:relay\r\n", answerSSRC)
	}
	return b.String()
}

func candidatePriority() uint32 {
	// ICE-lite host candidate priority per RFC 8445 §5.1.2.1, type preference
	// 126 (host), local preference 65535, component 1.
	return (126 << 24) | (65535 << 8) | (256 - 1)
}

type localCredentials struct {
	ufrag       string
	password    string
	fingerprint string
	sessionID   uint64
}

func newLocalCredentials(fingerprint string) (localCredentials, error) {
	ufrag, err := randomICEString(4)
	if err != nil {
		return localCredentials{}, err
	}
	pwd, err := randomICEString(22)
	if err != nil {
		return localCredentials{}, err
	}
	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return localCredentials{}, err
	}
	return localCredentials{
		ufrag:       ufrag,
		password:    pwd,
		fingerprint: fingerprint,
		sessionID:   binary.BigEndian.Uint64(idBuf[:]) & (1<<63 - 1),
	}, nil
}

const iceCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomICEString draws n characters from the ICE ufrag/pwd charset (RFC
// 5245 §15.4 restricts these to ice-char = ALPHA / DIGIT / "+" / "/"; this
// relay sticks to the alphanumeric subset for simplicity).
func randomICEString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = iceCharset[int(b)%len(iceCharset)]
	}
	return string(out), nil
}

func newAnonymousSSRC() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[:])
	if v == 0 {
		v = 1
	}
	return v, nil
}

// toPendingOffer assembles a session.PendingOffer from a parsed remote
// offer and this relay's freshly generated local credentials.
func toPendingOffer(local localCredentials, neg *negotiatedOffer, role session.Role, targetRoomID string, viewerSSRC uint32) *session.PendingOffer {
	return &session.PendingOffer{
		LocalUfrag:                local.ufrag,
		LocalPassword:             local.password,
		RemoteUfrag:               neg.remoteUfrag,
		LocalFingerprint:          local.fingerprint,
		ExpectedRemoteFingerprint: neg.fingerprint,
		Role:                      role,
		TargetRoomID:              targetRoomID,
		PayloadType:               neg.payloadType,
		ClockRate:                 neg.clockRate,
		PublisherSSRC:             neg.ssrc,
		ViewerSSRC:                viewerSSRC,
	}
}
