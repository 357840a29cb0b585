package room

import (
	"fmt"
	"net"
	"testing"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/rtcerr"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/srtpsession"
)

func testLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("room_test")
}

// pairedContexts returns two *srtpsession.Context sharing one master
// key/salt: one to install as a Session's OutboundSRTP (encrypt side), the
// other held by the test to decrypt and assert on what the Session sent.
func pairedContexts(t *testing.T, key byte) (*srtpsession.Context, *srtpsession.Context) {
	t.Helper()
	masterKey := make([]byte, 16)
	masterSalt := make([]byte, 14)
	for i := range masterKey {
		masterKey[i] = key
	}
	for i := range masterSalt {
		masterSalt[i] = key ^ 0xFF
	}
	a, err := srtpsession.NewContext(masterKey, masterSalt)
	require.NoError(t, err)
	b, err := srtpsession.NewContext(masterKey, masterSalt)
	require.NoError(t, err)
	return a, b
}

func newNominatedSession(t *testing.T, id string, role session.Role, port int) *session.Session {
	t.Helper()
	po := &session.PendingOffer{LocalUfrag: "u", LocalPassword: "p", RemoteUfrag: "r"}
	sess := session.New(id, role, po, testLogger())
	sess.Nominate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	return sess
}

func TestPublisherFanOutToThreeViewers(t *testing.T) {
	table := NewTable(8, 8, nil, testLogger())

	pub := newNominatedSession(t, "pub", session.Publisher, 5000)
	pubOut, _ := pairedContexts(t, 0x01)
	pub.OutboundSRTP = pubOut
	pub.InboundSRTP = pubOut // publisher only needs HasSRTP() true; inbound unused here

	roomID, err := table.RegisterPublisher(pub, TrackParams{PayloadType: 100, ClockRate: 90000, PublisherSSRC: 0x11223344})
	require.NoError(t, err)

	viewerSSRCs := []uint32{0xA, 0xB, 0xC}
	decryptCtx := make([]*srtpsession.Context, 3)
	for i, ssrc := range viewerSSRCs {
		v := newNominatedSession(t, fmt.Sprintf("viewer-%d", i), session.Viewer, 6000+i)
		enc, dec := pairedContexts(t, byte(0x10+i))
		v.OutboundSRTP = enc
		v.InboundSRTP = enc
		decryptCtx[i] = dec

		require.NoError(t, table.RegisterViewer(v, roomID, ssrc))
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			SSRC:           0x11223344,
			SequenceNumber: 1000,
			Timestamp:      90000,
			PayloadType:    100,
		},
		Payload: make([]byte, 100),
	}

	outbound := table.OnPublisherRTP(pub.ID, pkt)
	require.Len(t, outbound, 3)

	// Fan-out order follows map iteration, so match each datagram to its
	// viewer by destination port (6000+i).
	for _, ob := range outbound {
		i := ob.Addr.Port - 6000
		decrypted, err := decryptCtx[i].Decrypt(ob.Data)
		require.NoError(t, err)
		assert.Equal(t, viewerSSRCs[i], decrypted.SSRC)
		assert.EqualValues(t, 1000, decrypted.SequenceNumber)
		assert.EqualValues(t, 90000, decrypted.Timestamp)
		assert.Equal(t, pkt.Payload, decrypted.Payload)
	}
}

func TestPublisherLeaveCascadesViewers(t *testing.T) {
	table := NewTable(8, 8, nil, testLogger())

	pub := newNominatedSession(t, "pub", session.Publisher, 5000)
	pubOut, _ := pairedContexts(t, 0x02)
	pub.OutboundSRTP = pubOut
	pub.InboundSRTP = pubOut

	roomID, err := table.RegisterPublisher(pub, TrackParams{PayloadType: 100, ClockRate: 90000, PublisherSSRC: 1})
	require.NoError(t, err)

	var viewers []*session.Session
	for i := 0; i < 3; i++ {
		v := newNominatedSession(t, fmt.Sprintf("viewer-%d", i), session.Viewer, 7000+i)
		enc, _ := pairedContexts(t, byte(0x20+i))
		v.OutboundSRTP = enc
		v.InboundSRTP = enc
		require.NoError(t, table.RegisterViewer(v, roomID, uint32(i+1)))
		viewers = append(viewers, v)
	}

	table.OnPublisherLeave(pub.ID)

	for _, snap := range table.RoomSnapshot() {
		assert.NotEqual(t, roomID, snap.ID)
	}
	_, ok := table.RoomForPublisher(pub.ID)
	assert.False(t, ok)
	for _, v := range viewers {
		_, ok := table.RoomForViewer(v.ID)
		assert.False(t, ok)
		assert.True(t, v.IsTornDown())
	}

	// Idempotent: calling it again must not panic or double-teardown.
	table.OnPublisherLeave(pub.ID)
}

func TestPublisherRTPWithNoViewersIsNotAnError(t *testing.T) {
	table := NewTable(8, 8, nil, testLogger())

	pub := newNominatedSession(t, "pub", session.Publisher, 5000)
	pubOut, _ := pairedContexts(t, 0x03)
	pub.OutboundSRTP = pubOut
	pub.InboundSRTP = pubOut

	_, err := table.RegisterPublisher(pub, TrackParams{PayloadType: 100, ClockRate: 90000, PublisherSSRC: 1})
	require.NoError(t, err)

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 1, SequenceNumber: 1, Timestamp: 1}, Payload: []byte{0x01}}
	outbound := table.OnPublisherRTP(pub.ID, pkt)
	assert.Empty(t, outbound)
}

func TestRegisterViewerUnknownRoomIsNotFound(t *testing.T) {
	table := NewTable(8, 8, nil, testLogger())
	v := newNominatedSession(t, "viewer", session.Viewer, 9000)
	enc, _ := pairedContexts(t, 0x04)
	v.OutboundSRTP = enc

	err := table.RegisterViewer(v, "does-not-exist", 1)
	var notFound *rtcerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
