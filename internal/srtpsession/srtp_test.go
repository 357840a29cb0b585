package srtpsession

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func testKeyAndSalt(fill byte) ([]byte, []byte) {
	key := make([]byte, 16)
	salt := make([]byte, 14)
	for i := range key {
		key[i] = fill
	}
	for i := range salt {
		salt[i] = fill ^ 0xAA
	}
	return key, salt
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, salt := testKeyAndSalt(0x42)
	enc, err := NewContext(key, salt)
	require.NoError(t, err)
	dec, err := NewContext(key, salt)
	require.NoError(t, err)

	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 0xCAFE, SequenceNumber: 1, Timestamp: 1000, PayloadType: 100},
		Payload: []byte("hello room"),
	}

	ciphertext, err := enc.Encrypt(pkt)
	require.NoError(t, err)

	plain, err := dec.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, pkt.Payload, plain.Payload)
	require.Equal(t, pkt.SSRC, plain.SSRC)
}

// TestReplayIsRejected mirrors §8's "Replay protection" testable property:
// replaying a captured SRTP packet produces no usable output the second
// time.
func TestReplayIsRejected(t *testing.T) {
	key, salt := testKeyAndSalt(0x77)
	enc, err := NewContext(key, salt)
	require.NoError(t, err)
	dec, err := NewContext(key, salt)
	require.NoError(t, err)

	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 0xCAFE, SequenceNumber: 42, Timestamp: 1000},
		Payload: []byte("frame"),
	}
	ciphertext, err := enc.Encrypt(pkt)
	require.NoError(t, err)

	_, err = dec.Decrypt(ciphertext)
	require.NoError(t, err)

	_, err = dec.Decrypt(ciphertext)
	require.Error(t, err, "replayed SRTP packet must be rejected")
}
