package iceagent

import (
	"net"
	"testing"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

// buildRequest mirrors what a WHIP/WHEP client's ICE stack sends: a Binding
// Request with USERNAME, MESSAGE-INTEGRITY over the local password, and
// FINGERPRINT.
func buildRequest(t *testing.T, localUfrag, remoteUfrag, password string, useCandidate bool) *stun.Message {
	t.Helper()

	setters := []stun.Setter{
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername(localUfrag + ":" + remoteUfrag),
	}
	if useCandidate {
		setters = append(setters, stun.UseCandidate)
	}
	setters = append(setters, stun.NewShortTermIntegrity(password), stun.Fingerprint)

	msg, err := stun.Build(setters...)
	require.NoError(t, err)
	return msg
}

func TestParseAndAuthenticate_RoundTrip(t *testing.T) {
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 55555}
	req := buildRequest(t, "AAAA", "BBBB", "pw01", false)

	parsed, err := ParseAndAuthenticate(req.Raw, "AAAA", "pw01", remote)
	require.NoError(t, err)
	require.Equal(t, "AAAA", parsed.LocalUfrag)
	require.Equal(t, "BBBB", parsed.RemoteUfrag)
	require.False(t, parsed.UseCandidate)

	resp, err := BuildSuccessResponse(parsed, "pw01")
	require.NoError(t, err)

	respMsg := &stun.Message{Raw: resp}
	require.NoError(t, respMsg.Decode())
	require.Equal(t, stun.BindingSuccess, respMsg.Type)

	var xorAddr stun.XORMappedAddress
	require.NoError(t, xorAddr.GetFrom(respMsg))
	require.True(t, xorAddr.IP.Equal(remote.IP))
	require.Equal(t, remote.Port, xorAddr.Port)

	require.NoError(t, stun.NewShortTermIntegrity("pw01").Check(respMsg))
	require.NoError(t, stun.Fingerprint.Check(respMsg))
}

func TestParseAndAuthenticate_BadIntegrity(t *testing.T) {
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 55555}
	req := buildRequest(t, "AAAA", "BBBB", "pw01", false)

	// Corrupt the last byte of the MESSAGE-INTEGRITY value, which sits just
	// before the 8-byte FINGERPRINT attribute appended last. FINGERPRINT's
	// CRC also covers that byte, so the request may be rejected by either
	// check; it must not be accepted.
	req.Raw[len(req.Raw)-9] ^= 0xFF

	_, err := ParseAndAuthenticate(req.Raw, "AAAA", "pw01", remote)
	require.Error(t, err)
}

func TestParseAndAuthenticate_Nomination(t *testing.T) {
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 55555}
	req := buildRequest(t, "AAAA", "BBBB", "pw01", true)

	parsed, err := ParseAndAuthenticate(req.Raw, "AAAA", "pw01", remote)
	require.NoError(t, err)
	require.True(t, parsed.UseCandidate)
}
