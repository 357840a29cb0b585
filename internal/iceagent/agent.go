// Package iceagent implements the wire-level half of the design's ICE-lite
// agent (§4.2): parsing and validating inbound STUN binding requests against
// short-term credentials, and building the matching success response. It
// has no notion of Session or Room — the state machine (Gathering ->
// Checking -> Nominated -> Failed, 5-tuple binding, idle tracking) lives in
// package session, which calls into this package per datagram.
package iceagent

import (
	"fmt"
	"net"

	"github.com/pion/stun/v3"
)

// BindingRequest is the result of successfully parsing and authenticating an
// inbound STUN Binding Request.
type BindingRequest struct {
	TransactionID  [stun.TransactionIDSize]byte
	LocalUfrag     string
	RemoteUfrag    string
	UseCandidate   bool
	RemoteAddr     *net.UDPAddr
}

// ParseAndAuthenticate decodes datagram as a STUN message, verifies it is a
// Binding Request, checks FINGERPRINT, checks MESSAGE-INTEGRITY against
// localPassword (the local side's short-term credential, per §4.2), and
// splits USERNAME into its "<local_ufrag>:<remote_ufrag>" halves.
//
// Any failure here — malformed message, wrong class, bad FINGERPRINT, bad
// MESSAGE-INTEGRITY — must result in a silent drop at the caller; this
// function returns a plain error in all such cases and the caller never
// synthesizes a STUN error response (ICE has no ICMP-style error signaling).
func ParseAndAuthenticate(datagram []byte, expectedLocalUfrag, localPassword string, remoteAddr *net.UDPAddr) (*BindingRequest, error) {
	m := &stun.Message{Raw: append([]byte(nil), datagram...)}
	if err := m.Decode(); err != nil {
		return nil, fmt.Errorf("stun decode: %w", err)
	}

	if m.Type != stun.BindingRequest {
		return nil, fmt.Errorf("not a binding request: %v", m.Type)
	}

	if err := stun.Fingerprint.Check(m); err != nil {
		return nil, fmt.Errorf("fingerprint check: %w", err)
	}

	integrity := stun.NewShortTermIntegrity(localPassword)
	if err := integrity.Check(m); err != nil {
		return nil, fmt.Errorf("message-integrity check: %w", err)
	}

	raw, err := m.Get(stun.AttrUsername)
	if err != nil {
		return nil, fmt.Errorf("missing username: %w", err)
	}
	localUfrag, remoteUfrag, err := splitUsername(string(raw))
	if err != nil {
		return nil, err
	}
	if localUfrag != expectedLocalUfrag {
		return nil, fmt.Errorf("username local ufrag %q does not match %q", localUfrag, expectedLocalUfrag)
	}

	return &BindingRequest{
		TransactionID: m.TransactionID,
		LocalUfrag:    localUfrag,
		RemoteUfrag:   remoteUfrag,
		UseCandidate:  m.Contains(stun.AttrUseCandidate),
		RemoteAddr:    remoteAddr,
	}, nil
}

// PeekLocalUfrag decodes just enough of datagram to read the USERNAME
// attribute's local-ufrag half, without verifying MESSAGE-INTEGRITY. The
// caller needs this to find which Pending Offer's password to authenticate
// against before the real check in ParseAndAuthenticate can run — USERNAME
// selects the credential, so it must be read first.
func PeekLocalUfrag(datagram []byte) (string, error) {
	m := &stun.Message{Raw: append([]byte(nil), datagram...)}
	if err := m.Decode(); err != nil {
		return "", fmt.Errorf("stun decode: %w", err)
	}
	if m.Type != stun.BindingRequest {
		return "", fmt.Errorf("not a binding request: %v", m.Type)
	}
	raw, err := m.Get(stun.AttrUsername)
	if err != nil {
		return "", fmt.Errorf("missing username: %w", err)
	}
	local, _, err := splitUsername(string(raw))
	return local, err
}

// splitUsername splits a STUN USERNAME attribute of the form
// "<local_ufrag>:<remote_ufrag>" as required by §4.2.
func splitUsername(username string) (local, remote string, err error) {
	for i := 0; i < len(username); i++ {
		if username[i] == ':' {
			return username[:i], username[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed username %q: missing ':'", username)
}

// BuildSuccessResponse constructs a Binding Success Response carrying
// XOR-MAPPED-ADDRESS of the sender, MESSAGE-INTEGRITY and FINGERPRINT
// computed with the local password — the local side's short-term
// credential, per §4.2.
func BuildSuccessResponse(req *BindingRequest, localPassword string) ([]byte, error) {
	integrity := stun.NewShortTermIntegrity(localPassword)

	msg, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: req.RemoteAddr.IP, Port: req.RemoteAddr.Port},
		integrity,
		stun.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("building binding success response: %w", err)
	}

	return msg.Raw, nil
}
