package room

import (
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
)

// Outbound is one ciphertext datagram the event loop must send to addr.
type Outbound struct {
	Data []byte
	Addr *net.UDPAddr
}

// OnPublisherRTP is the hot path (§4.5): for each viewer in the publisher's
// room, rewrite the SSRC to the viewer's negotiated value, leave sequence
// number and timestamp untouched (jitter-buffer correctness), encrypt with
// that viewer's outbound SRTP context, and queue the ciphertext for that
// viewer's 5-tuple. In parallel, the payload is copied into the thumbnail
// extractor's feed — failures there are non-fatal and never affect
// forwarding (§4.5 edge policy).
//
// An RTP packet that arrives before any viewer is attached still reaches
// the thumbnail feed; it simply produces zero Outbound entries, which is
// normal, not an error.
func (t *Table) OnPublisherRTP(pubSessionID string, pkt *rtp.Packet) []Outbound {
	r, ok := t.RoomForPublisher(pubSessionID)
	if !ok {
		return nil
	}

	if t.extractor != nil {
		t.extractor.Feed(r.ID, pkt.Payload, pkt.Marker, func(encoded []byte) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if room, ok := t.rooms[r.ID]; ok {
				room.SetThumbnail(encoded)
			}
		})
	}

	t.mu.RLock()
	type dest struct {
		sess *session.Session
		ssrc uint32
	}
	dests := make([]dest, 0, len(r.Viewers))
	for id, v := range r.Viewers {
		dests = append(dests, dest{sess: v, ssrc: r.ssrcRewrite[id]})
	}
	payloadType := r.Track.PayloadType
	t.mu.RUnlock()

	out := make([]Outbound, 0, len(dests))
	for _, d := range dests {
		if !d.sess.HasSRTP() {
			continue
		}
		addr := d.sess.RemoteAddr()
		if addr == nil {
			continue
		}

		rewritten := *pkt
		rewritten.Header.SSRC = d.ssrc
		rewritten.Header.PayloadType = payloadType

		ciphertext, err := d.sess.OutboundSRTP.Encrypt(&rewritten)
		if err != nil {
			t.log.Debugf("room: encrypt for viewer %s failed: %v", d.sess.ID, err)
			continue
		}
		out = append(out, Outbound{Data: ciphertext, Addr: addr})
	}
	return out
}

// OnViewerRTCP translates PLI/FIR/NACK from a viewer and forwards it
// upstream to the publisher, re-encrypted with the publisher's outbound
// SRTP context, so the publisher can regenerate an I-frame on viewer join
// (§4.5 edge policy). Sender reports and other RTCP types from a viewer are
// not forwarded; publisher sender reports flow the other way through
// OnPublisherRTCP — see DESIGN.md's decision on the "Observability gap"
// open question.
func (t *Table) OnViewerRTCP(viewerSessionID string, packets []rtcp.Packet) []Outbound {
	r, ok := t.RoomForViewer(viewerSessionID)
	if !ok {
		return nil
	}
	if !r.Publisher.HasSRTP() {
		return nil
	}
	addr := r.Publisher.RemoteAddr()
	if addr == nil {
		return nil
	}

	var toForward []rtcp.Packet
	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.PictureLossIndication:
			pkt.MediaSSRC = r.Track.PublisherSSRC
			toForward = append(toForward, pkt)
		case *rtcp.FullIntraRequest:
			pkt.MediaSSRC = r.Track.PublisherSSRC
			toForward = append(toForward, pkt)
		case *rtcp.TransportLayerNack:
			pkt.MediaSSRC = r.Track.PublisherSSRC
			toForward = append(toForward, pkt)
		}
	}
	if len(toForward) == 0 {
		return nil
	}

	raw, err := rtcp.Marshal(toForward)
	if err != nil {
		t.log.Debugf("room: marshal translated rtcp failed: %v", err)
		return nil
	}

	ciphertext, err := r.Publisher.OutboundSRTP.EncryptRTCP(raw)
	if err != nil {
		t.log.Debugf("room: encrypt rtcp for publisher %s failed: %v", r.Publisher.ID, err)
		return nil
	}

	return []Outbound{{Data: ciphertext, Addr: addr}}
}

// OnPublisherRTCP relays the publisher's own SRTCP sender report to every
// viewer, rewritten to that viewer's SSRC and re-encrypted with its
// outbound SRTP context — the decision recorded in SPEC_FULL.md §13 for the
// "RTCP sender reports to viewers" open question: relay rather than
// synthesize.
func (t *Table) OnPublisherRTCP(pubSessionID string, packets []rtcp.Packet) []Outbound {
	r, ok := t.RoomForPublisher(pubSessionID)
	if !ok {
		return nil
	}

	var srs []*rtcp.SenderReport
	for _, p := range packets {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			srs = append(srs, sr)
		}
	}
	if len(srs) == 0 {
		return nil
	}

	t.mu.RLock()
	type dest struct {
		sess *session.Session
		ssrc uint32
	}
	dests := make([]dest, 0, len(r.Viewers))
	for id, v := range r.Viewers {
		dests = append(dests, dest{sess: v, ssrc: r.ssrcRewrite[id]})
	}
	t.mu.RUnlock()

	var out []Outbound
	for _, d := range dests {
		if !d.sess.HasSRTP() {
			continue
		}
		addr := d.sess.RemoteAddr()
		if addr == nil {
			continue
		}

		rewritten := make([]rtcp.Packet, len(srs))
		for i, sr := range srs {
			cp := *sr
			cp.SSRC = d.ssrc
			rewritten[i] = &cp
		}

		raw, err := rtcp.Marshal(rewritten)
		if err != nil {
			continue
		}
		ciphertext, err := d.sess.OutboundSRTP.EncryptRTCP(raw)
		if err != nil {
			continue
		}
		out = append(out, Outbound{Data: ciphertext, Addr: addr})
	}
	return out
}
