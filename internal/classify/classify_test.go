package classify

import "testing"

// TestPacketTotality exercises the classifier-totality property from the
// design's testable properties: for every byte b, Packet returns exactly
// one Kind, and the ranges are disjoint.
func TestPacketTotality(t *testing.T) {
	for b := 0; b <= 255; b++ {
		buf := []byte{byte(b)}
		got := Packet(buf)
		switch {
		case b <= 3:
			if got != STUN {
				t.Fatalf("byte %d: want STUN, got %v", b, got)
			}
		case b >= 20 && b <= 63:
			if got != DTLS {
				t.Fatalf("byte %d: want DTLS, got %v", b, got)
			}
		case b >= 128 && b <= 191:
			if got != SRTP {
				t.Fatalf("byte %d: want SRTP, got %v", b, got)
			}
		default:
			if got != Unknown {
				t.Fatalf("byte %d: want Unknown, got %v", b, got)
			}
		}
	}
}

func TestPacketEmptyDatagram(t *testing.T) {
	if got := Packet(nil); got != Unknown {
		t.Fatalf("empty datagram: want Unknown, got %v", got)
	}
	if got := Packet([]byte{}); got != Unknown {
		t.Fatalf("empty datagram: want Unknown, got %v", got)
	}
}
