package thumbnail

import "encoding/binary"

// NAL unit types this package cares about, per RFC 6184 §5.2/§5.3/§5.4.
const (
	nalTypeMask = 0x1F

	nalIDRSlice = 5
	nalSPS      = 7
	nalPPS      = 8
	nalSTAPA    = 24
	nalFUA      = 28
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// isKeyFrame reports whether payload carries an SPS, PPS, or IDR slice NAL
// unit, unwrapping a STAP-A aggregate if present. It does not unwrap FU-A
// fragments; a fragmented IDR slice is recognized once its start fragment
// is reassembled by assembler.push instead.
func isKeyFrame(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	naluType := payload[0] & nalTypeMask

	if naluType == nalSTAPA {
		buf := payload[1:]
		for len(buf) >= 2 {
			size := int(binary.BigEndian.Uint16(buf))
			buf = buf[2:]
			if size <= 0 || size > len(buf) {
				return false
			}
			inner := buf[0] & nalTypeMask
			if inner == nalIDRSlice || inner == nalSPS || inner == nalPPS {
				return true
			}
			buf = buf[size:]
		}
		return false
	}

	return naluType == nalIDRSlice || naluType == nalSPS || naluType == nalPPS
}

// assembler reassembles one room's H.264 bitstream from a publisher's RTP
// payloads into Annex-B framing (start code + NAL unit), per RFC 6184's
// STAP-A (aggregation) and FU-A (fragmentation) packetization modes. It is
// not safe for concurrent use — Extractor serializes calls to push per room.
type assembler struct {
	hasKeyFrame bool
	fuBuf       []byte
	fuHeader    byte
	accessUnit  []byte
}

// push appends one RTP payload's NAL content to the in-progress access
// unit. It mirrors the reference h264 depacketizer's discard-until-keyframe
// policy: nothing is buffered before the first SPS/PPS/IDR is observed.
func (a *assembler) push(payload []byte) {
	if len(payload) == 0 {
		return
	}
	naluType := payload[0] & nalTypeMask

	switch naluType {
	case nalSTAPA:
		if isKeyFrame(payload) {
			a.hasKeyFrame = true
		}
		if !a.hasKeyFrame {
			return
		}
		buf := payload[1:]
		for len(buf) >= 2 {
			size := int(binary.BigEndian.Uint16(buf))
			buf = buf[2:]
			if size <= 0 || size > len(buf) {
				return
			}
			a.appendNAL(buf[:size])
			buf = buf[size:]
		}

	case nalFUA:
		if len(payload) < 2 {
			return
		}
		indicator, header := payload[0], payload[1]
		start := header&0x80 != 0
		end := header&0x40 != 0
		reconstructedType := header & nalTypeMask

		if start {
			a.fuHeader = (indicator & 0xE0) | reconstructedType
			a.fuBuf = append(a.fuBuf[:0], payload[2:]...)
			if reconstructedType == nalIDRSlice || reconstructedType == nalSPS || reconstructedType == nalPPS {
				a.hasKeyFrame = true
			}
			return
		}
		if a.fuBuf == nil {
			return // continuation/end arrived without a start fragment
		}
		a.fuBuf = append(a.fuBuf, payload[2:]...)
		if end {
			if a.hasKeyFrame {
				a.appendNAL(append([]byte{a.fuHeader}, a.fuBuf...))
			}
			a.fuBuf = nil
		}

	default:
		if isKeyFrame(payload) {
			a.hasKeyFrame = true
		}
		if !a.hasKeyFrame {
			return
		}
		a.appendNAL(payload)
	}
}

func (a *assembler) appendNAL(nal []byte) {
	a.accessUnit = append(a.accessUnit, annexBStartCode...)
	a.accessUnit = append(a.accessUnit, nal...)
}

// takeAccessUnit returns and clears the buffered Annex-B bytestream, called
// on the RTP marker bit (access unit boundary). A nil/empty return means
// nothing decodable has been assembled yet.
func (a *assembler) takeAccessUnit() []byte {
	if len(a.accessUnit) == 0 {
		return nil
	}
	out := a.accessUnit
	a.accessUnit = nil
	return out
}
