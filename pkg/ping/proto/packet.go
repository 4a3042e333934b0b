package proto

import (
	"encoding/binary"

	"golang.org/x/net/icmp"
)

// Echo is a decoded ICMP echo request or reply, without IP framing.
type Echo struct {
	ID      uint16
	Seq     uint16
	Payload []byte
}

// Encode builds the wire representation of an echo request.
// For IPv4 the RFC 1071 checksum is filled in. For ICMPv6 the checksum
// field is left zero: the kernel computes the pseudo-header checksum
// itself (IPV6_CHECKSUM offset 2 on raw sockets, always on DGRAM).
func (p *Proto) Encode(e *Echo) ([]byte, error) {
	msg := icmp.Message{
		Type: p.RequestType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(e.ID),
			Seq:  int(e.Seq),
			Data: e.Payload,
		},
	}
	return msg.Marshal(nil)
}

// Decode parses an inbound datagram into an echo reply.
// Returns nil for anything that is not a well-formed echo reply of this
// protocol: wrong type or code, short buffer, bad IPv4 checksum. The
// receive loop treats nil as "not ours, drop".
func (p *Proto) Decode(buf []byte) *Echo {
	if p.Family == IPv4 {
		// Raw IPv4 sockets deliver the IP header, DGRAM sockets do not.
		// Detect instead of assuming: a reply always starts with type 0.
		buf = skipIPv4Header(buf)
	}
	if len(buf) < HeaderSize+MinPayload {
		return nil
	}
	if p.Family == IPv4 && !ValidChecksum(buf) {
		return nil
	}
	m, err := icmp.ParseMessage(p.Number, buf)
	if err != nil {
		return nil
	}
	if m.Type != p.ReplyType || m.Code != 0 {
		return nil
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok {
		return nil
	}
	return &Echo{
		ID:      uint16(echo.ID),
		Seq:     uint16(echo.Seq),
		Payload: echo.Data,
	}
}

// skipIPv4Header drops a leading IPv4 header when one is present.
// Header length is taken from the IHL nibble. ICMP messages never start
// with a 0x4x octet, so the version check cannot misfire on a bare reply.
func skipIPv4Header(b []byte) []byte {
	if len(b) == 0 || b[0]>>4 != 4 {
		return b
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < 20 || len(b) < ihl {
		return nil
	}
	return b[ihl:]
}

// NewPattern builds the per-session payload pattern: the signature
// followed by padding up to size. The pattern fills everything after the
// timestamp, so its length is size-TimestampSize.
func NewPattern(size int, signature uint64) []byte {
	pattern := make([]byte, size-TimestampSize)
	binary.BigEndian.PutUint64(pattern, signature)
	for i := SignatureSize; i < len(pattern); i++ {
		pattern[i] = Padding
	}
	return pattern
}

// EncodePayload assembles a probe payload: send timestamp in nanoseconds,
// then the session pattern.
func EncodePayload(ts uint64, pattern []byte) []byte {
	payload := make([]byte, TimestampSize+len(pattern))
	binary.BigEndian.PutUint64(payload, ts)
	copy(payload[TimestampSize:], pattern)
	return payload
}

// PayloadTimestamp extracts the send timestamp of an echoed payload.
func PayloadTimestamp(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// MatchPattern reports whether an echoed payload carries the session
// pattern bit-exactly. Length must match too: a truncated or padded echo
// is not ours.
func MatchPattern(b, pattern []byte) bool {
	if len(b) != TimestampSize+len(pattern) {
		return false
	}
	for i, c := range pattern {
		if b[TimestampSize+i] != c {
			return false
		}
	}
	return true
}
