// ICMP protocol variants for the shared probe sockets.
//
// The prober multiplexes all probes of one address family over a single
// socket, so everything that differs between IPv4/IPv6 and RAW/DGRAM
// sockets is kept in one table here: wire types, protocol numbers and
// header handling. The rest of the code is family-agnostic.
package proto

import (
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	if f == IPv4 {
		return "ipv4"
	}
	return "ipv6"
}

type SocketType int

const (
	SocketRaw SocketType = iota
	SocketDgram
)

func (t SocketType) String() string {
	if t == SocketRaw {
		return "raw"
	}
	return "dgram"
}

const (
	// IANA protocol numbers, used for parsing
	ProtocolICMP     = 1
	ProtocolIPv6ICMP = 58

	// ICMP echo header: type(1) + code(1) + checksum(2) + id(2) + seq(2)
	HeaderSize = 8

	// Payload limits. The first TimestampSize octets of every payload
	// carry the send timestamp, so a payload can never be shorter.
	TimestampSize = 8
	SignatureSize = 8
	MinPayload    = TimestampSize + SignatureSize
	MaxPayload    = 65507

	// Padding fill after timestamp and signature
	Padding byte = 0x30
)

type Proto struct {
	Family Family
	Type   SocketType

	// Protocol number for icmp.ParseMessage
	Number int

	RequestType icmp.Type
	ReplyType   icmp.Type
}

var protocols = []Proto{
	{IPv4, SocketRaw, ProtocolICMP, ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply},
	{IPv4, SocketDgram, ProtocolICMP, ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply},
	{IPv6, SocketRaw, ProtocolIPv6ICMP, ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply},
	{IPv6, SocketDgram, ProtocolIPv6ICMP, ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply},
}

// Lookup returns the protocol configuration for family and socket type.
func Lookup(f Family, t SocketType) *Proto {
	for i := range protocols {
		if protocols[i].Family == f && protocols[i].Type == t {
			return &protocols[i]
		}
	}
	return nil
}
