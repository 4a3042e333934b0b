package ping

import (
	"net/netip"
	"strings"
	"time"

	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
)

// SelectionPolicy picks the socket flavor for probe sockets.
type SelectionPolicy int

const (
	// PolicyAuto tries the unprivileged DGRAM socket first and falls
	// back to RAW.
	PolicyAuto SelectionPolicy = iota
	// PolicyRaw requires CAP_NET_RAW or root.
	PolicyRaw
	// PolicyDgram requires the caller's GID in net.ipv4.ping_group_range.
	PolicyDgram
)

func (p SelectionPolicy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyRaw:
		return "raw"
	case PolicyDgram:
		return "dgram"
	default:
		return "invalid"
	}
}

func ParsePolicy(s string) (SelectionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return PolicyAuto, nil
	case "raw":
		return PolicyRaw, nil
	case "dgram":
		return PolicyDgram, nil
	default:
		return PolicyAuto, ErrInvalidPolicy
	}
}

const (
	// Default ICMP payload size. With the 8-octet echo header this is
	// the classic 64-byte ping packet.
	DefaultSize = 56

	DefaultTimeout  = time.Second
	DefaultInterval = time.Second
)

// Config is the immutable settings bundle of a session. The zero value
// is usable: defaults applied by New.
type Config struct {
	// ICMP payload size in octets, proto.MinPayload..proto.MaxPayload.
	// The first 8 octets always carry the send timestamp.
	Size int
	// Outgoing TTL (IPv4) or hop limit (IPv6). 0 keeps the OS default.
	TTL int
	// DS field, ECN bits included, passed through as given.
	// 0 keeps the OS default.
	ToS int
	// Per-probe timeout.
	Timeout time.Duration
	// IterRTT cadence. 0 sends back to back.
	Interval time.Duration
	// Optional source address to bind. Must match the probed family.
	SrcAddr netip.Addr
	Policy  SelectionPolicy
	// Socket buffer sizes. 0 keeps the OS defaults.
	SendBufferSize int
	RecvBufferSize int
	// Use the coarse kernel clock for timestamps. Cheaper at high
	// probe rates, millisecond-ish resolution.
	Coarse bool
}

func (c Config) withDefaults() Config {
	if c.Size == 0 {
		c.Size = DefaultSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Size < proto.MinPayload || c.Size > proto.MaxPayload {
		return ErrInvalidSize
	}
	if c.TTL < 0 || c.TTL > 255 {
		return ErrInvalidTTL
	}
	if c.ToS < 0 || c.ToS > 255 {
		return ErrInvalidToS
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Interval < 0 {
		return ErrInvalidInterval
	}
	switch c.Policy {
	case PolicyAuto, PolicyRaw, PolicyDgram:
	default:
		return ErrInvalidPolicy
	}
	return nil
}
