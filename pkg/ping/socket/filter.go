package socket

import (
	"golang.org/x/net/bpf"

	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
)

// Conditional jumps carry 8-bit offsets, which bounds how many
// identifiers one program can test. Beyond that the filter degrades to
// type matching only: more wakeups, still correct.
const maxFilterIDs = 254

const acceptPacket = 0xffffffff

// Raw IPv4 sockets run the filter over the full IP packet. The offsets
// assume a 20-octet header; options are rare on echo replies and a
// false positive only costs a wakeup.
const (
	icmpTypeOffset4 = 20
	icmpIDOffset4   = 24
	icmpTypeOffset6 = 0
	icmpIDOffset6   = 4
)

// ReplyFilter builds a classic BPF program passing only echo replies
// addressed to one of the given identifiers.
func ReplyFilter(p *proto.Proto, ids []uint16) []bpf.Instruction {
	typeOff, idOff := uint32(icmpTypeOffset4), uint32(icmpIDOffset4)
	var replyType uint32 // ICMPv4 echo reply
	if p.Family == proto.IPv6 {
		typeOff, idOff = icmpTypeOffset6, icmpIDOffset6
		replyType = 129
	}

	if len(ids) == 0 || len(ids) > maxFilterIDs {
		return []bpf.Instruction{
			bpf.LoadAbsolute{Off: typeOff, Size: 1},
			bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: replyType, SkipTrue: 1},
			bpf.RetConstant{Val: acceptPacket},
			bpf.RetConstant{Val: 0},
		}
	}

	n := len(ids)
	ins := make([]bpf.Instruction, 0, n+5)
	ins = append(ins,
		bpf.LoadAbsolute{Off: typeOff, Size: 1},
		// Wrong type: jump over the id tests onto the drop
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: replyType, SkipTrue: uint8(n + 1)},
		bpf.LoadAbsolute{Off: idOff, Size: 2},
	)
	for i, id := range ids {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(id), SkipTrue: uint8(n - i)})
	}
	ins = append(ins,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: acceptPacket},
	)
	return ins
}
