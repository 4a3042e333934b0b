package socket

import "golang.org/x/sys/unix"

// setChecksum tells the kernel to compute the ICMPv6 checksum at its
// offset in the echo header. Lives at the SOL_RAW level on Linux.
func setChecksum(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_RAW, unix.IPV6_CHECKSUM, 2)
}
