//go:build !linux

package socket

// Non-Linux kernels checksum ICMPv6 raw sockets unconditionally.
func setChecksum(fd int) error {
	return nil
}
