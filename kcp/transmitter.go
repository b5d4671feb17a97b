package kcp

import "net"

// Transmitter is the abstract egress side a Conversation drives: it
// knows how to get a wire buffer of a requested size, hand it to the
// network, and release it once done. cmd/uringrt-kcpecho backs this
// with a net.UDPConn; tests back it with an in-memory fake.
type Transmitter interface {
	Allocate(size int) []byte
	Transmit(addr net.Addr, buf []byte) error
	Release(buf []byte)
}
