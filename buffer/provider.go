package buffer

import (
	"errors"
	"unsafe"

	"github.com/ringforge/uringrt/internal/sys"
)

// ringFd is the minimal surface Provider needs from a ring.Ring,
// avoided as a direct import to keep buffer free of a dependency on
// ring (ring already depends on nothing in buffer; sockets wire the two
// together).
type ringFd interface {
	Fd() int
}

// Provider is a kernel-registered buffer ring (IORING_REGISTER_PBUF_RING,
// §4.2): a fixed-size ring of buffer entries the kernel consumes
// directly for IOSQE_BUFFER_SELECT multishot recv, avoiding a
// userspace recv-then-copy-into-pool round trip.
type Provider struct {
	fd      int
	groupID uint16
	count   uint16
	mask    uint16
	length  int

	ring    []byte // raw mmap'd BufRing header + Buf entries
	tailPtr *uint16
	bufs    []*Buffer // index == Buf.Bid
}

var ErrProviderSize = errors.New("buffer: provider count must be a power of two")

// CreateProvider registers a buffer-ring group of count buffers
// (length bytes each), sourced from factory (normally
// pool.Allocate), and arms them all for the kernel immediately.
func CreateProvider(r ringFd, groupID uint16, count int, length int, factory func() *Buffer) (*Provider, error) {
	if count <= 0 || count&(count-1) != 0 {
		return nil, ErrProviderSize
	}

	ringBytes := int(unsafe.Sizeof(sys.BufRing{})) + count*int(unsafe.Sizeof(sys.Buf{}))
	mem, err := sys.MmapAnon(ringBytes)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		fd:      r.Fd(),
		groupID: groupID,
		count:   uint16(count),
		mask:    uint16(count - 1),
		length:  length,
		ring:    mem,
		bufs:    make([]*Buffer, count),
	}

	hdr := (*sys.BufRing)(unsafe.Pointer(&mem[0]))
	p.tailPtr = &hdr.Tail

	setup := sys.BufRingSetup{
		BGid:     groupID,
		Nentries: uint16(count),
		RingAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}
	if err := sys.RegisterPBufRing(p.fd, &setup); err != nil {
		sys.Munmap(mem)
		return nil, err
	}

	for i := 0; i < count; i++ {
		b := factory()
		b.Registered = true
		b.Index = uint16(i)
		p.bufs[i] = b
		p.publish(uint16(i), b)
	}
	*p.tailPtr += uint16(count)

	return p, nil
}

func (p *Provider) entry(i uint16) *sys.Buf {
	base := unsafe.Sizeof(sys.BufRing{})
	off := base + uintptr(i)*unsafe.Sizeof(sys.Buf{})
	return (*sys.Buf)(unsafe.Pointer(&p.ring[off]))
}

func (p *Provider) publish(slot uint16, b *Buffer) {
	e := p.entry(slot & p.mask)
	e.Addr = uint64(uintptr(unsafe.Pointer(&b.raw[0])))
	e.Len = uint32(p.length)
	e.Bid = b.Index
}

// GroupID returns the buffer-ring group id sockets arm BUFFER_SELECT
// recvs against.
func (p *Provider) GroupID() uint16 { return p.groupID }

// Buffer returns the pool-owned Buffer the kernel selected for
// completion index bid.
func (p *Provider) Buffer(bid uint16) *Buffer {
	return p.bufs[bid&p.mask]
}

// Advance returns buffer bid to the kernel ring for reuse, after its
// consumer (the socket inbound path) releases it — §4.2's "returning a
// consumed provided buffer back to the ring."
func (p *Provider) Advance(bid uint16) {
	p.publish(*p.tailPtr, p.bufs[bid&p.mask])
	*p.tailPtr++
}

// Close unregisters the buffer-ring group and unmaps its memory. The
// underlying Buffers are NOT released; callers own their lifetime via
// Pool as usual.
func (p *Provider) Close() error {
	if err := sys.UnregisterPBufRing(p.fd, p.groupID); err != nil {
		return err
	}
	return sys.Munmap(p.ring)
}
