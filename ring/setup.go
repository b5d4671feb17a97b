package ring

import (
	"syscall"
	"unsafe"

	"github.com/ringforge/uringrt/internal/sys"
)

// This file is the public configuration surface callers (socket, kcp,
// adapter) use to turn a freshly Allocate()'d descriptor into a
// specific operation before Submit/SubmitRange. Each Set* stamps the
// Kind-specific aux fields prepOne's switch reads at submission time.

// SetPoll arms d as a one-shot or multishot POLL_ADD on fd for mask.
func SetPoll(d *Descriptor, fd int, mask uint32, multishot bool) {
	d.kind = KindPoll
	d.opcode = sys.IORING_OP_POLL_ADD
	d.fd = int32(fd)
	d.poll = pollAux{fd: fd, mask: mask, multi: multishot}
}

// SetTimeout arms d as a one-shot or multishot relative TIMEOUT.
func SetTimeout(d *Descriptor, ts sys.Timespec, flags uint32, multishot bool) {
	d.kind = KindTimeout
	d.opcode = sys.IORING_OP_TIMEOUT
	d.timeout = timeoutAux{ts: ts, flags: flags, multi: multishot}
}

// SetRecv arms d as a one-shot recv into buf.
func SetRecv(d *Descriptor, fd int, buf []byte, flags uint32) {
	d.kind = KindRecv
	d.opcode = sys.IORING_OP_RECV
	d.fd = int32(fd)
	if len(buf) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	d.length = uint32(len(buf))
	d.opFlags = flags
}

// SetRecvMultishot arms d as a BUFFER_SELECT multishot recv against
// bufGroup; the kernel picks the buffer per completion.
func SetRecvMultishot(d *Descriptor, fd int, bufGroup uint16) {
	d.kind = KindRecv
	d.opcode = sys.IORING_OP_RECV
	d.fd = int32(fd)
	d.bufIdx = bufGroup
	d.flags |= sys.IOSQE_BUFFER_SELECT
}

// SetRecvMsgMultishot arms d as a BUFFER_SELECT multishot recvmsg,
// for datagram sockets that need the peer address per-message.
func SetRecvMsgMultishot(d *Descriptor, fd int, bufGroup uint16) {
	d.kind = KindRecvMsg
	d.opcode = sys.IORING_OP_RECVMSG
	d.fd = int32(fd)
	d.bufIdx = bufGroup
	d.flags |= sys.IOSQE_BUFFER_SELECT
	d.msg.iov = syscall.Iovec{}
	d.msg.msg.Name = (*byte)(unsafe.Pointer(&d.msg.addr[0]))
	d.msg.msg.Namelen = uint32(len(d.msg.addr))
	d.msg.msg.Iov = &d.msg.iov
	d.msg.msg.Iovlen = 1
}

// SetSend arms d as a one-shot send of buf.
func SetSend(d *Descriptor, fd int, buf []byte, flags uint32) {
	d.kind = KindSend
	d.opcode = sys.IORING_OP_SEND
	d.fd = int32(fd)
	if len(buf) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	d.length = uint32(len(buf))
	d.opFlags = flags
}

// SetSendZC arms d as a zero-copy send, optionally to addr (datagram
// sockets using set_addr semantics).
func SetSendZC(d *Descriptor, fd int, buf []byte, addr []byte, flags uint32) {
	d.kind = KindSendZC
	d.opcode = sys.IORING_OP_SEND_ZC
	d.fd = int32(fd)
	if len(buf) > 0 {
		d.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	d.length = uint32(len(buf))
	d.opFlags = flags
	if len(addr) > 0 {
		n := copy(d.msg.addr[:], addr)
		d.msg.addrLen = uint32(n)
	}
}

// SetConnect arms d as a one-shot connect to addr.
func SetConnect(d *Descriptor, fd int, addr []byte) {
	d.kind = KindConnect
	d.opcode = sys.IORING_OP_CONNECT
	d.fd = int32(fd)
	n := copy(d.msg.addr[:], addr)
	d.msg.addrLen = uint32(n)
}

// SetClose arms d as a one-shot close of fd.
func SetClose(d *Descriptor, fd int) {
	d.kind = KindClose
	d.opcode = sys.IORING_OP_CLOSE
	d.fd = int32(fd)
}

// SetLink marks d as the non-final member of an IOSQE_IO_LINK chain.
func SetLink(d *Descriptor) {
	d.flags |= sys.IOSQE_IO_LINK
}

// Chain links descs into a single IOSQE_IO_LINK submission chain, in
// order: every member but the last is flagged IOSQE_IO_LINK and wired
// to the next via its intrusive next pointer. The result is ready for
// SubmitRange, which relies on this internal linkage to walk the chain
// without the caller's package reaching into Descriptor internals.
// Chaining zero descriptors returns nil, nil; chaining one is a no-op
// single-descriptor "chain" with no link flag set.
func Chain(descs []*Descriptor) (first, last *Descriptor) {
	if len(descs) == 0 {
		return nil, nil
	}
	for i := 0; i < len(descs)-1; i++ {
		SetLink(descs[i])
		descs[i].next.Store(descs[i+1])
	}
	descs[len(descs)-1].next.Store(nil)
	return descs[0], descs[len(descs)-1]
}

// SetSkipSuccess marks d so a successful completion is suppressed
// (IOSQE_CQE_SKIP_SUCCESS).
func SetSkipSuccess(d *Descriptor) {
	d.flags |= sys.IOSQE_CQE_SKIP_SUCCESS
}

// SetFixedFile marks d to resolve its fd against the ring's
// registered-file table (RegisterFile) rather than the process's fd
// table, rewriting it to the registered slot. Must be called after the
// op-specific SetX (SetPoll, SetRecv, ...) since those stamp their own
// fd copy; Poll's prepOne path reads poll.fd rather than the shared fd
// field, so both are kept in sync here.
func SetFixedFile(d *Descriptor, slot int) {
	d.flags |= sys.IOSQE_FIXED_FILE
	d.fd = int32(slot)
	if d.kind == KindPoll {
		d.poll.fd = slot
	}
}
