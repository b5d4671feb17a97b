//go:build linux

package socket

import (
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ringforge/uringrt/buffer"
	"github.com/ringforge/uringrt/ring"
)

func skipIfNoIOURing(t *testing.T) *ring.Ring {
	t.Helper()
	r, err := ring.Create(64, ring.CreateOptions{})
	if err != nil {
		if err == syscall.ENOSYS {
			t.Skip("io_uring not supported on this kernel")
		}
		if err == syscall.EPERM {
			t.Skip("io_uring blocked by seccomp or permissions")
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
	return r
}

func tcpLoopbackPair(t *testing.T) (serverFd int, client net.Conn, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	c, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client = c

	var server net.Conn
	select {
	case server = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}
	ln.Close()

	sc, err := server.(*net.TCPConn).SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn: %v", err)
	}
	var fd int
	if err := sc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		t.Fatalf("Control: %v", err)
	}

	return fd, client, func() {
		server.Close()
		client.Close()
	}
}

func TestSocketMultishotRecvDeliversInboundBytes(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	serverFd, client, cleanup := tcpLoopbackPair(t)
	defer cleanup()

	inPool := buffer.NewPool(2048)
	defer inPool.Close()
	inProvider, err := buffer.CreateProvider(r, 1, 4, 2048, inPool.Allocate)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	defer inProvider.Close()
	outPool := buffer.NewPool(2048)
	defer outPool.Close()

	var mu sync.Mutex
	var received []byte

	s := New(r, serverFd, inProvider, outPool, Options{}, func(s *Socket, ev Event) {
		if ev.Cond&CondIn == 0 {
			return
		}
		bufs, _ := s.Drain()
		mu.Lock()
		for _, b := range bufs {
			received = append(received, b.Bytes()...)
		}
		mu.Unlock()
		for _, b := range bufs {
			inProvider.Advance(b.Index)
			b.Release()
		}
	})
	s.state.Store(int32(StateActive))
	s.ArmRecv()

	payload := []byte("hello from client")
	go func() {
		client.Write(payload)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := r.Wait(50); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		mu.Lock()
		got := len(received)
		mu.Unlock()
		if got >= len(payload) {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(payload) {
		t.Errorf("received %q, want %q", received, payload)
	}
}

func TestSocketTransmitDeliversOutboundBytes(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	serverFd, client, cleanup := tcpLoopbackPair(t)
	defer cleanup()

	inPool := buffer.NewPool(2048)
	defer inPool.Close()
	inProvider, err := buffer.CreateProvider(r, 2, 4, 2048, inPool.Allocate)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	defer inProvider.Close()
	outPool := buffer.NewPool(2048)
	defer outPool.Close()

	s := New(r, serverFd, inProvider, outPool, Options{}, nil)
	s.state.Store(int32(StateActive))

	payload := []byte("server says hi")
	s.Transmit(payload, nil)

	if err := r.Wait(200); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	buf := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("client read %q, want %q", buf[:n], payload)
	}
}
