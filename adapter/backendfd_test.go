//go:build linux

package adapter

import (
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ringforge/uringrt/ring"
)

func skipIfNoIOURing(t *testing.T) *ring.Ring {
	t.Helper()
	r, err := ring.Create(32, ring.CreateOptions{})
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	return r
}

// TestBackendFDAdapterDrivesEpollBackedWebSocketEcho exercises
// BackendFDAdapter against a real gorilla/websocket echo server
// (grounded on
// _examples/momentics-hioload-ws/tests/integration_echo_test.go's
// httptest+Dialer shape): instead of letting BackendFDAdapter idle,
// the foreign "backend fd" it multishot-polls is an epoll instance
// watching the client-side TCP connection's own fd, and every wake
// runs one non-blocking epoll_wait + ReadMessage pass — the same
// "borrow the kernel's single event pump" shape §4.5 E2 describes.
func TestBackendFDAdapterDrivesEpollBackedWebSocketEcho(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "/echo"
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	tcpConn, ok := conn.UnderlyingConn().(*net.TCPConn)
	require.True(t, ok, "gorilla conn must be backed by a *net.TCPConn for epoll registration")

	sc, err := tcpConn.SyscallConn()
	require.NoError(t, err)

	var clientFd int
	err = sc.Control(func(fd uintptr) { clientFd = int(fd) })
	require.NoError(t, err)

	epfd, err := unix.EpollCreate1(0)
	require.NoError(t, err)
	defer unix.Close(epfd)

	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, clientFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(clientFd),
	})
	require.NoError(t, err)

	received := make(chan string, 1)
	iter := func() {
		events := make([]unix.EpollEvent, 4)
		n, err := unix.EpollWait(epfd, events, 0)
		if err != nil || n == 0 {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case received <- string(msg):
		default:
		}
	}

	a := NewBackendFDAdapter(r, epfd, 20, iter)
	defer a.Close()

	const payload = "uringrt adapter echo"
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := r.Wait(20); err != nil && err != syscall.EINTR {
			t.Fatalf("Wait: %v", err)
		}
		select {
		case got := <-received:
			require.Equal(t, payload, got)
			return
		default:
		}
	}
	t.Fatal("timed out waiting for BackendFDAdapter-driven echo reply")
}
