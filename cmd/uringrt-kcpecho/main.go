// Command uringrt-kcpecho is the E2 scenario driver (spec.md §8): two
// in-process KCP conversations wired back-to-back over a loopback UDP
// pair, submitting an oversized payload on one side and confirming
// the other reassembles its fragments into exactly one RECEIVE event.
// The fragments travel in the order they are flushed; no reordering
// is applied on the way.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ringforge/uringrt/config"
	"github.com/ringforge/uringrt/kcp"
)

// udpTransmitter sends KCP wire frames over a real UDP socket, used by
// both ends of the demo so the scenario exercises the real network
// stack rather than an in-memory stub.
type udpTransmitter struct {
	conn *net.UDPConn
}

func (t *udpTransmitter) Allocate(size int) []byte { return make([]byte, size) }
func (t *udpTransmitter) Transmit(addr net.Addr, buf []byte) error {
	_, err := t.conn.WriteTo(buf, addr)
	return err
}
func (t *udpTransmitter) Release([]byte) {}

func main() {
	payloadSize := flag.Int("size", 3000, "payload size in bytes to submit")
	mss := flag.Int("mss", 1024, "KCP MSS")
	configPath := flag.String("config", "", "optional YAML tuning file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "uringrt-kcpecho: config:", err)
		os.Exit(1)
	}

	aConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		fmt.Fprintln(os.Stderr, "uringrt-kcpecho: listen A:", err)
		os.Exit(1)
	}
	defer aConn.Close()
	bConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		fmt.Fprintln(os.Stderr, "uringrt-kcpecho: listen B:", err)
		os.Exit(1)
	}
	defer bConn.Close()

	aAddr := aConn.LocalAddr().(*net.UDPAddr)
	bAddr := bConn.LocalAddr().(*net.UDPAddr)

	received := make(chan []byte, 1)

	format := kcp.StandardFormat{}
	svcB := kcp.NewService(format, func(addr net.Addr) kcp.Transmitter {
		return &udpTransmitter{conn: bConn}
	}, func(key kcp.Key, ev kcp.Event) {
		if ev.Kind == kcp.EventReceive {
			select {
			case received <- ev.Payload:
			default:
			}
		}
	})

	txA := &udpTransmitter{conn: aConn}
	convA := kcp.NewConversation(1, bAddr, txA, format, nil, 0)
	convA.ApplyTuning(kcp.Tuning{
		MSS:          *mss,
		IntervalMs:   cfg.KCP.IntervalMs,
		RxMinRTOMs:   cfg.KCP.RxMinRTOMs,
		RxRTOMaxMs:   cfg.KCP.RxRTOMaxMs,
		FastResend:   cfg.KCP.FastResend,
		TriesLimit:   cfg.KCP.TriesLimit,
		RcvWnd:       cfg.KCP.RcvWnd,
		AckThreshold: cfg.KCP.AckThreshold,
		ProbeInitMs:  cfg.KCP.ProbeInitMs,
		ProbeMaxMs:   cfg.KCP.ProbeMaxMs,
		TimeoutMs:    cfg.KCP.TimeoutMs,
	})

	payload := make([]byte, *payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	convA.Submit(payload)
	convA.Flush(0)

	go pumpInbound(aConn, nil, txA)
	go pumpInbound(bConn, svcB, nil)

	select {
	case got := <-received:
		if len(got) != *payloadSize {
			fmt.Fprintf(os.Stderr, "uringrt-kcpecho: reassembled %d bytes, want %d\n", len(got), *payloadSize)
			os.Exit(1)
		}
		fmt.Printf("uringrt-kcpecho: reassembled %d bytes in one RECEIVE event\n", len(got))
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "uringrt-kcpecho: timed out waiting for reassembly")
		os.Exit(1)
	}
}

// pumpInbound feeds every datagram on conn into svc's HandlePacket, if
// svc is non-nil (the B side owns the Service; the A side only needs
// its inbound pump to ack-drain, so svc is nil there and packets are
// discarded after the single Submit this demo issues).
func pumpInbound(conn *net.UDPConn, svc *kcp.Service, _ *udpTransmitter) {
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if svc == nil {
			continue
		}
		svc.HandlePacket(uint32(time.Now().UnixMilli()), 0, from, buf[:n])
	}
}
