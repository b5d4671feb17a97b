package kcp

import (
	"net"
	"sync"
)

// Key identifies one conversation: application id (caller-assigned
// namespace, e.g. a listening port or tenant), conversation id, and
// peer address (spec.md §4.4 ingress: "application id, conversation
// id, address").
type Key struct {
	AppID uint32
	Conv  uint32
	Addr  string
}

// Service owns every live Conversation multiplexed over one local
// endpoint, dispatching inbound packets to the right one (creating it
// on first sight) and driving every conversation's Flush on a
// service-wide pass.
type Service struct {
	mu            sync.Mutex
	format        Format
	newTransmitter func(addr net.Addr) Transmitter
	onEvent       func(Key, Event)

	conversations map[Key]*Conversation
}

// NewService creates a service using format for wire framing;
// newTransmitter builds the Transmitter a freshly created Conversation
// for addr should use (e.g. one bound to a shared outbound socket),
// and onEvent receives every conversation's lifecycle/receive events
// tagged with its Key.
func NewService(format Format, newTransmitter func(addr net.Addr) Transmitter, onEvent func(Key, Event)) *Service {
	return &Service{
		format:         format,
		newTransmitter: newTransmitter,
		onEvent:        onEvent,
		conversations:  make(map[Key]*Conversation),
	}
}

// HandlePacket validates packet, then for each embedded segment
// extracts a Key, looks up or creates the Conversation, and dispatches
// by command (§4.4 ingress).
func (svc *Service) HandlePacket(now uint32, appID uint32, addr net.Addr, packet []byte) error {
	if err := svc.format.Verify(packet); err != nil {
		return err
	}

	offset := 0
	for offset < len(packet) {
		h, payload, next, err := svc.format.Parse(packet, offset)
		if err != nil {
			return err
		}
		offset = next

		key := Key{AppID: appID, Conv: h.Conv, Addr: addr.String()}
		conv := svc.lookupOrCreate(key, addr, now)

		switch h.Cmd {
		case CmdPush:
			conv.HandlePush(now, h, payload)
		case CmdAck:
			conv.HandleAck(now, h)
		case CmdWask:
			conv.HandleWask(now)
		case CmdWins:
			conv.HandleWins(now, h)
		}
	}
	return nil
}

func (svc *Service) lookupOrCreate(key Key, addr net.Addr, now uint32) *Conversation {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if c, ok := svc.conversations[key]; ok {
		return c
	}

	transmitter := svc.newTransmitter(addr)
	conv := NewConversation(key.Conv, addr, transmitter, svc.format, func(ev Event) {
		if svc.onEvent != nil {
			svc.onEvent(key, ev)
		}
	}, now)
	svc.conversations[key] = conv
	return conv
}

// Flush drives every live conversation's egress pass, then purges any
// marked Dead during this or a prior pass (§4.4 lifecycle cleanup).
func (svc *Service) Flush(now uint32) {
	svc.mu.Lock()
	conns := make([]*Conversation, 0, len(svc.conversations))
	keys := make([]Key, 0, len(svc.conversations))
	for k, c := range svc.conversations {
		conns = append(conns, c)
		keys = append(keys, k)
	}
	svc.mu.Unlock()

	for i, c := range conns {
		c.Flush(now)
		if c.IsDead() {
			svc.remove(keys[i], c)
		}
	}
}

func (svc *Service) remove(key Key, c *Conversation) {
	svc.mu.Lock()
	delete(svc.conversations, key)
	svc.mu.Unlock()
	if svc.onEvent != nil {
		svc.onEvent(key, Event{Kind: EventRemove, Cause: c.cause})
	}
}

// Lookup returns the conversation for key, if live.
func (svc *Service) Lookup(key Key) (*Conversation, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	c, ok := svc.conversations[key]
	return c, ok
}

// Evict forcibly removes a conversation without waiting for Flush's
// cleanup pass, e.g. on an explicit reset from the application layer.
// Per §4.4, eviction suppresses the REMOVE event.
func (svc *Service) Evict(key Key) {
	svc.mu.Lock()
	_, ok := svc.conversations[key]
	if ok {
		delete(svc.conversations, key)
	}
	svc.mu.Unlock()
}
