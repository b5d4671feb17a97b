package kcp

import "github.com/eapache/queue"

// SegQueue is the outbound segment ring named in SPEC_FULL §6: a FIFO
// of *Segment backed by eapache/queue.Queue, giving Flush the
// head-to-tail walk and "remove everything retired by this ACK" access
// pattern §4.4 describes, without hand-rolling a circular buffer.
type SegQueue struct {
	q *queue.Queue
}

// NewSegQueue returns an empty queue.
func NewSegQueue() *SegQueue {
	return &SegQueue{q: queue.New()}
}

// PushBack enqueues s at the tail (newly submitted fragment).
func (sq *SegQueue) PushBack(s *Segment) {
	sq.q.Add(s)
}

// Len returns the number of segments currently queued.
func (sq *SegQueue) Len() int {
	return sq.q.Length()
}

// At returns the i'th segment from the head without removing it.
func (sq *SegQueue) At(i int) *Segment {
	return sq.q.Get(i).(*Segment)
}

// PopFront removes and returns the head segment.
func (sq *SegQueue) PopFront() *Segment {
	if sq.q.Length() == 0 {
		return nil
	}
	return sq.q.Remove().(*Segment)
}

// RemoveRetired drops every leading segment satisfying keep==false,
// stopping at the first segment keep reports true for — the
// head-to-tail "retire everything sn < acked-una" walk §4.4's ACK
// handling needs.
func (sq *SegQueue) RemoveRetired(keep func(*Segment) bool) []*Segment {
	var retired []*Segment
	for sq.q.Length() > 0 {
		head := sq.q.Get(0).(*Segment)
		if keep(head) {
			break
		}
		retired = append(retired, sq.q.Remove().(*Segment))
	}
	return retired
}

// Each walks every queued segment head-to-tail, stopping early if fn
// returns false.
func (sq *SegQueue) Each(fn func(*Segment) bool) {
	for i := 0; i < sq.q.Length(); i++ {
		if !fn(sq.q.Get(i).(*Segment)) {
			return
		}
	}
}
