package session

import "github.com/nimasrn/smpp-transport/pkg/smpp/pdu"

// sequencer hands out sequence numbers for one connection. It wraps from
// 0x7FFFFFFF back to 1 and skips numbers still awaiting a response.
type sequencer struct {
	last uint32
}

func (q *sequencer) reset() {
	q.last = 0
}

func (q *sequencer) next(busy func(uint32) bool) uint32 {
	for {
		if q.last >= pdu.SequenceMax {
			q.last = pdu.SequenceMin
		} else {
			q.last++
		}
		if busy == nil || !busy(q.last) {
			return q.last
		}
	}
}
