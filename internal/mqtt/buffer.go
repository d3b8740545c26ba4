package mqtt

// msgKind orders messages for eviction when the outbox is full.
type msgKind int

const (
	kindTick   msgKind = iota // per-tick telemetry; a gap is tolerable
	kindNotify                // operator notification; kept over ticks
)

// bufferedMsg is a serialized tick or notification waiting for the broker.
// System events are never buffered: a stale STARTUP or SHUTDOWN replayed
// after reconnection would misreport the controller's state.
type bufferedMsg struct {
	kind     msgKind
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, in
// publish order. When full it evicts the oldest tick; notifications are only
// evicted by newer notifications, so a fault alert survives a long outage
// of tick traffic. Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	ticks    int  // ticks currently held
	overflow bool // a message was dropped since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{msgs: make([]bufferedMsg, 0, capacity), capacity: capacity}
}

// push adds msg, evicting per the outbox policy when full. It reports true the
// first time a message is dropped since the last drain.
func (o *outbox) push(msg bufferedMsg) bool {
	if len(o.msgs) < o.capacity {
		o.add(msg)
		return false
	}

	first := !o.overflow
	o.overflow = true
	switch {
	case o.ticks > 0:
		o.remove(o.oldest(kindTick))
	case msg.kind == kindTick:
		// Full of notifications: the incoming tick is the one to lose.
		return first
	default:
		o.remove(0)
	}
	o.add(msg)
	return first
}

func (o *outbox) add(msg bufferedMsg) {
	o.msgs = append(o.msgs, msg)
	if msg.kind == kindTick {
		o.ticks++
	}
}

func (o *outbox) oldest(kind msgKind) int {
	for i, m := range o.msgs {
		if m.kind == kind {
			return i
		}
	}
	return -1
}

func (o *outbox) remove(i int) {
	if o.msgs[i].kind == kindTick {
		o.ticks--
	}
	o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
}

// drainAll returns every held message, oldest first, and empties the outbox.
func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := make([]bufferedMsg, len(o.msgs))
	copy(out, o.msgs)
	o.msgs = o.msgs[:0]
	o.ticks = 0
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
