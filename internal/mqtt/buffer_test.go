package mqtt

import (
	"testing"
)

func tick(i int) bufferedMsg {
	return bufferedMsg{kind: kindTick, topic: TopicTicks, payload: []byte{byte(i)}}
}

func note(i int) bufferedMsg {
	return bufferedMsg{kind: kindNotify, topic: TopicNotify, payload: []byte{byte(i)}, qos: 1}
}

func payloads(msgs []bufferedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOutboxEmptyDrain(t *testing.T) {
	ob := newOutbox(10)
	if got := ob.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxKeepsPublishOrder(t *testing.T) {
	ob := newOutbox(10)
	ob.push(tick(0))
	ob.push(note(1))
	ob.push(tick(2))
	ob.push(tick(3))
	ob.push(note(4))

	got := ob.drainAll()
	if string(payloads(got)) != string([]byte{0, 1, 2, 3, 4}) {
		t.Errorf("order: got %v", payloads(got))
	}
	if got[1].topic != TopicNotify || got[1].qos != 1 {
		t.Errorf("notification fields lost: %+v", got[1])
	}
	if ob.drainAll() != nil {
		t.Error("expected nil from second drain")
	}
}

func TestOutboxEvictsOldestTicksFirst(t *testing.T) {
	ob := newOutbox(4)
	ob.push(note(0)) // fault onset while offline
	var drops int
	for i := 1; i <= 6; i++ {
		if ob.push(tick(i)) {
			drops++
		}
	}
	if drops != 1 {
		t.Errorf("expected overflow reported once, got %d", drops)
	}

	got := ob.drainAll()
	want := []byte{0, 4, 5, 6}
	if string(payloads(got)) != string(want) {
		t.Errorf("got %v, want %v", payloads(got), want)
	}
}

func TestOutboxNotificationDisplacesTick(t *testing.T) {
	ob := newOutbox(3)
	ob.push(tick(0))
	ob.push(tick(1))
	ob.push(note(2))
	ob.push(note(3))

	got := payloads(ob.drainAll())
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("got %v, want [1 2 3]", got)
	}
}

func TestOutboxFullOfNotifications(t *testing.T) {
	ob := newOutbox(2)
	ob.push(note(0))
	ob.push(note(1))

	// A tick never displaces a notification.
	if !ob.push(tick(2)) {
		t.Error("expected dropped tick to report overflow")
	}
	if got := payloads(ob.drainAll()); string(got) != string([]byte{0, 1}) {
		t.Errorf("after tick: got %v, want [0 1]", got)
	}

	// A newer notification displaces the oldest one.
	ob.push(note(0))
	ob.push(note(1))
	ob.push(note(2))
	if got := payloads(ob.drainAll()); string(got) != string([]byte{1, 2}) {
		t.Errorf("after note: got %v, want [1 2]", got)
	}
}

func TestOutboxMultipleCycles(t *testing.T) {
	ob := newOutbox(5)
	for i := 0; i < 3; i++ {
		ob.push(tick(i))
	}
	if got := ob.drainAll(); len(got) != 3 {
		t.Fatalf("cycle 1: expected 3 items, got %d", len(got))
	}

	for i := 10; i < 16; i++ {
		ob.push(tick(i))
	}
	got := ob.drainAll()
	if string(payloads(got)) != string([]byte{11, 12, 13, 14, 15}) {
		t.Errorf("cycle 2: got %v", payloads(got))
	}
}

func TestOutboxLen(t *testing.T) {
	ob := newOutbox(10)
	if ob.len() != 0 {
		t.Errorf("expected len 0, got %d", ob.len())
	}
	ob.push(tick(0))
	ob.push(note(1))
	if ob.len() != 2 {
		t.Errorf("expected len 2, got %d", ob.len())
	}
	ob.drainAll()
	if ob.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", ob.len())
	}
}

func TestOutboxOverflowReportedAgainAfterDrain(t *testing.T) {
	ob := newOutbox(1)
	ob.push(tick(0))
	if !ob.push(tick(1)) {
		t.Error("expected first overflow to be reported")
	}
	if ob.push(tick(2)) {
		t.Error("expected repeated overflow to be quiet")
	}
	ob.drainAll()
	ob.push(tick(3))
	if !ob.push(tick(4)) {
		t.Error("expected overflow after drain to be reported")
	}
}

func TestOutboxMinimumCapacity(t *testing.T) {
	ob := newOutbox(0)
	ob.push(tick(0))
	ob.push(tick(1))
	got := ob.drainAll()
	if len(got) != 1 || got[0].payload[0] != 1 {
		t.Errorf("expected only the newest tick, got %+v", got)
	}
}
