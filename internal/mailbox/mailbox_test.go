package mailbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
)

func newRoutedMailbox(t *testing.T, opts ...Option) *Mailbox {
	t.Helper()
	mb := New(opts...)
	routes := map[string]Kind{
		"/master/status":   MasterStatus,
		"/agents/index":    Index,
		"/agents/3/start":  Start,
		"/agents/3/action": Action,
	}
	for topic, kind := range routes {
		if err := mb.Route(topic, kind); err != nil {
			t.Fatalf("Route(%q) error = %v", topic, err)
		}
	}
	return mb
}

func TestMailbox_DeliverAndTake(t *testing.T) {
	mb := newRoutedMailbox(t)

	payload := []byte("2")
	if err := mb.Deliver("/agents/3/action", payload, true); err != nil {
		t.Fatalf("Deliver() error for a routed topic: %v", err)
	}
	payload[0] = '9'

	msg, ok := mb.Take(Action)
	if !ok {
		t.Fatal("Take(Action) found nothing")
	}
	if string(msg.Payload) != "2" {
		t.Errorf("Payload = %q, want a copy of the delivered bytes", msg.Payload)
	}
	if msg.Kind != Action || msg.Topic != "/agents/3/action" || !msg.Duplicate {
		t.Errorf("message = %+v", msg)
	}
	if msg.Received.IsZero() {
		t.Error("Received not stamped")
	}
	if _, ok := mb.Take(Action); ok {
		t.Error("second Take(Action) returned a value")
	}
}

func TestMailbox_OverwriteLatest(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	counts := map[string]int{}
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		counts[e.EventType()]++
		mu.Unlock()
	})
	mb := newRoutedMailbox(t, WithBus(bus))

	mb.Deliver("/agents/3/action", []byte("0"), false)
	mb.Deliver("/agents/3/action", []byte("3"), false)

	msg, _ := mb.Take(Action)
	if string(msg.Payload) != "3" {
		t.Errorf("Payload = %q, want latest 3", msg.Payload)
	}
	stats := mb.Stats()
	if stats.Delivered != 2 || stats.Overwritten != 1 || stats.Taken != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[event.TypeMailboxDelivered] != 2 || counts[event.TypeMailboxOverwritten] != 1 {
		t.Errorf("event counts = %v", counts)
	}
}

func TestMailbox_UnknownTopicDropped(t *testing.T) {
	mb := newRoutedMailbox(t)

	err := mb.Deliver("/agents/4/action", []byte("1"), false)
	if !errors.Is(err, apperrors.ErrUnknownTopic) {
		t.Errorf("Deliver() = %v, want ErrUnknownTopic", err)
	}
	var protoErr *apperrors.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Topic != "/agents/4/action" {
		t.Errorf("Deliver() error does not carry the topic: %v", err)
	}
	if stats := mb.Stats(); stats.Dropped != 1 || stats.Delivered != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	for _, k := range Kinds() {
		if mb.Pending(k) {
			t.Errorf("Pending(%s) = true", k)
		}
	}
}

func TestMailbox_TakeNextRoundRobin(t *testing.T) {
	mb := newRoutedMailbox(t)

	deliverAll := func() {
		mb.Deliver("/master/status", []byte("1"), false)
		mb.Deliver("/agents/index", []byte("3"), false)
		mb.Deliver("/agents/3/start", []byte("1"), false)
	}

	deliverAll()
	var order []Kind
	for {
		msg, ok := mb.TakeNext()
		if !ok {
			break
		}
		order = append(order, msg.Kind)
		if len(order) == 1 {
			// Master status keeps arriving; the others must still drain.
			mb.Deliver("/master/status", []byte("1"), false)
		}
		if len(order) > 10 {
			t.Fatal("TakeNext never drained")
		}
	}
	want := []Kind{MasterStatus, Index, Start, MasterStatus}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestMailbox_TakeNextRestricted(t *testing.T) {
	mb := newRoutedMailbox(t)
	mb.Deliver("/agents/3/action", []byte("1"), false)
	mb.Deliver("/master/status", []byte("1"), false)

	msg, ok := mb.TakeNext(MasterStatus, Start)
	if !ok || msg.Kind != MasterStatus {
		t.Errorf("TakeNext(restricted) = %+v, %v", msg, ok)
	}
	if _, ok := mb.TakeNext(MasterStatus, Start); ok {
		t.Error("TakeNext(restricted) returned an action")
	}
	if !mb.Pending(Action) {
		t.Error("action consumed by a restricted TakeNext")
	}
}

func TestMailbox_Wait(t *testing.T) {
	t.Run("already pending", func(t *testing.T) {
		mb := newRoutedMailbox(t)
		mb.Deliver("/master/status", []byte("1"), false)
		ok, err := mb.Wait(context.Background(), time.Millisecond)
		if !ok || err != nil {
			t.Errorf("Wait() = %v, %v", ok, err)
		}
	})

	t.Run("woken by delivery", func(t *testing.T) {
		mb := newRoutedMailbox(t)
		go func() {
			time.Sleep(10 * time.Millisecond)
			mb.Deliver("/agents/3/start", []byte("1"), false)
		}()
		ok, err := mb.Wait(context.Background(), 0)
		if !ok || err != nil {
			t.Errorf("Wait() = %v, %v", ok, err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		mb := newRoutedMailbox(t)
		begin := time.Now()
		ok, err := mb.Wait(context.Background(), 15*time.Millisecond)
		if ok || err != nil {
			t.Errorf("Wait() = %v, %v", ok, err)
		}
		if time.Since(begin) < 15*time.Millisecond {
			t.Error("Wait() returned before the timeout")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		mb := newRoutedMailbox(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := mb.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() err = %v, want context.Canceled", err)
		}
	})

	t.Run("stale wake", func(t *testing.T) {
		mb := newRoutedMailbox(t)
		mb.Deliver("/master/status", []byte("1"), false)
		mb.Take(MasterStatus)
		ok, err := mb.Wait(context.Background(), 10*time.Millisecond)
		if ok || err != nil {
			t.Errorf("Wait() = %v, %v, want timeout with nothing pending", ok, err)
		}
	})
}

func TestMailbox_Reset(t *testing.T) {
	mb := newRoutedMailbox(t)
	mb.Deliver("/master/status", []byte("1"), false)
	mb.Deliver("/agents/3/action", []byte("1"), false)
	mb.Reset()
	for _, k := range Kinds() {
		if mb.Pending(k) {
			t.Errorf("Pending(%s) = true after Reset", k)
		}
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{MasterStatus, "master_status"},
		{Index, "index"},
		{Start, "start"},
		{Action, "action"},
		{Kind(9), "kind(9)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
	if Kind(-1).Valid() || Kind(4).Valid() || !Action.Valid() {
		t.Error("Valid() misclassified a kind")
	}
}
