package eventbus

import (
	"testing"
	"time"

	"github.com/hsgraph/hsg/pkg/logging"
)

func strp(s string) *string { return &s }

func TestPublishScopesToTenant(t *testing.T) {
	b := New(logging.Nop())
	acme := b.Subscribe(strp("acme"), false)
	other := b.Subscribe(strp("other"), false)
	admin := b.Subscribe(nil, true)

	b.Publish(Event{Kind: MemoryAdded, TenantID: strp("acme"), Payload: map[string]any{"id": "m1"}})

	select {
	case e := <-acme.Ch:
		if e.Kind != MemoryAdded {
			t.Fatalf("unexpected event kind: %s", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected acme subscriber to receive the event")
	}

	select {
	case e := <-admin.Ch:
		if e.Kind != MemoryAdded {
			t.Fatalf("unexpected event kind: %s", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected admin subscriber to receive every event")
	}

	select {
	case e := <-other.Ch:
		t.Fatalf("expected other tenant to receive nothing, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(logging.Nop())
	sub := b.Subscribe(strp("acme"), false)
	b.Unsubscribe(sub)

	_, ok := <-sub.Ch
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}
