package awareness

import (
	"context"
	"errors"
	"testing"
)

func TestEmit_RecordsToQueue(t *testing.T) {
	p := New()
	p.Emit("deployment started", "lifecycle", map[string]interface{}{"env": "prod"}, []string{"deploy"})

	events := p.Drain()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Content != "deployment started" || events[0].Category != "lifecycle" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestEmit_DropsOldestOnOverflow(t *testing.T) {
	p := New(WithQueueSize(2))
	p.Emit("a", "cat", nil, nil)
	p.Emit("b", "cat", nil, nil)
	p.Emit("c", "cat", nil, nil)

	events := p.Drain()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Content != "b" || events[1].Content != "c" {
		t.Errorf("events = %+v, want [b c] after dropping oldest", events)
	}
	if p.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", p.Stats().Dropped)
	}
}

type failingBroadcaster struct{}

func (failingBroadcaster) Publish(ctx context.Context, channel string, message interface{}) error {
	return errors.New("connection refused")
}

func TestEmit_NeverFailsOnBroadcastError(t *testing.T) {
	p := New(WithBroadcast(failingBroadcaster{}, "playbook:awareness"))
	p.Emit("x", "cat", nil, nil)

	if len(p.Drain()) != 1 {
		t.Error("event should still be queued locally even when broadcast fails")
	}
}

type recordingBroadcaster struct {
	channel string
}

func (r *recordingBroadcaster) Publish(ctx context.Context, channel string, message interface{}) error {
	r.channel = channel
	return nil
}

func TestEmitContext_PublishesToConfiguredChannel(t *testing.T) {
	rec := &recordingBroadcaster{}
	p := New(WithBroadcast(rec, "playbook:awareness"))
	p.EmitContext(context.Background(), "x", "cat", nil, nil)

	if rec.channel != "playbook:awareness" {
		t.Errorf("channel = %q, want playbook:awareness", rec.channel)
	}
}
