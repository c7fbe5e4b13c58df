package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishAssignsSequence(t *testing.T) {
	b := NewBus(10)
	e1 := b.Publish(BackendExited, map[string]int{"code": 1})
	e2 := b.Publish(SettingsUpdated, nil)
	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("seq = %d,%d", e1.Seq, e2.Seq)
	}
	var p struct{ Code int }
	if err := json.Unmarshal(e1.Payload, &p); err != nil || p.Code != 1 {
		t.Fatalf("payload = %s (%v)", e1.Payload, err)
	}
	if got := b.Since(1); len(got) != 1 || got[0].Type != SettingsUpdated {
		t.Fatalf("since(1) = %+v", got)
	}
}

func TestBoundedHistory(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		b.Publish(Shortcut, nil)
	}
	got := b.Since(0)
	if len(got) != 3 || got[0].Seq != 3 {
		t.Fatalf("history = %+v", got)
	}
}

func TestSubscribeReceivesAndCancel(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe(1)
	b.Publish(MappingProgress, map[string]any{"percent": 5})
	select {
	case ev := <-ch:
		if ev.Type != MappingProgress {
			t.Fatalf("type = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	// publishing after cancel must not panic
	b.Publish(Shortcut, nil)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(0)
	_, cancel := b.Subscribe(1)
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Shortcut, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}
