package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	for _, typ := range []string{"admitted", "released"} {
		if err := q.Publish(ctx, Message{Type: typ, Body: []byte(typ)}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	for _, want := range []string{"admitted", "released"} {
		select {
		case msg := <-msgs:
			if msg.Type != want || string(msg.Body) != want {
				t.Fatalf("expected %s, got %+v", want, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func TestInMemoryPublishFull(t *testing.T) {
	q := NewInMemory(1)
	if err := q.Publish(context.Background(), Message{Type: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, Message{Type: "b"}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}
