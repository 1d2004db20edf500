package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/grahama1970/granger-hub/internal/events"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe("test")

	event := events.NewEvent(events.EventConversationCreated, "conv_1", "ModuleA", nil)
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != events.EventConversationCreated {
			t.Errorf("Expected conversation.created, got %s", got.Type)
		}
		if got.ConversationID != "conv_1" {
			t.Errorf("Expected conv_1, got %s", got.ConversationID)
		}
		if got.ID == "" {
			t.Error("Expected event ID to be generated")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe("test")
	bus.Unsubscribe(ch)

	if count := bus.SubscriberCount(); count != 0 {
		t.Errorf("Expected 0 subscribers, got %d", count)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := events.NewBus()
	bus.Close()

	err := bus.Publish(context.Background(), events.NewEvent(events.EventMessageRouted, "conv_1", "", nil))
	if err == nil {
		t.Error("Expected error publishing to closed bus")
	}
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")

	// A consumer ranging over the channel ends when Close runs
	done := make(chan int, 1)
	go func() {
		received := 0
		for range ch {
			received++
		}
		done <- received
	}()

	bus.Publish(context.Background(), events.NewEvent(events.EventConversationCreated, "conv_1", "", nil))
	bus.Close()

	select {
	case received := <-done:
		if received != 1 {
			t.Errorf("Expected 1 event before close, got %d", received)
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer did not exit after Close")
	}
}

func TestStreamer_Filter(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := events.NewStreamer(bus, events.EventFilter{
		Types:          []events.EventType{events.EventMessageRouted},
		ConversationID: "conv_1",
	})
	out, err := streamer.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Mismatched type and mismatched conversation get dropped
	bus.Publish(ctx, events.NewEvent(events.EventConversationCreated, "conv_1", "", nil))
	bus.Publish(ctx, events.NewEvent(events.EventMessageRouted, "conv_2", "", nil))
	bus.Publish(ctx, events.NewEvent(events.EventMessageRouted, "conv_1", "ModuleB", nil))

	select {
	case got := <-out:
		if got.Type != events.EventMessageRouted || got.ConversationID != "conv_1" {
			t.Errorf("Filter passed wrong event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for filtered event")
	}

	// Nothing else should be delivered
	select {
	case got := <-out:
		t.Errorf("Unexpected extra event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}
