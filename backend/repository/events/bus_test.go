package events

import "testing"

func TestBus_PublishSync_CallsTypeAndAllHandlers(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	calls := make(chan EventType, 2)
	bus.Subscribe(EventProfileCreated, func(event Event) {
		calls <- event.Type()
	})
	bus.SubscribeAll(func(event Event) {
		calls <- event.Type()
	})

	bus.PublishSync(ProfileEvent{EventType: EventProfileCreated})

	got1 := <-calls
	got2 := <-calls

	if got1 != EventProfileCreated || got2 != EventProfileCreated {
		t.Fatalf("unexpected calls: %v, %v", got1, got2)
	}
}

func TestBus_PublishSync_RecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	called := false
	bus.Subscribe(EventSettingsChanged, func(Event) { panic("boom") })
	bus.Subscribe(EventSettingsChanged, func(Event) { called = true })

	bus.PublishSync(SettingsEvent{EventType: EventSettingsChanged})

	if !called {
		t.Fatalf("expected second handler to run after first panicked")
	}
}
