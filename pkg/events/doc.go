/*
Package events provides an in-process pub/sub broker for server lifecycle
events: ingests, uploads, training cycle transitions, publishes, snapshot
pushes.

The broker fans events out to subscriber channels. Delivery is best-effort:
a subscriber whose buffer is full is skipped rather than blocking the
publisher, so a slow consumer can never stall a training cycle.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			log.Info(string(ev.Type) + ": " + ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventModelPublished,
		Message: "model 1.0.1718000000 published",
		Metadata: map[string]string{"version": "1.0.1718000000"},
	})

The server always attaches one log subscriber so every event lands in the
structured log even with no other consumers.
*/
package events
