/*
Package events is an in-process publish/subscribe broker for run events.

The scheduler publishes an Event whenever a job changes hands (started,
dumped, taped, retried, stalled, failed, lowered to its degraded level) and
when the run as a whole changes mode (degraded, taper down, finished).
Metadata carries the job's host, disk, level and handle.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Metadata["host"], ev.Metadata["disk"])
		}
	}()

Publish never blocks. The scheduler calls it from reactor callbacks and a
slow consumer must not stall the run, so events are dropped, and counted in
Dropped, when the broker queue is full. A subscriber whose own buffer is full
misses the event.
*/
package events
