package reactor

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// sigRelay turns OS signal deliveries into a scoreboard count plus a byte on
// the reactor's self-pipe. No callback ever runs on the relay goroutine.
type sigRelay struct {
	ch    chan os.Signal
	done  chan struct{}
	count atomic.Int32
}

func newSigRelay(signum int, wakeFd int) *sigRelay {
	relay := &sigRelay{
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
	signal.Notify(relay.ch, syscall.Signal(signum))

	go func() {
		for {
			select {
			case <-relay.ch:
				relay.count.Add(1)
				// EAGAIN means a wakeup byte is already queued
				_, _ = unix.Write(wakeFd, []byte{byte(signum)})
			case <-relay.done:
				return
			}
		}
	}()
	return relay
}

func (s *sigRelay) pending() bool {
	return s.count.Load() > 0
}

// take reports whether the signal was delivered since the last call and
// resets the scoreboard.
func (s *sigRelay) take() bool {
	return s.count.Swap(0) > 0
}

// stop restores the previous disposition; no further deliveries are counted.
func (s *sigRelay) stop() {
	signal.Stop(s.ch)
	close(s.done)
}
