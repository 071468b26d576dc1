package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/tapeline/pkg/log"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// EventType identifies what a handle waits for
type EventType int

const (
	ReadFD EventType = iota
	WriteFD
	Signal
	Time
	Wait
	Dead
)

func (t EventType) String() string {
	switch t {
	case ReadFD:
		return "READFD"
	case WriteFD:
		return "WRITEFD"
	case Signal:
		return "SIG"
	case Time:
		return "TIME"
	case Wait:
		return "WAIT"
	case Dead:
		return "DEAD"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// maxPollErrors is the number of consecutive non-EINTR poll failures tolerated
const maxPollErrors = 5

var (
	ErrNegativeDatum    = errors.New("negative event datum")
	ErrSignalRegistered = errors.New("signal already registered")
	ErrBadEventType     = errors.New("cannot register event of this type")
	ErrReentrant        = errors.New("event loop re-entered")
	ErrTooManyErrors    = errors.New("too many consecutive poll errors")
)

// Callback is invoked on the loop goroutine when a handle fires
type Callback func()

// Handle is a registered event source. It is owned by the Reactor that
// created it and stays valid until the reactor reclaims it after Release.
type Handle struct {
	typ       EventType
	datum     int
	fn        Callback
	lastFired time.Time
	woken     bool
}

// Type returns the handle type; DEAD once released
func (h *Handle) Type() EventType {
	return h.typ
}

// Datum returns the fd, signal number, interval in seconds or wait id
func (h *Handle) Datum() int {
	return h.datum
}

// PollFunc is the OS multiplex-wait primitive
type PollFunc func(fds []unix.PollFd, timeoutMillis int) (int, error)

// Reactor is a single-threaded multiplexer for fd readiness, timers, OS
// signals and manual wakeups. It is not safe for concurrent use: every method
// must be called from the goroutine running Loop or before Loop starts.
type Reactor struct {
	clock   clock.Clock
	poll    PollFunc
	handles []*Handle
	relays  map[int]*sigRelay
	running bool

	wakeR, wakeW int

	logger zerolog.Logger
}

// Option configures a Reactor
type Option func(*Reactor)

// WithClock overrides the wall clock used for TIME handles
func WithClock(c clock.Clock) Option {
	return func(r *Reactor) {
		r.clock = c
	}
}

// WithPoll overrides the poll(2) call
func WithPoll(p PollFunc) Option {
	return func(r *Reactor) {
		r.poll = p
	}
}

// New creates a reactor and its internal self-pipe
func New(opts ...Option) (*Reactor, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create wakeup pipe: %w", err)
	}

	r := &Reactor{
		clock:  clock.WallClock,
		poll:   unix.Poll,
		relays: make(map[int]*sigRelay),
		wakeR:  p[0],
		wakeW:  p[1],
		logger: log.WithComponent("reactor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close stops signal relays and closes the self-pipe
func (r *Reactor) Close() error {
	for sig, relay := range r.relays {
		relay.stop()
		delete(r.relays, sig)
	}
	unix.Close(r.wakeR)
	return unix.Close(r.wakeW)
}

// Register adds an active handle. For READFD/WRITEFD datum is a file
// descriptor, for SIG a signal number, for TIME an interval in seconds and
// for WAIT an arbitrary wakeup id.
func (r *Reactor) Register(datum int, typ EventType, fn Callback) (*Handle, error) {
	if datum < 0 {
		return nil, fmt.Errorf("%w: %s %d", ErrNegativeDatum, typ, datum)
	}
	switch typ {
	case ReadFD, WriteFD, Time, Wait:
	case Signal:
		for _, h := range r.handles {
			if h.typ == Signal && h.datum == datum {
				return nil, fmt.Errorf("%w: %d", ErrSignalRegistered, datum)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadEventType, typ)
	}

	h := &Handle{
		typ:       typ,
		datum:     datum,
		fn:        fn,
		lastFired: r.clock.Now(),
	}
	r.handles = append(r.handles, h)

	r.logger.Debug().
		Str("type", typ.String()).
		Int("datum", datum).
		Msg("Registered event handle")
	return h, nil
}

// Release marks a handle dead. It is idempotent and safe to call from the
// handle's own callback. The handle is reclaimed at the end of the current pass.
func (r *Reactor) Release(h *Handle) {
	if h == nil || h.typ == Dead {
		return
	}
	if h.typ == Signal {
		if relay, ok := r.relays[h.datum]; ok {
			relay.stop()
			delete(r.relays, h.datum)
		}
	}
	r.logger.Debug().
		Str("type", h.typ.String()).
		Int("datum", h.datum).
		Msg("Released event handle")
	h.typ = Dead
	h.woken = false
}

// Wakeup marks every active WAIT handle with the given id to fire on the next
// pass and returns how many were marked.
func (r *Reactor) Wakeup(id int) int {
	n := 0
	for _, h := range r.handles {
		if h.typ == Wait && h.datum == id {
			h.woken = true
			n++
		}
	}
	return n
}

// Active returns the number of handles that are not dead
func (r *Reactor) Active() int {
	n := 0
	for _, h := range r.handles {
		if h.typ != Dead {
			n++
		}
	}
	return n
}

// Loop runs passes until no active handles remain. With dontblock it runs a
// single non-blocking pass.
func (r *Reactor) Loop(dontblock bool) error {
	if r.running {
		return ErrReentrant
	}
	r.running = true
	defer func() { r.running = false }()

	errCount := 0
	for r.Active() > 0 {
		fds, slots, timeout := r.prepare(dontblock)

		if _, err := r.poll(fds, timeout); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			errCount++
			r.logger.Warn().Err(err).Int("consecutive", errCount).Msg("Poll failed")
			if errCount > maxPollErrors {
				return fmt.Errorf("%w: %v", ErrTooManyErrors, err)
			}
			continue
		}
		errCount = 0

		if fds[0].Revents != 0 {
			r.drainWakeups()
		}

		r.dispatch(fds, slots)

		if dontblock {
			return nil
		}
	}
	return nil
}

// prepare builds the poll set, installs pending signal relays and computes
// the wait timeout. slots maps handle index to pollfd index (or -1).
func (r *Reactor) prepare(dontblock bool) ([]unix.PollFd, []int, int) {
	fds := []unix.PollFd{{Fd: int32(r.wakeR), Events: unix.POLLIN}}
	byFd := make(map[int]int)
	slots := make([]int, len(r.handles))

	now := r.clock.Now()
	timeout := time.Duration(-1)
	pending := false

	for i, h := range r.handles {
		slots[i] = -1
		switch h.typ {
		case ReadFD, WriteFD:
			events := int16(unix.POLLIN)
			if h.typ == WriteFD {
				events = unix.POLLOUT
			}
			idx, ok := byFd[h.datum]
			if !ok {
				idx = len(fds)
				byFd[h.datum] = idx
				fds = append(fds, unix.PollFd{Fd: int32(h.datum)})
			}
			fds[idx].Events |= events
			slots[i] = idx
		case Signal:
			relay, ok := r.relays[h.datum]
			if !ok {
				relay = newSigRelay(h.datum, r.wakeW)
				r.relays[h.datum] = relay
			}
			if relay.pending() {
				pending = true
			}
		case Time:
			left := time.Duration(h.datum)*time.Second - now.Sub(h.lastFired)
			if left < 0 {
				left = 0
			}
			if timeout < 0 || left < timeout {
				timeout = left
			}
		case Wait:
			if h.woken {
				pending = true
			}
		}
	}

	if dontblock || pending {
		timeout = 0
	}
	return fds, slots, toMillis(timeout)
}

// dispatch decides which handles fired, runs their callbacks in handle-list
// order, then runs woken WAIT handles and reclaims dead ones.
func (r *Reactor) dispatch(fds []unix.PollFd, slots []int) {
	snapshot := r.handles[:len(slots)]
	now := r.clock.Now()

	var fired []*Handle
	for i, h := range snapshot {
		switch h.typ {
		case ReadFD:
			if idx := slots[i]; idx >= 0 && fds[idx].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
				fired = append(fired, h)
			}
		case WriteFD:
			if idx := slots[i]; idx >= 0 && fds[idx].Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
				fired = append(fired, h)
			}
		case Signal:
			if relay, ok := r.relays[h.datum]; ok && relay.take() {
				fired = append(fired, h)
			}
		case Time:
			if now.Sub(h.lastFired) >= time.Duration(h.datum)*time.Second {
				h.lastFired = now
				fired = append(fired, h)
			}
		}
	}

	for _, h := range fired {
		if h.typ != Dead {
			h.fn()
		}
	}

	// WAIT handles woken by the callbacks above fire in this same pass.
	var woken []*Handle
	for _, h := range r.handles {
		if h.typ == Wait && h.woken {
			h.woken = false
			woken = append(woken, h)
		}
	}
	for _, h := range woken {
		if h.typ != Dead {
			h.fn()
		}
	}

	r.collect()
}

// collect drops dead handles from the handle list
func (r *Reactor) collect() {
	live := r.handles[:0]
	for _, h := range r.handles {
		if h.typ != Dead {
			live = append(live, h)
		}
	}
	for i := len(live); i < len(r.handles); i++ {
		r.handles[i] = nil
	}
	r.handles = live
}

func (r *Reactor) drainWakeups() {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func toMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
