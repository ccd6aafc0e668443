package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/timelapser/internal/hw/camera"
)

// callLog records the order of hardware calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeDevice is a camera.Device with injectable failures. Failure fields
// holding a request number fail that request (1-based).
type fakeDevice struct {
	log *callLog

	acquireErr   error
	configureErr error
	startErr     error
	releaseErr   error
	requestFail  int
	saveFail     int
	reqRelFail   int

	requests int
	cfg      camera.StillConfig
}

var errInjected = errors.New("injected failure")

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Acquire(context.Context) error {
	d.log.add("acquire")
	return d.acquireErr
}

func (d *fakeDevice) Configure(cfg camera.StillConfig) error {
	d.log.add("configure")
	d.cfg = cfg
	return d.configureErr
}

func (d *fakeDevice) Start() error {
	d.log.add("start")
	return d.startErr
}

func (d *fakeDevice) Request(ctx context.Context) (camera.Request, error) {
	d.requests++
	d.log.add("capture %d", d.requests)
	if d.requests == d.requestFail {
		return nil, errInjected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeRequest{
		log:         d.log,
		n:           d.requests,
		failSave:    d.requests == d.saveFail,
		failRelease: d.requests == d.reqRelFail,
	}, nil
}

func (d *fakeDevice) Stop() error {
	d.log.add("stop")
	return nil
}

func (d *fakeDevice) Release() error {
	d.log.add("release")
	return d.releaseErr
}

type fakeRequest struct {
	log         *callLog
	n           int
	failSave    bool
	failRelease bool
}

func (r *fakeRequest) Save(path string) error {
	if r.failSave {
		// Leave a partial file behind, like an interrupted write.
		_ = os.WriteFile(path, []byte("par"), 0o644)
		return errInjected
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("frame %d", r.n)), 0o644)
}

func (r *fakeRequest) Metadata() map[string]any { return map[string]any{"n": r.n} }

func (r *fakeRequest) Release() error {
	r.log.add("request release %d", r.n)
	if r.failRelease {
		return errInjected
	}
	return nil
}

type fakeLight struct {
	log     *callLog
	onFail  int
	offFail int
	ons     int
	offs    int
}

func (l *fakeLight) On() error {
	l.ons++
	l.log.add("light on")
	if l.ons == l.onFail {
		return errInjected
	}
	return nil
}

func (l *fakeLight) Off() error {
	l.offs++
	l.log.add("light off")
	if l.offs == l.offFail {
		return errInjected
	}
	return nil
}

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs before the sleep returns; used to cancel mid-run.
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 10, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Keep frame names unique even without sleeps.
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) Observe(e Event) { r.events = append(r.events, e) }

func (r *eventRecorder) states() []RunnerState {
	var out []RunnerState
	for _, e := range r.events {
		if e.Type == EventState {
			out = append(out, e.State)
		}
	}
	return out
}
