package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dokzlo13/huelight/internal/color"
	"github.com/dokzlo13/huelight/internal/eventbus"
	"github.com/dokzlo13/huelight/internal/ledger"
	"github.com/dokzlo13/huelight/internal/light"
	"github.com/dokzlo13/huelight/internal/snapshot"
	"github.com/dokzlo13/huelight/internal/storage/kv"
)

func uint8Ptr(v uint8) *uint8       { return &v }
func float64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool          { return &v }

// colorLight is an off, colour-capable light at 100/254 and xy (0.3, 0.3).
func colorLight() *light.State {
	return &light.State{
		ID:         1,
		Name:       "Desk",
		Reachable:  true,
		On:         false,
		Brightness: uint8Ptr(100),
		XY:         &color.XY{X: 0.3, Y: 0.3},
		Effect:     light.EffectNone,
		Alert:      light.AlertNone,
		Model: light.Model{
			ID: "LCT015", Type: "Extended color light", ColorGamut: "C",
			HasColor: true, HasColorTemp: true, HasSaturation: true, HasDimming: true,
		},
	}
}

// fakeDevice is an in-memory light that records every write.
type fakeDevice struct {
	mu     sync.Mutex
	state  *light.State
	writes []*light.State
	reject bool
}

func newFakeDevice(s *light.State) *fakeDevice {
	return &fakeDevice{state: s}
}

func (f *fakeDevice) Fetch(_ context.Context, _ int) (*light.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.state.Clone()
	c.ClearDirty()
	return c, nil
}

func (f *fakeDevice) Persist(_ context.Context, s *light.State) (*light.State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, s.Clone())
	if f.reject {
		return nil, false, nil
	}
	merge(f.state, s)
	f.state.ClearDirty()
	return f.state.Clone(), true, nil
}

// merge copies the changed fields of src onto s, as the bridge would apply them.
func merge(s, src *light.State) {
	if src.IsDirty(light.FieldOn) {
		s.SetOn(src.On)
	}
	if src.IsDirty(light.FieldBrightness) && src.Brightness != nil {
		s.SetBrightness(*src.Brightness)
	}
	if src.IsDirty(light.FieldIncrementBrightness) && src.IncrementBrightness != nil {
		s.SetIncrementBrightness(*src.IncrementBrightness)
	}
	if src.IsDirty(light.FieldXY) && src.XY != nil {
		s.SetXY(*src.XY)
	}
	if src.IsDirty(light.FieldColorTemp) && src.ColorTemp != nil {
		s.SetColorTemp(*src.ColorTemp)
	}
	if src.IsDirty(light.FieldSaturation) && src.Saturation != nil {
		s.SetSaturation(*src.Saturation)
	}
	if src.IsDirty(light.FieldTransitionTime) && src.TransitionTime != nil {
		s.SetTransitionTime(*src.TransitionTime)
	}
	if src.IsDirty(light.FieldEffect) {
		s.SetEffect(src.Effect)
	}
	if src.IsDirty(light.FieldAlert) {
		s.SetAlert(src.Alert)
	}
}

func (f *fakeDevice) current() *light.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeDevice) written() []*light.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*light.State(nil), f.writes...)
}

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) Fetch(ctx context.Context, lightID int) (*light.State, error) {
	args := m.Called(ctx, lightID)
	s, _ := args.Get(0).(*light.State)
	return s, args.Error(1)
}

func (m *mockDevices) Persist(ctx context.Context, s *light.State) (*light.State, bool, error) {
	args := m.Called(ctx, s)
	saved, _ := args.Get(0).(*light.State)
	return saved, args.Bool(1), args.Error(2)
}

type mockImages struct {
	mock.Mock
}

func (m *mockImages) Extract(ctx context.Context, ref string) ([]color.RGB, error) {
	args := m.Called(ctx, ref)
	colors, _ := args.Get(0).([]color.RGB)
	return colors, args.Error(1)
}

// fakeClock captures scheduled tasks so tests can fire them on demand.
type fakeClock struct {
	mu     sync.Mutex
	tasks  []*fakeTask
	sleeps []time.Duration
}

type fakeTask struct {
	delay     time.Duration
	fn        func()
	done      bool
	cancelled bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTask{delay: d, fn: f}
	c.tasks = append(c.tasks, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done || t.cancelled {
			return false
		}
		t.cancelled = true
		return true
	}
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) scheduled() []*fakeTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTask(nil), c.tasks...)
}

// fire runs task i as if its timer expired.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.tasks[i]
	if t.done || t.cancelled {
		c.mu.Unlock()
		return
	}
	t.done = true
	c.mu.Unlock()
	t.fn()
}

type recorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *recorder) Append(e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type publisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *publisher) Publish(e eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type harness struct {
	orch      *Orchestrator
	clock     *fakeClock
	snapshots *snapshot.Store
	ledger    *recorder
	events    *publisher
}

func newHarness(devices Devices, mutate ...func(*Config)) *harness {
	h := &harness{
		clock:     &fakeClock{},
		snapshots: snapshot.NewStore(kv.NewMemoryBucket(snapshot.BucketName), 0),
		ledger:    &recorder{},
		events:    &publisher{},
	}
	cfg := Config{
		Ledger:    h.ledger,
		Events:    h.events,
		Now:       func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		AfterFunc: h.clock.AfterFunc,
		Sleep:     h.clock.Sleep,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.orch = New(devices, h.snapshots, cfg)
	return h
}
