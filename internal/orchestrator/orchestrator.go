// Package orchestrator turns decoded commands into fetch/mutate/persist
// sequences against a single light, including the delayed reverts behind
// alerts and colour loops.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/color"
	"github.com/dokzlo13/huelight/internal/command"
	"github.com/dokzlo13/huelight/internal/eventbus"
	"github.com/dokzlo13/huelight/internal/ledger"
	"github.com/dokzlo13/huelight/internal/light"
)

// maxTransitionTime is the bridge's limit for transitiontime, in deciseconds.
const maxTransitionTime = 65535

// Devices reads and writes light state.
type Devices interface {
	// Fetch returns the current state of a light.
	Fetch(ctx context.Context, lightID int) (*light.State, error)
	// Persist writes the changed fields of s and returns the refreshed state.
	// ok is false when the light accepted nothing, e.g. because it is offline.
	Persist(ctx context.Context, s *light.State) (saved *light.State, ok bool, err error)
}

// Snapshots holds one restorable snapshot per light.
type Snapshots interface {
	Save(lightID int, snap light.Snapshot) error
	Load(lightID int) (light.Snapshot, bool, error)
}

// ImageColors extracts dominant colours from an image file or URL.
type ImageColors interface {
	Extract(ctx context.Context, ref string) ([]color.RGB, error)
}

// Recorder stores command outcomes.
type Recorder interface {
	Append(e ledger.Entry) error
}

// Publisher receives status events.
type Publisher interface {
	Publish(e eventbus.Event)
}

// Config tunes an Orchestrator. Zero values pick sensible defaults.
type Config struct {
	ColorNamer        bool
	SkipEvents        bool
	BackgroundTimeout time.Duration

	Images ImageColors
	Ledger Recorder
	Events Publisher

	Rand      *rand.Rand
	Now       func() time.Time
	AfterFunc AfterFunc
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Orchestrator executes light commands.
type Orchestrator struct {
	devices   Devices
	snapshots Snapshots
	cfg       Config
	timers    *timerSet

	randMu sync.Mutex

	mu       sync.Mutex
	degraded map[int]string
}

// New creates an orchestrator.
func New(devices Devices, snapshots Snapshots, cfg Config) *Orchestrator {
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 10 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}

	return &Orchestrator{
		devices:   devices,
		snapshots: snapshots,
		cfg:       cfg,
		timers:    newTimerSet(cfg.AfterFunc),
		degraded:  make(map[int]string),
	}
}

// run is the context of a single command execution.
type run struct {
	cmd           command.Command
	correlationID string
	log           zerolog.Logger
}

// Handle executes cmd. The returned status is nil for commands that do not
// report one, and for saves the light did not accept.
func (o *Orchestrator) Handle(ctx context.Context, cmd command.Command) (*light.Status, error) {
	r := &run{cmd: cmd, correlationID: uuid.NewString()}
	r.log = log.With().
		Int("light", cmd.LightID).
		Str("command", cmd.Kind.String()).
		Str("correlation_id", r.correlationID).
		Logger()

	start := o.cfg.Now()
	r.log.Debug().Msg("Handling command")

	var (
		state *light.State
		err   error
	)
	switch cmd.Kind {
	case command.KindOnOff:
		state, err = o.setOn(ctx, r)
	case command.KindToggle:
		state, err = o.toggle(ctx, r)
	case command.KindAlert:
		state, err = o.alert(ctx, r)
	case command.KindAnimationStart:
		err = o.animationStart(ctx, r)
	case command.KindAnimationStop:
		err = o.animationStop(ctx, r)
	case command.KindExtended:
		state, err = o.extended(ctx, r)
	default:
		err = fmt.Errorf("%w: unknown command kind %d", command.ErrMalformed, cmd.Kind)
	}

	if err != nil {
		o.fail(r, err)
		return nil, err
	}

	o.clearDegraded(cmd.LightID)
	o.record(ledger.EventCommandCompleted, r, nil)

	if state == nil {
		r.log.Debug().Dur("took", o.cfg.Now().Sub(start)).Msg("Command completed without status")
		return nil, nil
	}

	status := light.NewStatus(state, o.cfg.ColorNamer, o.cfg.Now())
	o.publish(eventbus.EventTypeStatus, cmd.LightID, status)
	r.log.Info().Bool("on", status.On).Int("brightness", status.Brightness).Dur("took", o.cfg.Now().Sub(start)).Msg("Command completed")
	return &status, nil
}

// Observe publishes a push status for a state change reported by the bridge.
func (o *Orchestrator) Observe(s *light.State) {
	o.publish(eventbus.EventTypePush, s.ID, light.NewStatus(s, o.cfg.ColorNamer, o.cfg.Now()))
}

// Pending returns the number of outstanding background tasks for a light.
func (o *Orchestrator) Pending(lightID int) int {
	return o.timers.count(lightID)
}

// Degraded returns the last failure per light for lights whose most recent
// command or background task failed.
func (o *Orchestrator) Degraded() map[int]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[int]string, len(o.degraded))
	for id, msg := range o.degraded {
		out[id] = msg
	}
	return out
}

// Close cancels outstanding background tasks.
func (o *Orchestrator) Close() {
	if n := o.timers.stopAll(); n > 0 {
		log.Info().Int("cancelled", n).Msg("Cancelled pending light tasks")
	}
}

func (o *Orchestrator) setOn(ctx context.Context, r *run) (*light.State, error) {
	s, err := o.fetch(ctx, r.cmd.LightID)
	if err != nil {
		return nil, err
	}
	s.SetOn(r.cmd.On)
	return o.save(ctx, r, s)
}

func (o *Orchestrator) toggle(ctx context.Context, r *run) (*light.State, error) {
	s, err := o.fetch(ctx, r.cmd.LightID)
	if err != nil {
		return nil, err
	}
	s.SetOn(!s.On)
	return o.save(ctx, r, s)
}

func (o *Orchestrator) alert(ctx context.Context, r *run) (*light.State, error) {
	id := r.cmd.LightID
	delay, err := command.Seconds(float64(r.cmd.Alert.Seconds))
	if err != nil {
		return nil, err
	}

	s, err := o.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := light.SnapshotOf(s, o.cfg.Now())
	if err := o.snapshots.Save(id, snap); err != nil {
		return nil, err
	}

	if s.Model.HasColor {
		spec := command.ColorSpec{Kind: command.ColorRGB, RGB: color.RGB{R: 255}}
		if r.cmd.Alert.Color != nil {
			spec = *r.cmd.Alert.Color
		}
		if rgb, ok := o.resolve(spec); ok {
			s.SetXY(color.RGBToXY(rgb, s.Model.ID))
		} else {
			r.log.Debug().Str("color", spec.Name).Msg("Unknown color name, keeping current color")
		}
	}
	s.SetOn(true)
	s.SetBrightness(light.MaxNative)
	s.SetTransitionTime(0)

	lit, err := o.save(ctx, r, s)
	if err != nil || lit == nil {
		return nil, err
	}

	lit.ClearDirty()
	lit.SetAlert(light.AlertLSelect)
	flashing, err := o.save(ctx, r, lit)
	if err != nil || flashing == nil {
		return nil, err
	}

	base := flashing.Clone()
	o.background(r, "alert_restore", delay, func(ctx context.Context) error {
		restore := snap
		stored, ok, err := o.snapshots.Load(id)
		switch {
		case err != nil:
			r.log.Warn().Err(err).Msg("Failed to load snapshot, restoring captured state")
		case ok:
			restore = stored
		}

		target := base.Clone()
		target.ClearDirty()
		restore.Restore(target)
		_, _, err = o.persist(ctx, target)
		return err
	})

	return flashing, nil
}

func (o *Orchestrator) animationStart(ctx context.Context, r *run) error {
	s, err := o.fetch(ctx, r.cmd.LightID)
	if err != nil {
		return err
	}
	return o.snapshots.Save(r.cmd.LightID, light.SnapshotOf(s, o.cfg.Now()))
}

func (o *Orchestrator) animationStop(ctx context.Context, r *run) error {
	s, err := o.fetch(ctx, r.cmd.LightID)
	if err != nil {
		return err
	}

	snap, ok, err := o.snapshots.Load(r.cmd.LightID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSnapshot
	}

	snap.Restore(s)
	_, err = o.save(ctx, r, s)
	return err
}

func (o *Orchestrator) extended(ctx context.Context, r *run) (*light.State, error) {
	e := r.cmd.Extended

	s, err := o.fetch(ctx, r.cmd.LightID)
	if err != nil {
		return nil, err
	}

	if err := o.stage(ctx, r, s, e); err != nil {
		return nil, err
	}

	loop := s.IsDirty(light.FieldEffect) && s.Effect == light.EffectColorloop

	saved, err := o.save(ctx, r, s)
	if err != nil || saved == nil {
		return nil, err
	}

	if loop {
		base := saved.Clone()
		delay, _ := command.Seconds(*e.Colorloop)
		o.background(r, "colorloop_stop", delay, func(ctx context.Context) error {
			target := base.Clone()
			target.ClearDirty()
			target.SetEffect(light.EffectNone)
			_, _, err := o.persist(ctx, target)
			return err
		})
	}

	if e.TransitionTime == nil {
		return saved, nil
	}

	// deciseconds plus a 1% margin
	wait := time.Duration(*e.TransitionTime * 1010 * float64(time.Millisecond))
	if err := o.cfg.Sleep(ctx, wait); err != nil {
		return nil, err
	}
	return o.fetch(ctx, r.cmd.LightID)
}

// stage validates the extended command and applies it to s in memory.
// Nothing is written when it fails.
func (o *Orchestrator) stage(ctx context.Context, r *run, s *light.State, e command.Extended) error {
	if e.On != nil {
		s.SetOn(*e.On)
	}

	switch {
	case e.Brightness != nil:
		b := *e.Brightness
		if !finite(b) || b < 0 || b > 100 {
			return fmt.Errorf("%w: got %v", ErrInvalidBrightness, b)
		}
		if pct := int(b); pct == 0 {
			s.SetOn(false)
		} else {
			s.SetOn(true)
			s.SetBrightness(uint8(light.PercentToNative(pct)))
		}
	case e.IncrementBrightness != nil:
		inc := *e.IncrementBrightness
		if !finite(inc) || inc < -100 || inc > 100 {
			return fmt.Errorf("%w: increment %v", ErrInvalidBrightness, inc)
		}
		if inc > 0 {
			s.SetOn(true)
		}
		s.SetIncrementBrightness(light.PercentToNative(int(inc)))
	}

	if s.Model.HasColor {
		for _, spec := range e.Colors {
			rgb, ok := o.resolve(spec)
			if !ok {
				r.log.Debug().Str("color", spec.Name).Msg("Unknown color name, ignoring")
				continue
			}
			s.SetXY(color.RGBToXY(rgb, s.Model.ID))
		}
	}

	if e.ColorTemp != nil && s.Model.HasColorTemp {
		ct := *e.ColorTemp
		if !finite(ct) || ct < 153 || ct > 500 {
			return fmt.Errorf("%w: got %v", ErrInvalidColorTemperature, ct)
		}
		s.SetColorTemp(uint16(ct))
	}

	if e.Saturation != nil && s.Model.HasSaturation {
		sat := *e.Saturation
		if !finite(sat) || sat < 0 || sat > 100 {
			return fmt.Errorf("%w: got %v", ErrInvalidSaturation, sat)
		}
		s.SetSaturation(uint8(light.PercentToNative(int(sat))))
	}

	if e.TransitionTime != nil {
		tt := *e.TransitionTime
		if !finite(tt) || tt < 0 || tt > maxTransitionTime {
			return fmt.Errorf("%w: got %v", ErrInvalidTransitionTime, tt)
		}
		s.SetTransitionTime(tt)
	}

	if e.Colorloop != nil && *e.Colorloop > 0 {
		if _, err := command.Seconds(*e.Colorloop); err != nil {
			return err
		}
	}
	if e.Colorloop != nil && *e.Colorloop > 0 && s.Model.HasColor {
		s.SetEffect(light.EffectColorloop)
	}

	if e.Image != "" && s.Model.HasColor {
		if o.cfg.Images == nil {
			return fmt.Errorf("%w: image support disabled", ErrImageExtraction)
		}
		colors, err := o.cfg.Images.Extract(ctx, e.Image)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrImageExtraction, err)
		}
		if len(colors) > 0 {
			s.SetXY(color.RGBToXY(colors[0], s.Model.ID))
		}
	}

	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, lightID int) (*light.State, error) {
	s, err := o.devices.Fetch(ctx, lightID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	return s, nil
}

func (o *Orchestrator) persist(ctx context.Context, s *light.State) (*light.State, bool, error) {
	saved, ok, err := o.devices.Persist(ctx, s)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return saved, ok, nil
}

// save persists s and turns a rejected save into a nil state.
func (o *Orchestrator) save(ctx context.Context, r *run, s *light.State) (*light.State, error) {
	saved, ok, err := o.persist(ctx, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.log.Warn().Msg("Light did not accept the change")
		return nil, nil
	}
	return saved, nil
}

// background runs task after delay with its own timeout. Failures are logged
// and recorded since there is no caller left to report them to.
func (o *Orchestrator) background(r *run, name string, delay time.Duration, task func(ctx context.Context) error) {
	scheduled := o.timers.schedule(r.cmd.LightID, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.BackgroundTimeout)
		defer cancel()

		if err := task(ctx); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrBackgroundTask, name, err)
			r.log.Error().Err(err).Msg("Background task failed")
			o.setDegraded(r.cmd.LightID, err)
			o.record(ledger.EventBackgroundFailed, r, err)
			return
		}
		r.log.Debug().Str("task", name).Msg("Background task completed")
	})

	if !scheduled {
		r.log.Warn().Str("task", name).Msg("Orchestrator closed, background task not scheduled")
		return
	}
	r.log.Debug().Str("task", name).Dur("delay", delay).Msg("Background task scheduled")
}

func (o *Orchestrator) resolve(spec command.ColorSpec) (color.RGB, bool) {
	switch spec.Kind {
	case command.ColorRandom:
		o.randMu.Lock()
		defer o.randMu.Unlock()
		return color.Random(o.cfg.Rand), true
	case command.ColorNamed:
		return color.Named(spec.Name)
	default:
		return spec.RGB, true
	}
}

func (o *Orchestrator) fail(r *run, err error) {
	switch {
	case IsValidation(err), errors.Is(err, command.ErrMalformed):
		r.log.Warn().Err(err).Msg("Rejected command")
	case errors.Is(err, ErrNoSnapshot):
		r.log.Warn().Err(err).Msg("Nothing to restore")
	default:
		r.log.Error().Err(err).Msg("Command failed")
	}

	if IsDevice(err) {
		o.setDegraded(r.cmd.LightID, err)
	}
	o.record(ledger.EventCommandFailed, r, err)
}

func (o *Orchestrator) record(eventType ledger.EventType, r *run, err error) {
	if o.cfg.Ledger == nil {
		return
	}
	entry := ledger.Entry{
		EventType:     eventType,
		LightID:       r.cmd.LightID,
		CorrelationID: r.correlationID,
		Command:       r.cmd.Kind.String(),
		Timestamp:     o.cfg.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := o.cfg.Ledger.Append(entry); lerr != nil {
		r.log.Warn().Err(lerr).Msg("Failed to record command outcome")
	}
}

func (o *Orchestrator) publish(t eventbus.EventType, lightID int, status light.Status) {
	if o.cfg.SkipEvents || o.cfg.Events == nil {
		return
	}
	o.cfg.Events.Publish(eventbus.Event{Type: t, LightID: lightID, Status: status})
}

func (o *Orchestrator) setDegraded(lightID int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded[lightID] = err.Error()
}

func (o *Orchestrator) clearDegraded(lightID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.degraded, lightID)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
