package indicator

import (
	"context"
	"time"

	"github.com/sio-stoke/stoke/pkg/core"
)

// Blink is an on/off pattern. A zero Off means solid.
type Blink struct {
	On, Off time.Duration
}

// FixPatterns is the green LED pattern per fix class.
var FixPatterns = map[core.FixClass]Blink{
	core.NoFix:    {On: 250 * time.Millisecond, Off: 250 * time.Millisecond},
	core.TimeFix:  {On: time.Second, Off: time.Second},
	core.Fix2D:    {On: 2 * time.Second, Off: time.Second},
	core.Fix3D:    {On: 3 * time.Second, Off: time.Second},
	core.SBAS:     {},
	core.RtkFloat: {},
	core.RtkFix:   {},
}

// unknownFix is shown when the class is not in FixPatterns or the sensor
// could not be read.
var unknownFix = Blink{On: time.Second, Off: 10 * time.Second}

// CueTiming is the calibration countdown shown before each frame.
type CueTiming struct {
	Step  time.Duration // green, yellow, red lit one after another
	Blink time.Duration // all three blinking
	Solid time.Duration // all three lit; the frame is taken at the end
}

// DefaultCue is the field rig's countdown.
var DefaultCue = CueTiming{
	Step:  500 * time.Millisecond,
	Blink: 3 * time.Second,
	Solid: 1500 * time.Millisecond,
}

// Panel is the green/yellow/red LED set.
type Panel struct {
	Green, Yellow, Red *LED
	Cue                CueTiming
}

// NewPanel wraps three lines.
func NewPanel(green, yellow, red Line) *Panel {
	return &Panel{
		Green:  NewLED(green),
		Yellow: NewLED(yellow),
		Red:    NewLED(red),
		Cue:    DefaultCue,
	}
}

func (p *Panel) all() []*LED { return []*LED{p.Green, p.Yellow, p.Red} }

// AllOn lights every LED.
func (p *Panel) AllOn() {
	for _, l := range p.all() {
		l.On()
	}
}

// AllOff darkens every LED.
func (p *Panel) AllOff() {
	for _, l := range p.all() {
		l.Off()
	}
}

// AllBlink blinks every LED with the same pattern.
func (p *Panel) AllBlink(on, off time.Duration) {
	for _, l := range p.all() {
		l.Blink(on, off)
	}
}

// ShowFix sets the green LED to the pattern of fix.
func (p *Panel) ShowFix(fix core.FixClass, known bool) {
	b, ok := FixPatterns[fix]
	if !ok || !known {
		b = unknownFix
	}
	if b.Off == 0 {
		p.Green.On()
		return
	}
	p.Green.Blink(b.On, b.Off)
}

// ShowProfile lights the LED for a profile index: 0 green, 1 yellow,
// 2 red. Higher indices wrap.
func (p *Panel) ShowProfile(idx int) {
	leds := p.all()
	for i, l := range leds {
		if i == idx%len(leds) {
			l.On()
		} else {
			l.Off()
		}
	}
}

// Standby shows the armed state.
func (p *Panel) Standby() {
	p.Yellow.On()
	p.Red.Off()
}

// Capturing shows that frames are being taken.
func (p *Panel) Capturing(on bool) {
	if on {
		p.Red.On()
	} else {
		p.Red.Off()
	}
}

// Error shows a configuration or fatal error.
func (p *Panel) Error() {
	p.Green.Off()
	p.Yellow.Off()
	p.Red.Blink(100*time.Millisecond, 100*time.Millisecond)
}

// Countdown plays the calibration cue and returns when the frame should be
// taken, leaving every LED lit. It returns early with ctx's error.
func (p *Panel) Countdown(ctx context.Context) error {
	p.AllOff()
	for _, l := range p.all() {
		l.On()
		if err := sleep(ctx, p.Cue.Step); err != nil {
			return err
		}
	}
	half := p.Cue.Step
	p.AllBlink(half, half)
	if err := sleep(ctx, p.Cue.Blink); err != nil {
		return err
	}
	p.AllOn()
	return sleep(ctx, p.Cue.Solid)
}

// Close turns everything off and stops blinking.
func (p *Panel) Close() {
	for _, l := range p.all() {
		l.Close()
	}
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
