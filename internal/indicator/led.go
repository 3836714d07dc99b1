// Package indicator drives the rig's three status LEDs.
package indicator

import (
	"sync"
	"time"
)

// Line is a digital output.
type Line interface {
	Out(high bool) error
}

// LED is one light. Blinking runs on its own goroutine until the next call
// to On, Off, Blink or Close.
type LED struct {
	line Line

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewLED wraps line and turns it off.
func NewLED(line Line) *LED {
	l := &LED{line: line}
	_ = line.Out(false)
	return l
}

// On lights the LED.
func (l *LED) On() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()
	_ = l.line.Out(true)
}

// Off darkens the LED.
func (l *LED) Off() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()
	_ = l.line.Out(false)
}

// Blink toggles the LED on for on and off for off, starting lit.
func (l *LED) Blink(on, off time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	l.stop, l.done = stop, done

	go func() {
		defer close(done)
		for {
			_ = l.line.Out(true)
			if !wait(stop, on) {
				return
			}
			_ = l.line.Out(false)
			if !wait(stop, off) {
				return
			}
		}
	}()
}

// Close stops blinking and turns the LED off.
func (l *LED) Close() {
	l.Off()
}

func (l *LED) stopBlinkLocked() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
}

func wait(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
