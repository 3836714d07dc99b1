// Package navsensor talks to the VectorNav VN-200 GNSS/INS over its ASCII
// serial protocol. It is the rig's absolute time reference.
package navsensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/pkg/core"
)

const (
	regAsyncOutput = 6
	regGnssSolLla  = 58

	defaultRequestTimeout = time.Second
)

// ErrClosed is returned by requests made after the port has closed.
var ErrClosed = errors.New("navsensor: connection closed")

// Reference is the absolute time and position source the rig synchronizes
// against.
type Reference interface {
	FixQuality(ctx context.Context) (core.FixClass, error)
	// AbsoluteTime returns UTC paired with the local monotonic reading
	// taken when the reply arrived.
	AbsoluteTime(ctx context.Context) (time.Time, int64, error)
	Solution(ctx context.Context) (Solution, error)
	Close() error
}

// Solution is one GNSS solution register read.
type Solution struct {
	Time        time.Time
	MonotonicNs int64
	Week        uint16
	TimeOfWeek  float64
	Fix         core.FixClass
	NumSats     int
	Position    core.Position3D
	VelocityNED [3]float64
}

// Sample converts the solution into a telemetry record.
func (s Solution) Sample(sessionUUID string) core.NavSample {
	return core.NavSample{
		SessionUUID: sessionUUID,
		Time:        s.Time,
		MonotonicNs: s.MonotonicNs,
		Fix:         s.Fix,
		NumSats:     s.NumSats,
		Position:    s.Position,
	}
}

type line struct {
	text string
	at   int64
}

// VN200 is a Reference on any byte stream speaking the VN ASCII protocol.
type VN200 struct {
	rw    io.ReadWriteCloser
	clock clock.Clock
	lines chan line

	// RequestTimeout bounds each register read when ctx has no earlier deadline.
	RequestTimeout time.Duration

	mu        sync.Mutex // one request in flight
	closeOnce sync.Once
	readErr   error
	done      chan struct{}
}

// NewVN200 starts reading rw. Lines are stamped with clk as they arrive.
func NewVN200(rw io.ReadWriteCloser, clk clock.Clock) *VN200 {
	v := &VN200{
		rw:             rw,
		clock:          clk,
		lines:          make(chan line, 32),
		done:           make(chan struct{}),
		RequestTimeout: defaultRequestTimeout,
	}
	go v.readLoop()
	return v
}

func (v *VN200) readLoop() {
	defer close(v.done)
	defer close(v.lines)

	sc := bufio.NewScanner(v.rw)
	for sc.Scan() {
		l := line{text: sc.Text(), at: v.clock.NowNs()}
		select {
		case v.lines <- l:
		default:
			// nobody is waiting for streaming output; drop it
		}
	}
	v.readErr = sc.Err()
}

// DisableAsync stops the sensor's streaming output so register replies are
// not interleaved with it.
func (v *VN200) DisableAsync(ctx context.Context) error {
	_, err := v.request(ctx, fmt.Sprintf("VNWRG,%02d,0", regAsyncOutput), regAsyncOutput)
	if err != nil {
		return fmt.Errorf("disabling async output: %w", err)
	}
	return nil
}

// FixQuality reads the current GNSS fix class.
func (v *VN200) FixQuality(ctx context.Context) (core.FixClass, error) {
	sol, err := v.Solution(ctx)
	if err != nil {
		return core.NoFix, err
	}
	return sol.Fix, nil
}

// AbsoluteTime reads GPS time and converts it to UTC.
func (v *VN200) AbsoluteTime(ctx context.Context) (time.Time, int64, error) {
	sol, err := v.Solution(ctx)
	if err != nil {
		return time.Time{}, 0, err
	}
	return sol.Time, sol.MonotonicNs, nil
}

// Solution reads the GNSS solution (LLA) register.
func (v *VN200) Solution(ctx context.Context) (Solution, error) {
	reply, err := v.request(ctx, fmt.Sprintf("VNRRG,%02d", regGnssSolLla), regGnssSolLla)
	if err != nil {
		return Solution{}, err
	}
	return parseSolution(reply.s.fields[1:], reply.at)
}

// Close closes the port and waits for the reader to stop.
func (v *VN200) Close() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.rw.Close()
		<-v.done
	})
	return err
}

type reply struct {
	s  sentence
	at int64
}

func (v *VN200) request(ctx context.Context, payload string, reg int) (reply, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.RequestTimeout)
		defer cancel()
	}

	// drop anything that arrived before this request
	for drained := false; !drained; {
		select {
		case _, ok := <-v.lines:
			if !ok {
				return reply{}, v.closedErr()
			}
		default:
			drained = true
		}
	}

	if _, err := v.rw.Write(frame(payload)); err != nil {
		return reply{}, fmt.Errorf("writing %s: %w", payload, err)
	}

	for {
		select {
		case <-ctx.Done():
			return reply{}, fmt.Errorf("waiting for register %d: %w", reg, ctx.Err())
		case l, ok := <-v.lines:
			if !ok {
				return reply{}, v.closedErr()
			}
			s, err := parseSentence(l.text)
			if errors.Is(err, ErrSensor) {
				return reply{}, err
			}
			if err != nil {
				if errors.Is(err, ErrChecksum) {
					return reply{}, err
				}
				continue
			}
			if id, ok := s.register(); ok && id == reg {
				return reply{s: s, at: l.at}, nil
			}
		}
	}
}

func (v *VN200) closedErr() error {
	if v.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, v.readErr)
	}
	return ErrClosed
}

func parseSolution(f []string, at int64) (Solution, error) {
	if len(f) < 7 {
		return Solution{}, fmt.Errorf("%w: solution has %d fields", ErrMalformed, len(f))
	}
	var (
		sol  = Solution{MonotonicNs: at}
		errs []error
	)
	num := func(i int) float64 {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			errs = append(errs, err)
		}
		return x
	}

	sol.TimeOfWeek = num(0)
	sol.Week = uint16(num(1))
	sol.Fix = core.FixClass(int(num(2)))
	sol.NumSats = int(num(3))
	sol.Position = core.Position3D{Y: num(4), X: num(5), Z: num(6)}
	if len(f) >= 10 {
		sol.VelocityNED = [3]float64{num(7), num(8), num(9)}
	}
	if len(errs) > 0 {
		return Solution{}, fmt.Errorf("%w: %v", ErrMalformed, errors.Join(errs...))
	}
	sol.Time = GPSToUTC(sol.Week, sol.TimeOfWeek)
	return sol, nil
}
