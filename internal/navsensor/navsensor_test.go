package navsensor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sio-stoke/stoke/pkg/core"
)

// fakePort answers each request with whatever respond returns.
type fakePort struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	respond func(req string) []string

	mu       sync.Mutex
	requests []string
}

func newFakePort(respond func(req string) []string) *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w, respond: respond}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	req := strings.TrimRight(string(b), "\r\n")
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	lines := p.respond(req)
	go func() {
		for _, l := range lines {
			_, _ = p.w.Write([]byte(l + "\r\n"))
		}
	}()
	return len(b), nil
}

func (p *fakePort) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

func (p *fakePort) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

type counterClock struct{ n atomic.Int64 }

func (c *counterClock) NowNs() int64 { return c.n.Add(1000) }

func withChecksum(payload string) string {
	return fmt.Sprintf("$%s*%02X", payload, checksum(payload))
}

func solutionReply(fix int) string {
	return withChecksum(fmt.Sprintf("VNRRG,58,342000.250000,2345,%d,11,+32.86700000,-117.25700000,+012.500,+0.010,-0.020,+0.000,1.2,1.3,2.0,0.1,2.5E-08", fix))
}

func TestChecksumAndFrame(t *testing.T) {
	assert.Equal(t, byte(0x7E), checksum("VNRRG,58"))
	assert.Equal(t, "$VNRRG,58*7E\r\n", string(frame("VNRRG,58")))
}

func TestParseSentence(t *testing.T) {
	s, err := parseSentence(withChecksum("VNWRG,06,0") + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, "VNWRG", s.header)
	id, ok := s.register()
	assert.True(t, ok)
	assert.Equal(t, 6, id)

	_, err = parseSentence("$VNRRG,58,1,2*00")
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = parseSentence("$VNRRG,58,1,2*XX")
	assert.NoError(t, err)

	_, err = parseSentence("garbage")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = parseSentence(withChecksum("VNERR,03"))
	assert.ErrorIs(t, err, ErrSensor)
}

func TestGPSToUTC(t *testing.T) {
	// week 2345 starts Sunday 2024-12-15; tow 342000.25 s is Wednesday 23:00:00.25 GPS
	got := GPSToUTC(2345, 342000.25)
	want := time.Date(2024, 12, 18, 22, 59, 42, 250_000_000, time.UTC)
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestSolution_ParsesRegister58(t *testing.T) {
	port := newFakePort(func(req string) []string {
		return []string{solutionReply(3)}
	})
	v := NewVN200(port, &counterClock{})
	defer v.Close()

	sol, err := v.Solution(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.Fix3D, sol.Fix)
	assert.Equal(t, 11, sol.NumSats)
	assert.Equal(t, uint16(2345), sol.Week)
	assert.InDelta(t, 32.867, sol.Position.Y, 1e-9)
	assert.InDelta(t, -117.257, sol.Position.X, 1e-9)
	assert.InDelta(t, 12.5, sol.Position.Z, 1e-9)
	assert.InDelta(t, -0.02, sol.VelocityNED[1], 1e-9)
	assert.Positive(t, sol.MonotonicNs)
	assert.Equal(t, GPSToUTC(2345, 342000.25), sol.Time)
	assert.Equal(t, []string{"$VNRRG,58*7E"}, port.sent())
}

func TestSolution_SkipsAsyncOutput(t *testing.T) {
	port := newFakePort(func(req string) []string {
		return []string{
			withChecksum("VNINS,342000.0,2345,0000,+000.000,+000.000,+000.000"),
			"noise",
			solutionReply(2),
		}
	})
	v := NewVN200(port, &counterClock{})
	defer v.Close()

	fix, err := v.FixQuality(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Fix2D, fix)
}

func TestSolution_SensorError(t *testing.T) {
	port := newFakePort(func(req string) []string {
		return []string{withChecksum("VNERR,06")}
	})
	v := NewVN200(port, &counterClock{})
	defer v.Close()

	_, err := v.Solution(context.Background())
	assert.ErrorIs(t, err, ErrSensor)
}

func TestSolution_BadChecksum(t *testing.T) {
	port := newFakePort(func(req string) []string {
		return []string{"$VNRRG,58,1,2,3,4,5,6,7*00"}
	})
	v := NewVN200(port, &counterClock{})
	defer v.Close()

	_, err := v.Solution(context.Background())
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestSolution_TimesOut(t *testing.T) {
	port := newFakePort(func(req string) []string { return nil })
	v := NewVN200(port, &counterClock{})
	v.RequestTimeout = 20 * time.Millisecond
	defer v.Close()

	_, _, err := v.AbsoluteTime(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisableAsync(t *testing.T) {
	port := newFakePort(func(req string) []string {
		if strings.HasPrefix(req, "$VNWRG,06,0") {
			return []string{withChecksum("VNWRG,06,0")}
		}
		return nil
	})
	v := NewVN200(port, &counterClock{})
	defer v.Close()

	require.NoError(t, v.DisableAsync(context.Background()))
	assert.Equal(t, []string{strings.TrimSpace(string(frame("VNWRG,06,0")))}, port.sent())
}

func TestClose_FailsPendingRequests(t *testing.T) {
	port := newFakePort(func(req string) []string { return nil })
	v := NewVN200(port, &counterClock{})
	v.RequestTimeout = 0
	require.NoError(t, v.Close())

	_, err := v.Solution(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
