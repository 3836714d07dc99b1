// Package session names and creates the per-session output directories and
// tracks which session is open.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sio-stoke/stoke/internal/layout"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Kinds of session.
const (
	KindSession     = "session"
	KindCalibration = "calib"
)

// Provider creates session directories under Root as
// {Root}/{YYYYMMDD}/{HHMMSS}_{label}/cam{0,1}/.
type Provider struct {
	Root string
	Now  func() time.Time
	Site core.Position3D
}

// NewProvider returns a provider rooted at root using the system clock.
func NewProvider(root string) *Provider {
	return &Provider{Root: root, Now: time.Now}
}

// Label returns the directory label for a session of kind using profile.
func Label(kind string, profile core.Profile) string {
	if kind == KindCalibration {
		return "calib_" + profile.Name
	}
	return profile.Name
}

// Open creates the directories of a new session and returns it. When a
// directory for the same second and label already exists, a numeric suffix
// is appended.
func (p *Provider) Open(kind string, profile core.Profile, synced bool) (*core.Session, error) {
	now := p.Now()
	label := Label(kind, profile)
	day := filepath.Join(p.Root, now.Format("20060102"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return nil, fmt.Errorf("creating day directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", now.Format("150405"), label)
	dir := filepath.Join(day, base)
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
		dir = filepath.Join(day, fmt.Sprintf("%s_%d", base, n))
	}

	s := &core.Session{
		UUID:         uuid.NewString(),
		Label:        filepath.Base(dir),
		Kind:         kind,
		Dir:          dir,
		Profile:      profile,
		StartTime:    now,
		Synced:       synced,
		SiteLocation: p.Site,
	}
	for i, sub := range layout.SensorDirs {
		sensorDir := filepath.Join(dir, sub)
		if err := os.MkdirAll(sensorDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", sub, err)
		}
		s.SensorPrefix[i] = filepath.Join(sensorDir, layout.SensorFilePrefixes[i])
	}
	return s, nil
}
