// Package layout owns the on-disk naming of persisted frames. Post-processing
// pairs the two sensors' files by sequence index, so the format here must not
// drift.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFrameName is returned when a file name does not follow the frame
// naming format.
var ErrNotFrameName = errors.New("not a frame file name")

// SensorDirs are the per-sensor subdirectories of a session, indexed by
// sensor id.
var SensorDirs = [2]string{"cam0", "cam1"}

// SensorFilePrefixes are prepended to every frame file name, indexed by
// sensor id.
var SensorFilePrefixes = [2]string{"0_", "1_"}

// FrameName builds "{prefix}{ts}_{seq:05}.{ext}".
func FrameName(prefix string, ts int64, seq int, ext string) string {
	return fmt.Sprintf("%s%d_%05d.%s", prefix, ts, seq, strings.TrimPrefix(ext, "."))
}

// FrameFile is a parsed frame file name.
type FrameFile struct {
	Name      string
	Prefix    string
	Timestamp int64
	Sequence  int
	Ext       string
}

// ParseFrameName splits a base name built by FrameName. The prefix is
// everything up to the timestamp; it may itself contain underscores.
func ParseFrameName(name string) (FrameFile, error) {
	base := filepath.Base(name)
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return FrameFile{}, fmt.Errorf("%w: %q", ErrNotFrameName, base)
	}
	stem, ext := base[:dot], base[dot+1:]

	us := strings.LastIndexByte(stem, '_')
	if us <= 0 {
		return FrameFile{}, fmt.Errorf("%w: %q", ErrNotFrameName, base)
	}
	seqStr := stem[us+1:]
	if len(seqStr) < 5 {
		return FrameFile{}, fmt.Errorf("%w: %q: sequence not zero-padded", ErrNotFrameName, base)
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq < 1 {
		return FrameFile{}, fmt.Errorf("%w: %q: bad sequence", ErrNotFrameName, base)
	}

	head := stem[:us]
	i := len(head)
	for i > 0 && head[i-1] >= '0' && head[i-1] <= '9' {
		i--
	}
	if i == len(head) {
		return FrameFile{}, fmt.Errorf("%w: %q: missing timestamp", ErrNotFrameName, base)
	}
	ts, err := strconv.ParseInt(head[i:], 10, 64)
	if err != nil {
		return FrameFile{}, fmt.Errorf("%w: %q: bad timestamp", ErrNotFrameName, base)
	}

	return FrameFile{
		Name:      base,
		Prefix:    head[:i],
		Timestamp: ts,
		Sequence:  seq,
		Ext:       ext,
	}, nil
}

// Pair is the two sensors' files for one sequence index. A nil side means
// the file is missing.
type Pair struct {
	Sequence int
	Files    [2]*FrameFile
}

// Complete reports whether both sides are present.
func (p Pair) Complete() bool {
	return p.Files[0] != nil && p.Files[1] != nil
}

// Matched reports whether both sides are present and carry the same
// timestamp.
func (p Pair) Matched() bool {
	return p.Complete() && p.Files[0].Timestamp == p.Files[1].Timestamp
}

// PairFiles groups parsed files of both sensors by sequence index, in
// ascending order. Every burst of a session restarts at sequence 1, so one
// index can occur once per burst: files with equal timestamps pair first,
// the rest of an index pair up in timestamp order and come out with
// Matched false, and what is left over on one side is a half pair.
func PairFiles(sensor0, sensor1 []FrameFile) []Pair {
	bySeq := make(map[int]*[2][]*FrameFile)
	add := func(side int, files []FrameFile) {
		for i := range files {
			f := &files[i]
			g, ok := bySeq[f.Sequence]
			if !ok {
				g = new([2][]*FrameFile)
				bySeq[f.Sequence] = g
			}
			g[side] = append(g[side], f)
		}
	}
	add(0, sensor0)
	add(1, sensor1)

	var out []Pair
	for seq, g := range bySeq {
		out = append(out, pairSequence(seq, g[0], g[1])...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return pairTimestamp(out[i]) < pairTimestamp(out[j])
	})
	return out
}

func pairSequence(seq int, side0, side1 []*FrameFile) []Pair {
	byTs := func(fs []*FrameFile) {
		sort.Slice(fs, func(i, j int) bool { return fs[i].Timestamp < fs[j].Timestamp })
	}
	byTs(side0)
	byTs(side1)

	var pairs []Pair
	var rest0, rest1 []*FrameFile
	used := make([]bool, len(side1))
	for _, a := range side0 {
		found := false
		for j, b := range side1 {
			if !used[j] && b.Timestamp == a.Timestamp {
				used[j] = true
				found = true
				pairs = append(pairs, Pair{Sequence: seq, Files: [2]*FrameFile{a, b}})
				break
			}
		}
		if !found {
			rest0 = append(rest0, a)
		}
	}
	for j, b := range side1 {
		if !used[j] {
			rest1 = append(rest1, b)
		}
	}

	for len(rest0) > 0 || len(rest1) > 0 {
		var p Pair
		p.Sequence = seq
		if len(rest0) > 0 {
			p.Files[0], rest0 = rest0[0], rest0[1:]
		}
		if len(rest1) > 0 {
			p.Files[1], rest1 = rest1[0], rest1[1:]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

func pairTimestamp(p Pair) int64 {
	if p.Files[0] != nil {
		return p.Files[0].Timestamp
	}
	return p.Files[1].Timestamp
}

// Report is the result of Verify.
type Report struct {
	Pairs    int
	Unpaired []Pair
	Skipped  []string
}

// OK reports whether every frame had a partner.
func (r Report) OK() bool {
	return len(r.Unpaired) == 0
}

// Verify scans the cam0/cam1 directories under sessionDir and reports
// frames whose partner is missing. Files that are not frames are listed in
// Skipped.
func Verify(sessionDir string) (Report, error) {
	var files [2][]FrameFile
	var rep Report

	for side, dir := range SensorDirs {
		entries, err := os.ReadDir(filepath.Join(sessionDir, dir))
		if err != nil {
			return rep, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			f, err := ParseFrameName(e.Name())
			if err != nil {
				rep.Skipped = append(rep.Skipped, filepath.Join(dir, e.Name()))
				continue
			}
			files[side] = append(files[side], f)
		}
	}

	for _, p := range PairFiles(files[0], files[1]) {
		if p.Matched() {
			rep.Pairs++
			continue
		}
		rep.Unpaired = append(rep.Unpaired, p)
	}
	return rep, nil
}
