package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameName(t *testing.T) {
	assert.Equal(t, "0_123456789_00001.jpg", FrameName("0_", 123456789, 1, "jpg"))
	assert.Equal(t, "1_42_00317.png", FrameName("1_", 42, 317, ".png"))
	assert.Equal(t, "cam0/0_7_123456.jpg", FrameName("cam0/0_", 7, 123456, "jpg"))
}

func TestParseFrameName_RoundTrip(t *testing.T) {
	name := FrameName("cam1/1_", 1734562782250000000, 12, "jpg")

	f, err := ParseFrameName(name)
	require.NoError(t, err)
	assert.Equal(t, "1_", f.Prefix)
	assert.Equal(t, int64(1734562782250000000), f.Timestamp)
	assert.Equal(t, 12, f.Sequence)
	assert.Equal(t, "jpg", f.Ext)
	assert.Equal(t, "1_1734562782250000000_00012.jpg", f.Name)
}

func TestParseFrameName_PrefixWithUnderscores(t *testing.T) {
	f, err := ParseFrameName("left_cam_0_99_00003.tiff")
	require.NoError(t, err)
	assert.Equal(t, "left_cam_0_", f.Prefix)
	assert.Equal(t, int64(99), f.Timestamp)
	assert.Equal(t, 3, f.Sequence)
}

func TestParseFrameName_Rejects(t *testing.T) {
	for _, name := range []string{
		"status.txt",
		"0_123_1.jpg",
		"0_123_00000.jpg",
		"0_abc_00001.jpg",
		"0__00001.jpg",
		"0_123_00001",
		"0_123_00001.",
		"manifest.json.gz",
	} {
		_, err := ParseFrameName(name)
		assert.ErrorIs(t, err, ErrNotFrameName, name)
	}
}

func TestPairFiles(t *testing.T) {
	parse := func(names ...string) []FrameFile {
		var out []FrameFile
		for _, n := range names {
			f, err := ParseFrameName(n)
			require.NoError(t, err)
			out = append(out, f)
		}
		return out
	}

	pairs := PairFiles(
		parse("0_100_00001.jpg", "0_300_00003.jpg", "0_900_00001.jpg", "0_400_00004.jpg", "0_500_00005.jpg"),
		parse("1_100_00001.jpg", "1_300_00003.jpg", "1_900_00001.jpg", "1_401_00004.jpg"),
	)

	require.Len(t, pairs, 5)
	assert.True(t, pairs[0].Matched())
	assert.Equal(t, int64(100), pairs[0].Files[0].Timestamp)
	assert.True(t, pairs[1].Matched())
	assert.Equal(t, int64(900), pairs[1].Files[0].Timestamp)
	assert.Equal(t, 3, pairs[2].Sequence)
	assert.True(t, pairs[2].Matched())

	// same index, different timestamps: one complete pair that does not match
	assert.Equal(t, 4, pairs[3].Sequence)
	assert.True(t, pairs[3].Complete())
	assert.False(t, pairs[3].Matched())
	assert.Equal(t, int64(400), pairs[3].Files[0].Timestamp)
	assert.Equal(t, int64(401), pairs[3].Files[1].Timestamp)

	assert.Equal(t, 5, pairs[4].Sequence)
	assert.False(t, pairs[4].Complete())
	assert.Nil(t, pairs[4].Files[1])
}

func TestPairFiles_ExactTimestampsPairFirst(t *testing.T) {
	f := func(name string) FrameFile {
		ff, err := ParseFrameName(name)
		require.NoError(t, err)
		return ff
	}

	// second burst lost its cam1 frame; the first burst still pairs exactly
	pairs := PairFiles(
		[]FrameFile{f("0_100_00001.jpg"), f("0_900_00001.jpg")},
		[]FrameFile{f("1_900_00001.jpg")},
	)

	require.Len(t, pairs, 2)
	assert.False(t, pairs[0].Complete())
	assert.Equal(t, int64(100), pairs[0].Files[0].Timestamp)
	assert.True(t, pairs[1].Matched())
	assert.Equal(t, int64(900), pairs[1].Files[1].Timestamp)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	for _, d := range SensorDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}
	touch := func(rel string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte{0xff}, 0o644))
	}
	touch(filepath.Join("cam0", FrameName("0_", 10, 1, "jpg")))
	touch(filepath.Join("cam1", FrameName("1_", 10, 1, "jpg")))
	touch(filepath.Join("cam0", FrameName("0_", 20, 2, "jpg")))
	touch(filepath.Join("cam0", FrameName("0_", 30, 3, "jpg")))
	touch(filepath.Join("cam1", FrameName("1_", 31, 3, "jpg")))
	touch(filepath.Join("cam1", "notes.txt"))

	rep, err := Verify(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pairs)
	require.Len(t, rep.Unpaired, 2)
	assert.Equal(t, 2, rep.Unpaired[0].Sequence)
	assert.NotNil(t, rep.Unpaired[0].Files[0])
	assert.Nil(t, rep.Unpaired[0].Files[1])
	assert.Equal(t, 3, rep.Unpaired[1].Sequence)
	assert.True(t, rep.Unpaired[1].Complete())
	assert.False(t, rep.Unpaired[1].Matched())
	assert.Equal(t, []string{filepath.Join("cam1", "notes.txt")}, rep.Skipped)
	assert.False(t, rep.OK())
}

func TestVerify_MissingSensorDir(t *testing.T) {
	_, err := Verify(t.TempDir())
	assert.Error(t, err)
}
