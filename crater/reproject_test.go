package crater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProjector maps sample/line linearly onto long/lat with a fixed pixel
// scale and fails for the listed samples.
type fakeProjector struct {
	scale float64
	fail  map[float64]bool

	mu    sync.Mutex
	calls int
}

func (f *fakeProjector) Project(_ context.Context, sample, line float64) (Projection, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[sample] {
		return Projection{}, fmt.Errorf("no intersection at sample %v", sample)
	}
	return Projection{
		Long:           30 + sample*1e-5,
		Lat:            20 + line*1e-5,
		LatPixelScale:  f.scale,
		LongPixelScale: f.scale,
	}, nil
}

func TestReadPixelMarkings(t *testing.T) {
	input := "x_pix,y_pix,radius_pix,angle,user\n100,200,5,30,7\n"
	px, err := ReadPixelMarkings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, px, 1)
	assert.Equal(t, 100.0, px[0].Sample)
	assert.Equal(t, 200.0, px[0].Line)
	assert.Equal(t, 5.0, px[0].Radius)
	assert.Equal(t, 30.0, px[0].Attrs.Angle)
	assert.Equal(t, int64(7), px[0].Attrs.User)
}

func TestReprojectAll(t *testing.T) {
	pixels := make([]PixelMarking, 50)
	for i := range pixels {
		pixels[i] = PixelMarking{Sample: float64(i), Line: float64(2 * i), Radius: 10, Attrs: Marking{User: int64(i)}}
	}
	pixels[3].Radius = 29 // 29 px * 0.5 m = 14.5 m

	proj := &fakeProjector{scale: 0.5}
	out, err := ReprojectAll(context.Background(), pixels, proj, 4)
	require.NoError(t, err)
	require.Len(t, out, 50)
	assert.Equal(t, 50, proj.calls)
	for i, m := range out {
		assert.Equal(t, int64(i), m.User, "input order is kept")
		assert.InDelta(t, 30+float64(i)*1e-5, m.Long, 1e-12)
		assert.InDelta(t, 20+float64(2*i)*1e-5, m.Lat, 1e-12)
	}
	assert.Equal(t, 5.0, out[0].Radius)
	assert.False(t, out[0].MinSize)
	assert.True(t, out[3].MinSize)
}

func TestReprojectAll_PartialFailure(t *testing.T) {
	pixels := []PixelMarking{
		{Sample: 1, Line: 1, Radius: 10},
		{Sample: 2, Line: 1, Radius: 10},
		{Sample: 3, Line: 1, Radius: 10},
	}
	proj := &fakeProjector{scale: 1, fail: map[float64]bool{2: true}}
	out, err := ReprojectAll(context.Background(), pixels, proj, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExternalTool))

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.Failed)
	assert.Contains(t, toolErr.Error(), "no intersection")

	require.Len(t, out, 2, "failed markings are omitted, never zero-filled")
	assert.InDelta(t, 30+1e-5, out[0].Long, 1e-12)
	assert.InDelta(t, 30+3e-5, out[1].Long, 1e-12)
}

func TestReprojectAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pixels := []PixelMarking{{Sample: 1, Line: 1, Radius: 10}}
	out, err := ReprojectAll(ctx, pixels, &CamptProjector{Cube: "x.cub", Bin: "campt-not-installed"}, 1)
	assert.Empty(t, out)
	assert.True(t, errors.Is(err, ErrExternalTool))
}

func TestParseCamptFlat(t *testing.T) {
	header := strings.Repeat("h,", 19) + "h\n"
	cols := make([]string, 20)
	for i := range cols {
		cols[i] = "0"
	}
	cols[camptLatCol] = "20.25"
	cols[camptLongCol] = "30.75"
	cols[camptLatPixelScaleCol] = "0.49"
	cols[camptLongPixelScaleCol] = "0.51"
	got, err := parseCamptFlat([]byte(header + strings.Join(cols, ",") + "\n"))
	require.NoError(t, err)
	assert.Equal(t, Projection{Lat: 20.25, Long: 30.75, LatPixelScale: 0.49, LongPixelScale: 0.51}, got)

	_, err = parseCamptFlat([]byte(header))
	assert.Error(t, err, "no data row")
	_, err = parseCamptFlat([]byte(header + "1,2,3\n"))
	assert.Error(t, err, "too few columns")
}

// writeFakeCampt installs a shell script that writes a flat campt row whose
// latitude echoes the line argument and longitude the sample argument.
func writeFakeCampt(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	script := `#!/bin/sh
for arg in "$@"; do
  case "$arg" in
    to=*) out="${arg#to=}" ;;
    line=*) line="${arg#line=}" ;;
    sample=*) sample="${arg#sample=}" ;;
  esac
done
echo "c0,c1,c2,c3,c4,c5,c6,lat,c8,long,c10,c11,c12,c13,c14,c15,latscale,longscale" > "$out"
echo "0,0,0,0,0,0,0,$line,0,$sample,0,0,0,0,0,0,0.5,0.5" >> "$out"
`
	path := filepath.Join(t.TempDir(), "campt")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestCamptProjector(t *testing.T) {
	bin := writeFakeCampt(t)

	p := &CamptProjector{Bin: bin, Cube: "M104311715RE.cub"}
	got, err := p.Project(context.Background(), 12.5, 40)
	require.NoError(t, err)
	assert.Equal(t, Projection{Lat: 40, Long: 12.5, LatPixelScale: 0.5, LongPixelScale: 0.5}, got)

	t.Run("flip width mirrors samples", func(t *testing.T) {
		p := &CamptProjector{Bin: bin, Cube: "M104311715RE.cub", FlipWidth: 100}
		got, err := p.Project(context.Background(), 12.5, 40)
		require.NoError(t, err)
		assert.Equal(t, 87.5, got.Long)
	})

	t.Run("missing cube", func(t *testing.T) {
		_, err := (&CamptProjector{Bin: bin}).Project(context.Background(), 1, 1)
		assert.Error(t, err)
	})

	t.Run("tool failure", func(t *testing.T) {
		_, err := (&CamptProjector{Bin: filepath.Join(t.TempDir(), "missing"), Cube: "x.cub"}).Project(context.Background(), 1, 1)
		assert.Error(t, err)
	})
}
