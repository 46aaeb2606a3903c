package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFrame = Frame{Duration: 5, Width: 1920, Height: 1080, FPS: 30}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		intensity Intensity
		wantErr   error
	}{
		{"none without intensity", None, "", nil},
		{"none with garbage intensity", None, "wild", nil},
		{"zoom moderate", ZoomIn, Moderate, nil},
		{"circular strong", Circular, Strong, nil},
		{"unknown type", "spin", Moderate, ErrInvalidType},
		{"empty type", "", Moderate, ErrInvalidType},
		{"missing intensity", PanLeft, "", ErrInvalidIntensity},
		{"unknown intensity", Diagonal, "extreme", ErrInvalidIntensity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.typ, tt.intensity)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestGenerateNoneIsEmpty(t *testing.T) {
	for _, i := range append(Intensities(), "") {
		chain, err := Generate(None, i, testFrame)
		require.NoError(t, err)
		assert.Empty(t, chain.String(), "intensity %q", i)
	}
}

func TestGenerateAllCombinationsWellFormed(t *testing.T) {
	for _, typ := range Types() {
		if typ == None {
			continue
		}
		for _, i := range Intensities() {
			t.Run(string(typ)+"/"+string(i), func(t *testing.T) {
				require.NoError(t, Validate(typ, i))

				chain, err := Generate(typ, i, testFrame)
				require.NoError(t, err)

				s := chain.String()
				assert.NotEmpty(t, s)
				assert.True(t, strings.HasPrefix(s, "scale=w="), s)
				assert.Zero(t, strings.Count(s, "'")%2, "unbalanced quotes in %s", s)
				assert.Equal(t, strings.Count(s, "("), strings.Count(s, ")"), s)
				assert.NotContains(t, s, "NaN")
				assert.NotContains(t, s, "Inf")
			})
		}
	}
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	_, err := Generate("wobble", Moderate, testFrame)
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = Generate(ZoomIn, Moderate, Frame{Duration: 0, Width: 1920, Height: 1080})
	assert.Error(t, err)

	_, err = Generate(ZoomIn, Moderate, Frame{Duration: 5, Width: 0, Height: 1080})
	assert.Error(t, err)
}

func TestGenerateZoomIn(t *testing.T) {
	chain, err := Generate(ZoomIn, Moderate, testFrame)
	require.NoError(t, err)
	require.Equal(t, []string{"scale", "zoompan"}, chain.Names())

	assert.Equal(t, "scale=w=2304:h=1296", chain[0].String())

	z, ok := chain[1].Get("z")
	require.True(t, ok)
	assert.Equal(t, "'1+0.2*(1-cos(PI*min(on/30/5,1)))/2'", z)

	s, _ := chain[1].Get("s")
	assert.Equal(t, "1920x1080", s)
	fps, _ := chain[1].Get("fps")
	assert.Equal(t, "30", fps)
}

func TestGenerateIntensityScalesAmplitude(t *testing.T) {
	subtle, err := Generate(PanRight, Subtle, testFrame)
	require.NoError(t, err)
	strong, err := Generate(PanRight, Strong, testFrame)
	require.NoError(t, err)

	// 1920 * (1 + 0.2*0.6) = 2150.4 -> 2150; 1920 * (1 + 0.2*1.4) = 2457.6 -> 2458
	assert.Equal(t, "scale=w=2150:h=1210", subtle[0].String())
	assert.Equal(t, "scale=w=2458:h=1382", strong[0].String())

	slow, err := Generate(SlowZoom, Moderate, testFrame)
	require.NoError(t, err)
	assert.Equal(t, "scale=w=2112:h=1188", slow[0].String())
}

func TestGeneratePanDirection(t *testing.T) {
	left, err := Generate(PanLeft, Moderate, testFrame)
	require.NoError(t, err)
	right, err := Generate(PanRight, Moderate, testFrame)
	require.NoError(t, err)

	lx, _ := left[1].Get("x")
	rx, _ := right[1].Get("x")
	assert.True(t, strings.HasPrefix(lx, "'(iw-ow)*(1-"), lx)
	assert.True(t, strings.HasPrefix(rx, "'(iw-ow)*(1-cos("), rx)

	w, _ := left[1].Get("w")
	assert.Equal(t, "1920", w)
	y, _ := left[1].Get("y")
	assert.Equal(t, "'(ih-oh)/2'", y)
}

func TestEase(t *testing.T) {
	for _, i := range Intensities() {
		t.Run(string(i), func(t *testing.T) {
			assert.InDelta(t, 0, Ease(i, 0), 1e-9)
			assert.InDelta(t, 1, Ease(i, 1), 1e-9)
			assert.InDelta(t, 1, Ease(i, 3), 1e-9, "progress is clamped")

			prev := Ease(i, 0)
			for step := 1; step <= 100; step++ {
				cur := Ease(i, float64(step)/100)
				assert.GreaterOrEqual(t, cur, prev)
				prev = cur
			}
		})
	}

	assert.InDelta(t, 0.5, Ease(Moderate, 0.5), 1e-9)
	assert.InDelta(t, 0.5, Ease(Strong, 0.5), 1e-9)
}

func TestMultiplier(t *testing.T) {
	assert.Equal(t, 0.6, Multiplier(Subtle))
	assert.Equal(t, 1.0, Multiplier(Moderate))
	assert.Equal(t, 1.4, Multiplier(Strong))
	assert.Zero(t, Multiplier("unknown"))
}

func TestSettingsEnabled(t *testing.T) {
	assert.False(t, Settings{}.Enabled())
	assert.False(t, Settings{Type: None, Intensity: Strong}.Enabled())
	assert.True(t, Settings{Type: Circular, Intensity: Subtle}.Enabled())
}
