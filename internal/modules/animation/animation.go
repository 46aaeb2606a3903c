// Package animation generates camera-motion (Ken Burns) filters for still
// images: eased zooms, pans and combined pan+zoom moves.
package animation

import (
	"errors"
	"fmt"
	"math"

	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
)

// Type selects the camera motion.
type Type string

const (
	None     Type = "none"
	ZoomIn   Type = "zoom_in"
	PanLeft  Type = "pan_left"
	PanRight Type = "pan_right"
	Diagonal Type = "diagonal"
	SlowZoom Type = "slow_zoom"
	Circular Type = "circular"
)

// Intensity scales the motion amplitude and selects the easing curve.
type Intensity string

const (
	Subtle   Intensity = "subtle"
	Moderate Intensity = "moderate"
	Strong   Intensity = "strong"
)

var (
	ErrInvalidType      = errors.New("invalid animation type")
	ErrInvalidIntensity = errors.New("invalid animation intensity")
)

// Settings is the animation part of a run's settings.
type Settings struct {
	Type      Type      `json:"type" yaml:"type"`
	Intensity Intensity `json:"intensity" yaml:"intensity"`
}

// Enabled reports whether the settings produce any motion.
func (s Settings) Enabled() bool {
	return s.Type != "" && s.Type != None
}

// Types lists every supported animation type.
func Types() []Type {
	return []Type{None, ZoomIn, PanLeft, PanRight, Diagonal, SlowZoom, Circular}
}

// Intensities lists every supported intensity.
func Intensities() []Intensity {
	return []Intensity{Subtle, Moderate, Strong}
}

// Validate checks a (type, intensity) pair. The no-op type accepts any
// intensity, including none at all.
func Validate(t Type, i Intensity) error {
	switch t {
	case None:
		return nil
	case ZoomIn, PanLeft, PanRight, Diagonal, SlowZoom, Circular:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}

	if _, ok := multipliers[i]; !ok {
		return fmt.Errorf("%w: %q for %s", ErrInvalidIntensity, i, t)
	}
	return nil
}

var multipliers = map[Intensity]float64{
	Subtle:   0.6,
	Moderate: 1.0,
	Strong:   1.4,
}

// Multiplier returns the motion magnitude multiplier for an intensity.
func Multiplier(i Intensity) float64 {
	return multipliers[i]
}

// baseZoom is the extra scale applied at moderate intensity.
const baseZoom = 0.2

// Ease evaluates the intensity's easing curve at p in [0,1].
func Ease(i Intensity, p float64) float64 {
	p = math.Max(0, math.Min(p, 1))
	switch i {
	case Subtle:
		return math.Sin(p * math.Pi / 2)
	case Strong:
		if p < 0.5 {
			return 4 * p * p * p
		}
		return 1 - math.Pow(-2*p+2, 3)/2
	default:
		return (1 - math.Cos(math.Pi*p)) / 2
	}
}

// EaseExpr is Ease as an ffmpeg expression over the progress expression p.
func EaseExpr(i Intensity, p fg.Expr) fg.Expr {
	switch i {
	case Subtle:
		return fg.Sin(fg.Div(fg.Mul(p, fg.PI), fg.Two))
	case Strong:
		return fg.If(fg.Lt(p, fg.Half),
			fg.Mul(fg.Num(4), fg.Pow(p, fg.Num(3))),
			fg.Sub(fg.One, fg.Div(fg.Pow(fg.Add(fg.Mul(fg.Num(-2), p), fg.Two), fg.Num(3)), fg.Two)),
		)
	default:
		return fg.Div(fg.Sub(fg.One, fg.Cos(fg.Mul(fg.PI, p))), fg.Two)
	}
}

// Frame describes the target the motion is rendered against.
type Frame struct {
	Duration float64 // scene duration in seconds
	Width    int
	Height   int
	FPS      int
}

// Generate builds the motion filter chain for a scene. The chain expects a
// Width x Height input and produces a Width x Height output. The no-op type
// yields an empty chain.
func Generate(t Type, i Intensity, frame Frame) (fg.Chain, error) {
	if err := Validate(t, i); err != nil {
		return nil, err
	}
	if t == None {
		return nil, nil
	}
	if frame.Duration <= 0 {
		return nil, fmt.Errorf("animation duration must be positive, got %v", frame.Duration)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("animation frame size must be positive, got %dx%d", frame.Width, frame.Height)
	}
	if frame.FPS <= 0 {
		frame.FPS = 30
	}

	amp := amplitude(baseZoom * Multiplier(i))
	g := generator{intensity: i, frame: frame}

	switch t {
	case ZoomIn:
		return g.zoom(amp), nil
	case SlowZoom:
		return g.zoom(amplitude(amp / 2)), nil
	case PanLeft:
		return g.pan(amp, true), nil
	case PanRight:
		return g.pan(amp, false), nil
	case Diagonal:
		return g.diagonal(amp), nil
	default:
		return g.circular(amp), nil
	}
}

// amplitude rounds the extra zoom so rendered expressions stay short.
func amplitude(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

type generator struct {
	intensity Intensity
	frame     Frame
}

// progress is min(t/D, 1) over the given time expression.
func (g generator) progress(t fg.Expr) fg.Expr {
	return fg.Min(fg.Div(t, fg.Num(g.frame.Duration)), fg.One)
}

// cropEase is the eased progress inside crop, where t is the frame timestamp.
func (g generator) cropEase() fg.Expr {
	return EaseExpr(g.intensity, g.progress(fg.T))
}

// zoompanEase is the eased progress inside zoompan, which counts output frames.
func (g generator) zoompanEase() fg.Expr {
	return EaseExpr(g.intensity, g.progress(fg.Div(fg.Var("on"), fg.Num(float64(g.frame.FPS)))))
}

// upscale enlarges the input by 1+amp, keeping dimensions even.
func (g generator) upscale(amp float64) fg.Filter {
	return fg.New("scale").
		Set("w", even(float64(g.frame.Width)*(1+amp))).
		Set("h", even(float64(g.frame.Height)*(1+amp)))
}

func (g generator) size() string {
	return fmt.Sprintf("%dx%d", g.frame.Width, g.frame.Height)
}

// zoom pushes in from the full frame to the centered window.
func (g generator) zoom(amp float64) fg.Chain {
	zoom := fg.Add(fg.One, fg.Mul(fg.Num(amp), g.zoompanEase()))
	zoomVar := fg.Var("zoom")
	return fg.Chain{
		g.upscale(amp),
		fg.New("zoompan").
			Set("z", zoom).
			Set("x", fg.Sub(fg.Div(fg.InW, fg.Two), fg.Div(fg.Div(fg.InW, zoomVar), fg.Two))).
			Set("y", fg.Sub(fg.Div(fg.InH, fg.Two), fg.Div(fg.Div(fg.InH, zoomVar), fg.Two))).
			Set("d", 1).
			Set("s", g.size()).
			Set("fps", g.frame.FPS),
	}
}

// pan slides a fixed window horizontally across the upscaled image.
func (g generator) pan(amp float64, leftward bool) fg.Chain {
	e := g.cropEase()
	travel := e
	if leftward {
		travel = fg.Sub(fg.One, e)
	}
	return fg.Chain{
		g.upscale(amp),
		fg.New("crop").
			Set("w", g.frame.Width).
			Set("h", g.frame.Height).
			Set("x", fg.Mul(fg.Sub(fg.InW, fg.OutW), travel)).
			Set("y", fg.Div(fg.Sub(fg.InH, fg.OutH), fg.Two)),
	}
}

// diagonal zooms in while drifting from the top-left to the bottom-right.
func (g generator) diagonal(amp float64) fg.Chain {
	e := g.zoompanEase()
	zoomVar := fg.Var("zoom")
	return fg.Chain{
		g.upscale(amp),
		fg.New("zoompan").
			Set("z", fg.Add(fg.One, fg.Mul(fg.Num(amp), e))).
			Set("x", fg.Mul(fg.Sub(fg.InW, fg.Div(fg.InW, zoomVar)), e)).
			Set("y", fg.Mul(fg.Sub(fg.InH, fg.Div(fg.InH, zoomVar)), e)).
			Set("d", 1).
			Set("s", g.size()).
			Set("fps", g.frame.FPS),
	}
}

// circular moves the window once around an ellipse inside the slack area.
func (g generator) circular(amp float64) fg.Chain {
	angle := fg.Mul(fg.Mul(fg.Two, fg.PI), g.cropEase())
	radius := fg.Num(0.4)
	return fg.Chain{
		g.upscale(amp),
		fg.New("crop").
			Set("w", g.frame.Width).
			Set("h", g.frame.Height).
			Set("x", fg.Mul(fg.Sub(fg.InW, fg.OutW), fg.Add(fg.Half, fg.Mul(radius, fg.Cos(angle))))).
			Set("y", fg.Mul(fg.Sub(fg.InH, fg.OutH), fg.Add(fg.Half, fg.Mul(radius, fg.Sin(angle))))),
	}
}

func even(v float64) int {
	n := int(math.Round(v))
	if n%2 != 0 {
		n++
	}
	return n
}
