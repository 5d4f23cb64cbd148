// Package capturegen draws synthetic signature captures for writer profiles
// and drives a running service with them to measure its decisions.
package capturegen

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/okian/strokeauth/internal/domain/capture"
)

// Style is a writing style for generated signatures.
type Style string

// Supported styles. Forgery reproduces the stroke layout of a profile with a
// different hand: other shape parameters and slow, careful timing.
const (
	StyleNormal  Style = "normal"
	StyleRushed  Style = "rushed"
	StyleCareful Style = "careful"
	StyleForgery Style = "forgery"
)

// Canvas used for every generated capture.
const (
	CanvasWidth  = 400.0
	CanvasHeight = 200.0
)

const (
	minProfileStrokes = 2
	maxProfileStrokes = 3
	basePointsStroke  = 32
	baseStrokeMS      = 600.0
	basePauseMS       = 180.0
	sampleIntervalMin = 8.0
)

// styleParams describes how a style perturbs a profile.
type styleParams struct {
	speed       float64 // duration multiplier, lower is faster
	jitter      float64 // positional noise, px
	timeNoise   float64 // relative duration noise
	pressureOff float64
	pointFactor float64
}

var styles = map[Style]styleParams{
	StyleNormal:  {speed: 1.0, jitter: 0.8, timeNoise: 0.05, pressureOff: 0, pointFactor: 1},
	StyleRushed:  {speed: 0.6, jitter: 2.0, timeNoise: 0.10, pressureOff: -0.08, pointFactor: 0.7},
	StyleCareful: {speed: 1.5, jitter: 0.4, timeNoise: 0.04, pressureOff: 0.05, pointFactor: 1.3},
	StyleForgery: {speed: 2.1, jitter: 0.6, timeNoise: 0.08, pressureOff: 0.12, pointFactor: 1.4},
}

// Styles lists the supported styles in a stable order.
func Styles() []Style {
	return []Style{StyleNormal, StyleRushed, StyleCareful, StyleForgery}
}

// strokeShape is the parametric curve of one stroke.
type strokeShape struct {
	originX, originY float64
	spanX            float64
	ampX, ampY       float64
	freqX, freqY     float64
	phaseX, phaseY   float64
	durationMS       float64
	pressureBase     float64
	pressureAmp      float64
	pressureFreq     float64
}

// Profile is a synthetic writer: a fixed set of stroke shapes derived from a seed.
type Profile struct {
	Seed   uint64
	shapes []strokeShape
}

// NewProfile derives a writer profile from seed. Equal seeds give equal profiles.
func NewProfile(seed uint64) Profile {
	r := rand.New(rand.NewPCG(seed, 0x5eed))
	n := minProfileStrokes + r.IntN(maxProfileStrokes-minProfileStrokes+1)
	shapes := make([]strokeShape, n)
	slot := (CanvasWidth - 60) / float64(n)
	for i := range shapes {
		shapes[i] = strokeShape{
			originX:      30 + float64(i)*slot,
			originY:      CanvasHeight/2 + (r.Float64()-0.5)*40,
			spanX:        slot * (0.6 + 0.3*r.Float64()),
			ampX:         8 + 12*r.Float64(),
			ampY:         25 + 35*r.Float64(),
			freqX:        1 + 2*r.Float64(),
			freqY:        1.5 + 2.5*r.Float64(),
			phaseX:       2 * math.Pi * r.Float64(),
			phaseY:       2 * math.Pi * r.Float64(),
			durationMS:   baseStrokeMS * (0.7 + 0.6*r.Float64()),
			pressureBase: 0.45 + 0.2*r.Float64(),
			pressureAmp:  0.1 + 0.15*r.Float64(),
			pressureFreq: 1 + 3*r.Float64(),
		}
	}
	return Profile{Seed: seed, shapes: shapes}
}

// Strokes returns the number of strokes the profile draws.
func (p Profile) Strokes() int { return len(p.shapes) }

// SampleOption customizes one generated capture.
type SampleOption func(*sampleConfig)

type sampleConfig struct {
	pressure   bool
	method     capture.InputMethod
	sessionID  string
	startTime  uint64
	pointScale float64
}

// WithoutPressure marks the device as pressure-less; every point reports 0.5.
func WithoutPressure() SampleOption {
	return func(c *sampleConfig) {
		c.pressure = false
		c.method = capture.InputMouse
	}
}

// WithSessionID sets the session id. The default is derived from seed and variant.
func WithSessionID(id string) SampleOption {
	return func(c *sampleConfig) { c.sessionID = id }
}

// WithStartTime sets the timestamp of the first point in ms.
func WithStartTime(ms uint64) SampleOption {
	return func(c *sampleConfig) { c.startTime = ms }
}

// WithPointScale multiplies the number of points per stroke.
func WithPointScale(f float64) SampleOption {
	return func(c *sampleConfig) {
		if f > 0 {
			c.pointScale = f
		}
	}
}

// Sample draws one capture of the profile in the given style. The variant
// selects the noise realization, so (profile, style, variant) fully determines
// the output.
func (p Profile) Sample(style Style, variant uint64, opts ...SampleOption) capture.Session {
	cfg := sampleConfig{
		pressure:   true,
		method:     capture.InputStylus,
		startTime:  1_000,
		pointScale: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sessionID == "" {
		cfg.sessionID = "gen-" + strconv.FormatUint(p.Seed, 10) + "-" + string(style) + "-" + strconv.FormatUint(variant, 10)
	}
	sp, ok := styles[style]
	if !ok {
		sp = styles[StyleNormal]
	}

	shapes := p.shapes
	if style == StyleForgery {
		// Same layout, another hand.
		shapes = forge(p.shapes, p.Seed)
	}

	r := rand.New(rand.NewPCG(p.Seed^0x9e3779b97f4a7c15, variant<<8|styleIndex(style)))
	t := float64(cfg.startTime)
	strokes := make([]capture.Stroke, len(shapes))
	for i, sh := range shapes {
		n := int(math.Round(basePointsStroke * sp.pointFactor * cfg.pointScale))
		if n < 2 {
			n = 2
		}
		dur := sh.durationMS * sp.speed * (1 + sp.timeNoise*r.NormFloat64())
		dur = math.Max(dur, sampleIntervalMin*float64(n-1))
		step := dur / float64(n-1)

		pts := make([]capture.Point, n)
		for j := range pts {
			u := float64(j) / float64(n-1)
			x := sh.originX + sh.spanX*u + sh.ampX*math.Sin(2*math.Pi*sh.freqX*u+sh.phaseX) + sp.jitter*r.NormFloat64()
			y := sh.originY + sh.ampY*math.Sin(2*math.Pi*sh.freqY*u+sh.phaseY) + sp.jitter*r.NormFloat64()
			pressure := 0.5
			if cfg.pressure {
				pressure = sh.pressureBase + sp.pressureOff + sh.pressureAmp*math.Sin(2*math.Pi*sh.pressureFreq*u) + 0.02*r.NormFloat64()
				pressure = math.Max(0.01, math.Min(1, pressure))
			}
			pts[j] = capture.Point{
				X:         clamp(x, 0, CanvasWidth),
				Y:         clamp(y, 0, CanvasHeight),
				Pressure:  pressure,
				Timestamp: uint64(math.Round(t + step*float64(j))),
			}
		}
		strokes[i] = capture.Stroke{
			Points:    pts,
			StartTime: pts[0].Timestamp,
			EndTime:   pts[n-1].Timestamp,
		}
		t = float64(pts[n-1].Timestamp) + basePauseMS*sp.speed*(1+0.2*r.Float64())
	}

	return capture.Session{
		SessionID: cfg.sessionID,
		Timestamp: int64(cfg.startTime),
		Strokes:   strokes,
		DeviceCapabilities: capture.DeviceCapabilities{
			SupportsPressure: cfg.pressure,
			SupportsTouch:    cfg.method == capture.InputTouch,
			InputMethod:      cfg.method,
		},
		CanvasSize: capture.CanvasSize{Width: CanvasWidth, Height: CanvasHeight},
	}
}

// forge returns shapes with the same origins but re-drawn curves.
func forge(shapes []strokeShape, seed uint64) []strokeShape {
	r := rand.New(rand.NewPCG(seed, 0xf0f0))
	out := make([]strokeShape, len(shapes))
	for i, sh := range shapes {
		sh.ampX *= 0.5 + r.Float64()
		sh.ampY *= 0.5 + r.Float64()
		sh.freqX += 0.5 + r.Float64()
		sh.freqY += 0.5 + r.Float64()
		sh.phaseX += math.Pi / 2
		sh.pressureAmp *= 0.4
		out[i] = sh
	}
	return out
}

func styleIndex(s Style) uint64 {
	for i, st := range Styles() {
		if st == s {
			return uint64(i)
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
