package browser

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// humanizeBudget caps the total time spent on pre-extraction gestures so a
// slow page never eats the fetch deadline on theatre.
const humanizeBudget = 3 * time.Second

// TracePoint is one sample of a synthetic pointer path.
type TracePoint struct {
	X     float64
	Y     float64
	Delay time.Duration
}

// MouseTrace generates a pointer path across a w x h viewport shaped like a
// human gesture: a curved arc sampled along a cubic Bezier, with ease-in-out
// pacing (slow at the edges, fast in the middle) and sub-pixel jitter.
// Behavioural anti-bot scoring flags the straight constant-velocity lines
// automation produces by default; this path does not have them.
func MouseTrace(rng *rand.Rand, w, h int) []TracePoint {
	const (
		minPoints = 18
		maxPoints = 45
	)
	n := minPoints + rng.Intn(maxPoints-minPoints+1)

	// Start upper-left, end near the centre where the listings live.
	x0 := float64(50 + rng.Intn(w/4))
	y0 := float64(50 + rng.Intn(h/4))
	x3 := float64(w/4 + rng.Intn(w/2))
	y3 := float64(h/4 + rng.Intn(h/2))

	// Off-axis control points bend the path into an arc.
	x1 := x0 + float64(rng.Intn(w/3)+w/6)
	y1 := y0 - float64(rng.Intn(h/4)+30)
	x2 := x3 - float64(rng.Intn(w/3)+w/6)
	y2 := y3 + float64(rng.Intn(h/4)+30)

	trace := make([]TracePoint, 0, n)
	for i := 0; i < n; i++ {
		rawT := float64(i) / float64(n-1)
		bt := easeInOut(rawT)
		x, y := cubicBezier(bt, x0, y0, x1, y1, x2, y2, x3, y3)

		// Optical-mouse noise.
		x += (rng.Float64() - 0.5) * 1.2
		y += (rng.Float64() - 0.5) * 1.2

		// Inter-sample delay peaks at the edges of the gesture, matching
		// human deceleration toward a target.
		speed := 0.5 + math.Sin(math.Pi*rawT)
		delayMs := math.Round(12/(speed+0.1)) + float64(rng.Intn(6)-2)
		if delayMs < 4 {
			delayMs = 4
		}
		trace = append(trace, TracePoint{
			X:     math.Round(x*100) / 100,
			Y:     math.Round(y*100) / 100,
			Delay: time.Duration(delayMs) * time.Millisecond,
		})
	}
	return trace
}

func easeInOut(t float64) float64 {
	return (1 - math.Cos(math.Pi*t)) / 2
}

func cubicBezier(t, x0, y0, x1, y1, x2, y2, x3, y3 float64) (float64, float64) {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	c := 3 * u * t * t
	d := t * t * t
	return a*x0 + b*x1 + c*x2 + d*x3, a*y0 + b*y1 + c*y2 + d*y3
}

// humanize replays a mouse trace and a short scroll on page, best-effort and
// bounded by humanizeBudget.  Gesture errors are ignored: a page that
// rejects input events still renders, and extraction is the goal.
func humanize(ctx context.Context, page *rod.Page, w, h int, rng *rand.Rand) {
	deadline := time.Now().Add(humanizeBudget)
	for _, pt := range MouseTrace(rng, w, h) {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return
		}
		_ = page.Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y})
		select {
		case <-time.After(pt.Delay):
		case <-ctx.Done():
			return
		}
	}
	// A small scroll fires the lazy-load observers most boards attach to
	// their listing containers.
	if time.Now().Before(deadline) {
		_ = page.Mouse.Scroll(0, float64(200+rng.Intn(400)), 5)
	}
}
