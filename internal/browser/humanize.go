package browser

import (
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// humanize performs a short pseudo-human interaction sequence: a couple of
// mouse glides followed by staged scrolling. Errors are swallowed; this is
// camouflage, not correctness.
func humanize(page *rod.Page) {
	moves := 2 + rand.Intn(3)
	for i := 0; i < moves; i++ {
		to := proto.Point{
			X: 150 + rand.Float64()*900,
			Y: 120 + rand.Float64()*500,
		}
		if err := page.Mouse.MoveLinear(to, 8+rand.Intn(12)); err != nil {
			return
		}
		time.Sleep(time.Duration(80+rand.Intn(220)) * time.Millisecond)
	}

	scrolls := 1 + rand.Intn(3)
	for i := 0; i < scrolls; i++ {
		if err := page.Mouse.Scroll(0, 250+rand.Float64()*500, 4+rand.Intn(4)); err != nil {
			return
		}
		time.Sleep(time.Duration(150+rand.Intn(350)) * time.Millisecond)
	}
}

// ScrollForHydration pages down a few times so lazy-loaded rows render.
// Unlike humanize, callers rely on the scrolls happening, so it returns the
// first error.
func ScrollForHydration(page *rod.Page, steps int) error {
	for i := 0; i < steps; i++ {
		if err := page.Mouse.Scroll(0, 600, 3); err != nil {
			return err
		}
		time.Sleep(time.Duration(200+rand.Intn(200)) * time.Millisecond)
	}
	return nil
}
