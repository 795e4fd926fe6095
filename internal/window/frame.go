package window

import (
	"image"
	"sync"
)

// frameSlot holds the most recent frame. Producers overwrite it; the
// consumer takes it at most once per put.
type frameSlot struct {
	mu    sync.Mutex
	img   *image.RGBA
	fresh bool
}

// put copies src into the slot, reusing its buffer when the size matches.
func (s *frameSlot) put(src *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil || s.img.Rect.Size() != src.Rect.Size() {
		s.img = image.NewRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	}
	w := src.Rect.Dx() * 4
	for y := range src.Rect.Dy() {
		so := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(s.img.Pix[y*s.img.Stride:y*s.img.Stride+w], src.Pix[so:so+w])
	}
	s.fresh = true
}

// take calls fn with the latest frame if one arrived since the last take.
// It reports whether fn was called.
func (s *frameSlot) take(fn func(img *image.RGBA)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return false
	}
	s.fresh = false
	fn(s.img)
	return true
}
