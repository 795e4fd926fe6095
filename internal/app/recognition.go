package app

import (
	"context"
	"errors"

	"github.com/MrWong99/beatify/internal/capture"
	"github.com/MrWong99/beatify/internal/resilience"
	"github.com/MrWong99/beatify/pkg/recognize"
)

// UnavailableMessage is shown while the recognition breaker is open.
const UnavailableMessage = "Recognition service unavailable. Please try again shortly."

// guardedRecognizer runs every recognition through a circuit breaker.
// Only transient failures count against it, so a "no match" answer never
// opens the breaker.
type guardedRecognizer struct {
	next capture.Recognizer
	cb   *resilience.CircuitBreaker
}

func (g *guardedRecognizer) Recognize(ctx context.Context, p recognize.Payload) (*recognize.Result, error) {
	var res *recognize.Result
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.next.Recognize(ctx, p)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &recognize.RecognitionError{Message: UnavailableMessage, Err: err}
	}
	return res, err
}
