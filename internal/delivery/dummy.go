package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Dummy is a stand-in client for local runs: simulated latency and an
// occasional transient failure, no network.
type Dummy struct{}

func NewDummy() *Dummy { return &Dummy{} }

func (d *Dummy) Send(ctx context.Context, chatID, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if rand.IntN(100) < 3 { // ~3% failure
		return errors.New("delivery_temporary_error")
	}
	return nil
}
