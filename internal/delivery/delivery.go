package delivery

import (
	"context"
	"errors"
)

// Client delivers one message to one chat. Implementations classify failures:
// ErrRecipientBlocked means the recipient is permanently unreachable and
// retrying is pointless; every other error is treated as transient.
type Client interface {
	Send(ctx context.Context, chatID, text string) error
}

var ErrRecipientBlocked = errors.New("recipient_blocked")
