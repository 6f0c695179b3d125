// Package common holds the contracts shared by delivery adapters.
package common

import (
	"context"

	"github.com/example/email-messenger/internal/models"
)

// Adapter delivers one message payload through a concrete channel and returns
// the normalized provider answer. Errors carry ErrTransient or ErrPermanent.
type Adapter interface {
	Send(ctx context.Context, payload *models.MessagePayload) (*ProviderResponse, error)
}
