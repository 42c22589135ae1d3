package exchange

import (
	"context"

	"spreadwatch/internal/model"
)

// ExchangeClient defines the standard interface for all venue adapters.
type ExchangeClient interface {
	GetName() model.Venue

	// Connect establishes connectivity. Calling it on a connected adapter is a no-op.
	Connect(ctx context.Context) error

	// Disconnect releases sockets and timers and closes every open Subscription.
	// It is safe to call on an adapter that never connected.
	Disconnect() error

	// GetAvailableSymbols lists the venue-native symbols of active instruments.
	GetAvailableSymbols(ctx context.Context) ([]string, error)

	// GetPriceStream subscribes to one venue-native symbol. Unknown symbols
	// fail synchronously with *SubscriptionError.
	GetPriceStream(ctx context.Context, symbol string) (*Subscription, error)

	State() model.VenueState
}
