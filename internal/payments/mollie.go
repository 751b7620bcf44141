package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"

	"campustv/pkg/logging"
)

// Status is the gateway's verdict on an order payment.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Gateway answers "did this order get paid" from the provider's own records,
// the source of truth the order reconciler trusts over local state.
type Gateway interface {
	GetOrderStatus(ctx context.Context, orderCode string) (Status, error)
}

// MollieGateway queries payment status from the Mollie API.
type MollieGateway struct {
	client *mollie.Client
	logger logging.Logger
}

// Config for creating the gateway.
type Config struct {
	APIKey string
	Logger logging.Logger
}

// NewMollieGateway creates a Mollie-backed payment gateway.
func NewMollieGateway(cfg Config) (*MollieGateway, error) {
	mollieConfig := mollie.NewAPITestingConfig(true)
	if len(cfg.APIKey) > 5 && cfg.APIKey[:5] == "live_" {
		mollieConfig = mollie.NewAPIConfig(true)
	}

	client, err := mollie.NewClient(nil, mollieConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie client: %w", err)
	}
	if err := client.WithAuthenticationValue(cfg.APIKey); err != nil {
		return nil, fmt.Errorf("failed to set Mollie API key: %w", err)
	}

	return &MollieGateway{client: client, logger: cfg.Logger}, nil
}

// GetOrderStatus fetches the payment identified by the order code and maps
// the provider status onto the local order lifecycle.
func (g *MollieGateway) GetOrderStatus(ctx context.Context, orderCode string) (Status, error) {
	_, payment, err := g.client.Payments.Get(ctx, orderCode, nil)
	if err != nil {
		return StatusPending, fmt.Errorf("failed to get Mollie payment: %w", err)
	}

	switch strings.ToLower(payment.Status) {
	case "paid":
		return StatusPaid, nil
	case "failed", "canceled", "expired":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}
