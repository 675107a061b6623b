package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// OfflineAdapter covers cash and bank transfer. Nothing leaves the process;
// the payment stays pending until an operator-side provider signal exists.
type OfflineAdapter struct {
	provider     Provider
	instructions string
}

func NewOfflineAdapter(provider Provider, instructions string) *OfflineAdapter {
	return &OfflineAdapter{provider: provider, instructions: strings.TrimSpace(instructions)}
}

func (a *OfflineAdapter) Provider() Provider {
	return a.provider
}

func (a *OfflineAdapter) Initiate(_ context.Context, intent Intent) (Result, error) {
	return Result{
		Provider:     a.provider,
		SessionID:    a.provider.Slug() + "_" + uuid.NewString(),
		Status:       StatusPending,
		Instructions: a.instructions,
		Raw: map[string]any{
			"order_id": intent.OrderID,
			"amount":   intent.Amount,
			"currency": intent.Currency,
		},
	}, nil
}
