package payments

import (
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderWave         Provider = "wave"
	ProviderOrangeMoney  Provider = "orange_money"
	ProviderFreeMoney    Provider = "free_money"
	ProviderStripe       Provider = "stripe"
	ProviderCash         Provider = "cash"
	ProviderBankTransfer Provider = "bank_transfer"
)

var providers = map[Provider]struct{}{
	ProviderWave:         {},
	ProviderOrangeMoney:  {},
	ProviderFreeMoney:    {},
	ProviderStripe:       {},
	ProviderCash:         {},
	ProviderBankTransfer: {},
}

// ParseProvider accepts both the URL slug ("orange-money") and the stored
// form ("orange_money").
func ParseProvider(raw string) (Provider, error) {
	normalized := Provider(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if !normalized.Valid() {
		return "", fmt.Errorf("unknown payment provider %q", raw)
	}
	return normalized, nil
}

func (p Provider) Valid() bool {
	_, ok := providers[p]
	return ok
}

// IsMobileMoney reports whether the provider charges a phone wallet.
func (p Provider) IsMobileMoney() bool {
	switch p {
	case ProviderWave, ProviderOrangeMoney, ProviderFreeMoney:
		return true
	default:
		return false
	}
}

// IsOffline reports whether payment happens outside any provider API.
func (p Provider) IsOffline() bool {
	return p == ProviderCash || p == ProviderBankTransfer
}

func (p Provider) Slug() string {
	return strings.ReplaceAll(string(p), "_", "-")
}

func (p Provider) String() string {
	return string(p)
}
