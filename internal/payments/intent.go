package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const DefaultCurrency = "XOF"

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

type Delivery struct {
	Method  string `json:"method"`
	Address string `json:"address"`
	City    string `json:"city"`
}

type Item struct {
	Name      string `json:"name" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
}

// Intent is one checkout attempt. It is never persisted as such; the payment
// row is written only after the provider accepted the initiation.
type Intent struct {
	OrderID   string            `json:"orderId" validate:"required,max=128"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency" validate:"len=3,alpha"`
	Provider  Provider          `json:"provider"`
	Customer  Customer          `json:"customer"`
	Delivery  Delivery          `json:"delivery"`
	Items     []Item            `json:"items" validate:"dive"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ReturnURL string            `json:"returnUrl" validate:"omitempty,url"`
	CancelURL string            `json:"cancelUrl" validate:"omitempty,url"`
	Locale    string            `json:"locale"`

	// Attempt numbers checkouts of one (order, provider) pair. The
	// dispatcher sets it; a failed or canceled attempt is retried as the
	// next one.
	Attempt int `json:"-"`
}

// Reference is the per-attempt identifier handed to providers that dedupe on
// it. The first attempt keeps the bare order id.
func (in Intent) Reference() string {
	if in.Attempt <= 1 {
		return in.OrderID
	}
	return fmt.Sprintf("%s-r%d", in.OrderID, in.Attempt)
}

// ValidationError names the first field that makes an intent unacceptable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var structValidator = validator.New()

// Normalize trims free-text fields and applies the default currency.
func (in *Intent) Normalize() {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	in.Customer.Name = strings.TrimSpace(in.Customer.Name)
	in.Customer.Email = strings.TrimSpace(in.Customer.Email)
	in.Customer.Phone = normalizePhone(in.Customer.Phone)
	in.ReturnURL = strings.TrimSpace(in.ReturnURL)
	in.CancelURL = strings.TrimSpace(in.CancelURL)
	in.Locale = strings.TrimSpace(in.Locale)
}

// Validate checks the intent without touching the network.
func (in Intent) Validate() error {
	if in.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	if !in.Provider.Valid() {
		return &ValidationError{Field: "provider", Reason: "unsupported provider"}
	}
	if in.Provider.IsMobileMoney() && in.Customer.Phone == "" {
		return &ValidationError{Field: "customer.phone", Reason: "required for mobile money"}
	}
	if err := structValidator.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return &ValidationError{Field: fieldPath(first.Namespace()), Reason: "failed " + first.Tag()}
		}
		return &ValidationError{Field: "intent", Reason: err.Error()}
	}
	return nil
}

// fieldPath turns "Intent.Customer.Email" into "customer.email".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToLower(part[:1]) + part[1:]
	}
	return strings.Join(parts, ".")
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
