package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionUsage      TransactionType = "usage"
	TransactionBonus      TransactionType = "bonus"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionUsage, TransactionBonus, TransactionRefund, TransactionAdjustment:
		return true
	}
	return false
}

// Grant reports whether credits of this type count towards lifetime credits.
func (t TransactionType) Grant() bool {
	return t == TransactionPurchase || t == TransactionBonus
}

const (
	ReferenceGeneration = "generation"
	ReferencePurchase   = "purchase"
	ReferencePromo      = "promo"
	ReferenceSignup     = "signup"
	ReferenceAdmin      = "admin"
)

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Identity is the authenticated caller as resolved by the identity provider.
type Identity struct {
	UserID    string
	Email     string
	FullName  string
	AvatarURL string
	Country   string
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LedgerAccount struct {
	UserID          string    `json:"user_id"`
	Balance         int       `json:"balance"`
	LifetimeCredits int       `json:"lifetime_credits"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Balance struct {
	Balance         int `json:"balance"`
	LifetimeCredits int `json:"lifetime_credits"`
}

type Transaction struct {
	Seq           int64           `json:"-"`
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        int             `json:"amount"`
	Type          TransactionType `json:"type"`
	BalanceAfter  int             `json:"balance_after"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Generation struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Prompt       string            `json:"prompt"`
	AspectRatio  string            `json:"aspect_ratio"`
	ImageSize    string            `json:"image_size"`
	Status       GenerationStatus  `json:"status"`
	CreditsUsed  int               `json:"credits_used"`
	ImageURL     string            `json:"image_url,omitempty"`
	ImageData    []byte            `json:"image_data,omitempty"`
	ImageMime    string            `json:"image_mime,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

type Purchase struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	PackageID        string          `json:"package_id,omitempty"`
	CreditsPurchased int             `json:"credits_purchased"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	Currency         string          `json:"currency"`
	Provider         string          `json:"payment_provider"`
	Status           PaymentStatus   `json:"payment_status"`
	TransactionID    string          `json:"transaction_id"`
	Metadata         string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

type CreditPackage struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Description       string    `json:"description" yaml:"description"`
	Credits           int       `json:"credits" yaml:"credits"`
	PriceMinorUnits   int       `json:"price_minor_units" yaml:"price_minor_units"`
	Currency          string    `json:"currency" yaml:"currency"`
	IsPopular         bool      `json:"is_popular" yaml:"is_popular"`
	IsActive          bool      `json:"is_active" yaml:"is_active"`
	SortOrder         int       `json:"sort_order" yaml:"sort_order"`
	ProviderProductID string    `json:"provider_product_id,omitempty" yaml:"provider_product_id"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// Price returns the package price in major currency units.
func (p CreditPackage) Price() decimal.Decimal {
	return MinorToMajor(int64(p.PriceMinorUnits), p.Currency)
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Credits   int       `json:"credits"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerateOptions is what an image generator receives.
type GenerateOptions struct {
	Prompt      string
	AspectRatio string
	ImageSize   string
}

// GeneratedImage is the generator output. Data is empty when the model
// answered without an image.
type GeneratedImage struct {
	Data     []byte
	MimeType string
	Text     string
}

// EventPaymentSucceeded is the only payment event type that credits a user.
const EventPaymentSucceeded = "payment.succeeded"

// PaymentEvent is a verified, parsed payment provider webhook event.
type PaymentEvent struct {
	Type          string
	TransactionID string
	Currency      string
	AmountMinor   int64
	Metadata      map[string]string
	Raw           []byte
}

type CheckoutRequest struct {
	ProductID      string
	CustomerEmail  string
	CustomerName   string
	BillingCountry string
	Metadata       map[string]string
}

type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}
