package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCredited  Outcome = "credited"
	OutcomeReconcile Outcome = "reconciliation_required"
)

// PurchaseService turns payment provider events into purchases and ledger
// credits. Each provider transaction id is credited at most once.
type PurchaseService struct {
	purchases *repository.PurchaseRepository
	ledger    *LedgerService
	notifier  Notifier
	provider  string
	log       *slog.Logger
}

func NewPurchaseService(purchases *repository.PurchaseRepository, ledger *LedgerService, notifier Notifier, provider string, log *slog.Logger) *PurchaseService {
	return &PurchaseService{purchases: purchases, ledger: ledger, notifier: notifier, provider: provider, log: log}
}

type paymentSnapshot struct {
	PackageID string          `json:"package_id,omitempty"`
	Payload   payloadSnapshot `json:"payload_snapshot"`
}

type payloadSnapshot struct {
	PaymentID   string            `json:"payment_id"`
	Currency    string            `json:"currency"`
	TotalAmount int64             `json:"total_amount"`
	Metadata    map[string]string `json:"metadata"`
	Type        string            `json:"type"`
}

// HandlePaymentEvent processes one verified webhook delivery. Redelivery of
// the same event is a no-op reported as OutcomeDuplicate.
func (s *PurchaseService) HandlePaymentEvent(ctx context.Context, evt models.PaymentEvent) (Outcome, error) {
	if evt.Type != models.EventPaymentSucceeded {
		s.log.Debug("ignoring payment event", "type", evt.Type)
		return OutcomeIgnored, nil
	}

	userID := strings.TrimSpace(evt.Metadata["user_id"])
	credits := parseCredits(evt.Metadata["credits"])
	switch {
	case evt.TransactionID == "":
		s.log.Error("payment event without transaction id")
		return OutcomeInvalid, models.Validationf("payment event has no transaction id")
	case userID == "":
		s.log.Error("payment event without user id", "transaction_id", evt.TransactionID)
		return OutcomeInvalid, models.Validationf("payment event %s has no user id", evt.TransactionID)
	case credits <= 0:
		s.log.Error("payment event with invalid credits", "transaction_id", evt.TransactionID, "credits", evt.Metadata["credits"])
		return OutcomeInvalid, models.Validationf("payment event %s has invalid credits", evt.TransactionID)
	}

	existing, err := s.purchases.FindByTransactionID(ctx, evt.TransactionID)
	if err != nil {
		return "", fmt.Errorf("find purchase: %w", err)
	}
	if existing != nil && existing.Status == models.PaymentCompleted {
		s.log.Info("duplicate payment event", "transaction_id", evt.TransactionID, "purchase_id", existing.ID)
		return OutcomeDuplicate, nil
	}

	currency := evt.Currency
	if currency == "" {
		currency = "USD"
	}
	packageID := evt.Metadata["package_id"]
	snapshot, err := json.Marshal(paymentSnapshot{
		PackageID: packageID,
		Payload: payloadSnapshot{
			PaymentID:   evt.TransactionID,
			Currency:    currency,
			TotalAmount: evt.AmountMinor,
			Metadata:    evt.Metadata,
			Type:        evt.Type,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode purchase metadata: %w", err)
	}

	now := time.Now().UTC()
	purchase := &models.Purchase{
		ID:               ids.New(ids.Purchase),
		UserID:           userID,
		PackageID:        packageID,
		CreditsPurchased: credits,
		AmountPaid:       models.MinorToMajor(evt.AmountMinor, currency),
		Currency:         currency,
		Provider:         s.provider,
		Status:           models.PaymentCompleted,
		TransactionID:    evt.TransactionID,
		Metadata:         string(snapshot),
		CreatedAt:        now,
		CompletedAt:      &now,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		if database.IsUniqueViolation(err) {
			s.log.Info("payment event recorded by a concurrent delivery", "transaction_id", evt.TransactionID)
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("record purchase: %w", err)
	}

	balance, err := s.credit(ctx, purchase)
	if err != nil {
		if isConflict(err) {
			return OutcomeDuplicate, nil
		}
		s.alertReconciliation(ctx, purchase, err)
		return OutcomeReconcile, fmt.Errorf("purchase %s: %w: %v", purchase.ID, models.ErrReconciliationRequired, err)
	}

	s.log.Info("purchase credited", "purchase_id", purchase.ID, "user_id", userID, "credits", credits, "balance", balance)
	return OutcomeCredited, nil
}

// Reconcile applies the ledger credit of a completed purchase that failed to
// credit. Running it for an already credited purchase fails with ErrConflict.
func (s *PurchaseService) Reconcile(ctx context.Context, purchaseID string) (int, error) {
	purchase, err := s.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return 0, fmt.Errorf("load purchase: %w", err)
	}
	if purchase == nil {
		return 0, fmt.Errorf("purchase %s: %w", purchaseID, models.ErrNotFound)
	}
	if purchase.Status != models.PaymentCompleted {
		return 0, fmt.Errorf("purchase %s is %s: %w", purchaseID, purchase.Status, models.ErrConflict)
	}
	balance, err := s.credit(ctx, purchase)
	if err != nil {
		return 0, err
	}
	s.log.Info("purchase reconciled", "purchase_id", purchase.ID, "user_id", purchase.UserID, "credits", purchase.CreditsPurchased)
	return balance, nil
}

func (s *PurchaseService) List(ctx context.Context, userID string, limit int) ([]models.Purchase, error) {
	purchases, err := s.purchases.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

func (s *PurchaseService) credit(ctx context.Context, purchase *models.Purchase) (int, error) {
	return s.ledger.Credit(ctx, CreditParams{
		UserID:        purchase.UserID,
		Amount:        purchase.CreditsPurchased,
		Type:          models.TransactionPurchase,
		ReferenceID:   purchase.ID,
		ReferenceType: models.ReferencePurchase,
		Description:   fmt.Sprintf("Purchased %d credits", purchase.CreditsPurchased),
	})
}

func (s *PurchaseService) alertReconciliation(ctx context.Context, purchase *models.Purchase, cause error) {
	s.log.Error("purchase recorded but credits not applied",
		"purchase_id", purchase.ID,
		"transaction_id", purchase.TransactionID,
		"user_id", purchase.UserID,
		"credits", purchase.CreditsPurchased,
		"err", cause,
	)
	if s.notifier == nil {
		return
	}
	body := fmt.Sprintf("Purchase %s (transaction %s) for user %s is completed but %d credits were not applied: %v. Run reconcile for this purchase.",
		purchase.ID, purchase.TransactionID, purchase.UserID, purchase.CreditsPurchased, cause)
	if err := s.notifier.Notify(context.WithoutCancel(ctx), "Purchase needs reconciliation", body); err != nil {
		s.log.Error("failed to send alert", "err", errors.Join(err, cause))
	}
}

// parseCredits accepts "50", "50.0" and numbers echoed back as strings.
func parseCredits(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Floor(f))
}
