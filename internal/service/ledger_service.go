package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// LedgerService is the only writer of balances. Every mutation runs in one
// database transaction together with its transaction record.
type LedgerService struct {
	db          *sql.DB
	ledger      *repository.LedgerRepository
	generations *repository.GenerationRepository
	logger      *slog.Logger
}

type CreditParams struct {
	UserID        string
	Amount        int
	Type          models.TransactionType
	ReferenceID   string
	ReferenceType string
	Description   string
}

// ReplayReport is the result of recomputing a balance from the transaction log.
type ReplayReport struct {
	UserID          string `json:"user_id"`
	Records         int    `json:"records"`
	ComputedBalance int    `json:"computed_balance"`
	StoredBalance   int    `json:"stored_balance"`
	Consistent      bool   `json:"consistent"`
	FirstDivergence string `json:"first_divergence,omitempty"`
}

func NewLedgerService(db *sql.DB, ledger *repository.LedgerRepository, generations *repository.GenerationRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{db: db, ledger: ledger, generations: generations, logger: logger}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	account, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("credit account %s: %w", userID, models.ErrNotFound)
	}
	return &models.Balance{Balance: account.Balance, LifetimeCredits: account.LifetimeCredits}, nil
}

// Debit charges amount credits for a generation. A zero amount is a no-op and
// returns a nil record.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int, generationID string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		txn, err = s.DebitTx(ctx, tx, userID, amount, generationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// DebitTx is Debit inside a caller-owned transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sql.Tx, userID string, amount int, generationID string) (*models.Transaction, error) {
	if amount < 0 {
		return nil, models.Validationf("debit amount must not be negative")
	}
	if amount == 0 {
		return nil, nil
	}
	txn, err := s.ledger.WithTx(tx).Apply(ctx, repository.Entry{
		UserID:        userID,
		Amount:        -amount,
		Type:          models.TransactionUsage,
		ReferenceID:   generationID,
		ReferenceType: models.ReferenceGeneration,
		Description:   "Infographic generation",
	}, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("debit credits: %w", err)
	}
	return txn, nil
}

// Credit adds credits and returns the new balance. Purchases and bonuses also
// raise lifetime credits. Crediting the same reference twice with the same
// type fails with ErrConflict.
func (s *LedgerService) Credit(ctx context.Context, p CreditParams) (int, error) {
	var balance int
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		txn, err := s.CreditTx(ctx, tx, p)
		if err != nil {
			return err
		}
		balance = txn.BalanceAfter
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, p CreditParams) (*models.Transaction, error) {
	if p.Amount <= 0 {
		return nil, models.Validationf("credit amount must be positive")
	}
	if !p.Type.Valid() || p.Type == models.TransactionUsage {
		return nil, models.Validationf("invalid credit type %q", p.Type)
	}
	if (p.ReferenceID == "") != (p.ReferenceType == "") {
		return nil, models.Validationf("reference id and type must be set together")
	}
	txn, err := s.ledger.WithTx(tx).Apply(ctx, repository.Entry{
		UserID:        p.UserID,
		Amount:        p.Amount,
		Type:          p.Type,
		ReferenceID:   p.ReferenceID,
		ReferenceType: p.ReferenceType,
		Description:   p.Description,
	}, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", p.Type, err)
	}
	return txn, nil
}

// Refund returns the credits charged for a generation. It is safe to call
// more than once: the second call fails with ErrConflict.
func (s *LedgerService) Refund(ctx context.Context, generationID string) (int, error) {
	gen, err := s.generations.GetByID(ctx, generationID)
	if err != nil {
		return 0, fmt.Errorf("load generation: %w", err)
	}
	if gen == nil {
		return 0, fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
	}
	if gen.CreditsUsed <= 0 {
		return 0, models.Validationf("generation %s charged no credits", generationID)
	}
	return s.Credit(ctx, refundParams(gen))
}

// RefundTx credits back a generation's cost inside the caller's transaction.
// It reports false when nothing was charged or the refund already exists.
func (s *LedgerService) RefundTx(ctx context.Context, tx *sql.Tx, gen *models.Generation) (bool, error) {
	if gen.CreditsUsed <= 0 {
		return false, nil
	}
	existing, err := s.ledger.WithTx(tx).FindByReference(ctx, gen.UserID, models.TransactionRefund, models.ReferenceGeneration, gen.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if _, err := s.CreditTx(ctx, tx, refundParams(gen)); err != nil {
		return false, err
	}
	return true, nil
}

func refundParams(gen *models.Generation) CreditParams {
	return CreditParams{
		UserID:        gen.UserID,
		Amount:        gen.CreditsUsed,
		Type:          models.TransactionRefund,
		ReferenceID:   gen.ID,
		ReferenceType: models.ReferenceGeneration,
		Description:   "Refund for failed generation",
	}
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	txns, err := s.ledger.ListTransactions(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// Replay recomputes the balance from the user's log and compares each step
// with the recorded balance_after and the final balance with the account.
func (s *LedgerService) Replay(ctx context.Context, userID string) (*ReplayReport, error) {
	var (
		account *models.LedgerAccount
		txns    []models.Transaction
	)
	// Read both sides in one transaction so a concurrent mutation cannot
	// show up in only one of them.
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.ledger.WithTx(tx)
		var err error
		if account, err = repo.GetAccount(ctx, userID); err != nil {
			return err
		}
		txns, err = repo.History(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("credit account %s: %w", userID, models.ErrNotFound)
	}

	report := &ReplayReport{UserID: userID, Records: len(txns), StoredBalance: account.Balance, Consistent: true}
	running := 0
	for _, txn := range txns {
		running += txn.Amount
		if running != txn.BalanceAfter && report.Consistent {
			report.Consistent = false
			report.FirstDivergence = txn.ID
		}
	}
	report.ComputedBalance = running
	if running != account.Balance && report.Consistent {
		report.Consistent = false
		report.FirstDivergence = "account"
	}
	if !report.Consistent {
		s.logger.Error("ledger replay diverged", "user_id", userID, "computed", running, "stored", account.Balance, "at", report.FirstDivergence)
	}
	return report, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// isConflict reports whether err is a duplicate ledger reference.
func isConflict(err error) bool {
	return errors.Is(err, models.ErrConflict)
}
