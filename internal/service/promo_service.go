package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

var (
	ErrPromoInvalid         = fmt.Errorf("promo code invalid: %w", models.ErrNotFound)
	ErrPromoAlreadyRedeemed = fmt.Errorf("promo code already redeemed: %w", models.ErrConflict)
	ErrPromoExhausted       = fmt.Errorf("%w: %w", repository.ErrPromoExhausted, models.ErrConflict)
)

type PromoService struct {
	db     *sql.DB
	promos *repository.PromoRepository
	ledger *LedgerService
	log    *slog.Logger
}

type PromoInput struct {
	Code    string `json:"code"`
	Credits int    `json:"credits"`
	MaxUses int    `json:"max_uses"`
}

func NewPromoService(db *sql.DB, promos *repository.PromoRepository, ledger *LedgerService, log *slog.Logger) *PromoService {
	return &PromoService{db: db, promos: promos, ledger: ledger, log: log}
}

// Redeem grants the code's credits as a bonus. The usage counter, the
// redemption row and the ledger credit commit together.
func (s *PromoService) Redeem(ctx context.Context, userID, code string) (int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrPromoInvalid
	}
	var balance int
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		promos := s.promos.WithTx(tx)
		promo, err := promos.GetByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("get promo: %w", err)
		}
		if promo == nil {
			return ErrPromoInvalid
		}
		if err := promos.IncrementUsage(ctx, promo.ID); err != nil {
			if errors.Is(err, repository.ErrPromoExhausted) {
				return ErrPromoExhausted
			}
			return err
		}
		if err := promos.RecordRedemption(ctx, userID, promo.ID, time.Now().UTC()); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrPromoAlreadyRedeemed
			}
			return err
		}
		txn, err := s.ledger.CreditTx(ctx, tx, CreditParams{
			UserID:        userID,
			Amount:        promo.Credits,
			Type:          models.TransactionBonus,
			ReferenceID:   strconv.FormatInt(promo.ID, 10),
			ReferenceType: models.ReferencePromo,
			Description:   fmt.Sprintf("Promo code %s", promo.Code),
		})
		if err != nil {
			return err
		}
		balance = txn.BalanceAfter
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("promo code redeemed", "user_id", userID, "code", strings.ToUpper(code), "balance", balance)
	return balance, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, input PromoInput) (*models.PromoCode, error) {
	if err := validatePromo(&input); err != nil {
		return nil, err
	}
	promo, err := s.promos.Create(ctx, &models.PromoCode{Code: input.Code, Credits: input.Credits, MaxUses: input.MaxUses})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("promo code %s: %w", input.Code, models.ErrConflict)
		}
		return nil, err
	}
	return promo, nil
}

func (s *PromoService) Update(ctx context.Context, id int64, input PromoInput) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("promo %d: %w", id, models.ErrNotFound)
	}
	if err := validatePromo(&input); err != nil {
		return nil, err
	}
	existing.Code = input.Code
	existing.Credits = input.Credits
	existing.MaxUses = input.MaxUses
	return s.promos.Update(ctx, existing)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}

func validatePromo(input *PromoInput) error {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	switch {
	case input.Code == "":
		return models.Validationf("code is required")
	case input.Credits <= 0:
		return models.Validationf("credits must be positive")
	case input.MaxUses <= 0:
		return models.Validationf("max uses must be positive")
	}
	return nil
}
