package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

const (
	maxFullNameLength  = 255
	maxAvatarURLLength = 1024
)

type ProfileService struct {
	db          *sql.DB
	profiles    *repository.ProfileRepository
	ledger      *repository.LedgerRepository
	signupBonus int
	logger      *slog.Logger
}

type UpdateProfileInput struct {
	FullName  *string
	AvatarURL *string
}

func NewProfileService(db *sql.DB, profiles *repository.ProfileRepository, ledger *repository.LedgerRepository, signupBonus int, logger *slog.Logger) *ProfileService {
	return &ProfileService{db: db, profiles: profiles, ledger: ledger, signupBonus: signupBonus, logger: logger}
}

// Ensure returns the caller's profile, creating it together with the credit
// account and signup bonus on first sight. Concurrent first requests race on
// the primary keys; the loser re-reads what the winner wrote.
func (s *ProfileService) Ensure(ctx context.Context, identity models.Identity) (*models.Profile, bool, error) {
	if identity.UserID == "" {
		return nil, false, models.ErrUnauthenticated
	}

	profile, err := s.profiles.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", err)
	}
	if profile != nil {
		if err := s.ensureAccount(ctx, identity.UserID); err != nil {
			return nil, false, err
		}
		return profile, false, nil
	}

	now := time.Now().UTC()
	profile = &models.Profile{
		ID:        identity.UserID,
		Email:     identity.Email,
		FullName:  identity.FullName,
		AvatarURL: identity.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.profiles.WithTx(tx).Create(ctx, profile); err != nil {
			return err
		}
		return s.openAccount(ctx, tx, identity.UserID, now)
	})
	if err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("bootstrap profile: %w", err)
		}
		s.logger.Debug("profile bootstrapped concurrently", "user_id", identity.UserID)
		existing, err := s.profiles.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("reload profile: %w", err)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("profile %s vanished after conflict", identity.UserID)
		}
		if err := s.ensureAccount(ctx, identity.UserID); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.logger.Info("profile created", "user_id", identity.UserID, "signup_bonus", s.signupBonus)
	return profile, true, nil
}

// ensureAccount repairs a profile that has no credit account.
func (s *ProfileService) ensureAccount(ctx context.Context, userID string) error {
	account, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("ensure credit account: %w", err)
	}
	if account != nil {
		return nil
	}
	err = database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.openAccount(ctx, tx, userID, time.Now().UTC())
	})
	if err != nil && !database.IsUniqueViolation(err) {
		return fmt.Errorf("open credit account: %w", err)
	}
	if err == nil {
		s.logger.Warn("credit account was missing, opened with signup bonus", "user_id", userID)
	}
	return nil
}

// openAccount seeds the account with the signup bonus and writes the matching
// bonus record, so replaying the log from zero gives the seeded balance.
func (s *ProfileService) openAccount(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	ledger := s.ledger.WithTx(tx)
	if err := ledger.CreateAccount(ctx, userID, s.signupBonus, s.signupBonus, at); err != nil {
		return err
	}
	if s.signupBonus == 0 {
		return nil
	}
	return ledger.InsertTransaction(ctx, &models.Transaction{
		ID:            ids.New(ids.Transaction),
		UserID:        userID,
		Amount:        s.signupBonus,
		Type:          models.TransactionBonus,
		BalanceAfter:  s.signupBonus,
		ReferenceID:   userID,
		ReferenceType: models.ReferenceSignup,
		Description:   "Welcome bonus credits",
		CreatedAt:     at,
	})
}

func (s *ProfileService) Update(ctx context.Context, identity models.Identity, input UpdateProfileInput) (*models.Profile, error) {
	profile, _, err := s.Ensure(ctx, identity)
	if err != nil {
		return nil, err
	}
	fullName, avatarURL := profile.FullName, profile.AvatarURL
	if input.FullName != nil {
		fullName = strings.TrimSpace(*input.FullName)
		if len(fullName) > maxFullNameLength {
			return nil, models.Validationf("full name is too long")
		}
	}
	if input.AvatarURL != nil {
		avatarURL = strings.TrimSpace(*input.AvatarURL)
		if len(avatarURL) > maxAvatarURLLength {
			return nil, models.Validationf("avatar url is too long")
		}
	}
	if err := s.profiles.Update(ctx, profile.ID, fullName, avatarURL, time.Now().UTC()); err != nil {
		return nil, err
	}
	updated, err := s.profiles.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}
	return updated, nil
}
