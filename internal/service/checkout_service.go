package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digkill/InfographicAI/internal/models"
)

// CheckoutSource tags checkout metadata so webhook events can be traced back
// to this application.
const CheckoutSource = "infographic-ai"

type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
}

type CheckoutService struct {
	packages       *PackageService
	provider       CheckoutProvider
	defaultCountry string
	log            *slog.Logger
}

func NewCheckoutService(packages *PackageService, provider CheckoutProvider, defaultCountry string, log *slog.Logger) *CheckoutService {
	return &CheckoutService{packages: packages, provider: provider, defaultCountry: defaultCountry, log: log}
}

// CreateCheckout opens a hosted checkout for an active package. The user,
// package and credit amount travel in the session metadata and come back
// with the payment webhook.
func (s *CheckoutService) CreateCheckout(ctx context.Context, identity models.Identity, packageID string) (*models.CheckoutSession, error) {
	if identity.UserID == "" || identity.Email == "" {
		return nil, models.ErrUnauthenticated
	}
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("package %s: %w", packageID, models.ErrNotFound)
	}
	if pkg.ProviderProductID == "" {
		return nil, fmt.Errorf("package %s has no payment product: %w", packageID, models.ErrUnconfigured)
	}

	country := strings.ToUpper(strings.TrimSpace(identity.Country))
	if country == "" {
		country = s.defaultCountry
	}
	name := identity.FullName
	if name == "" {
		name = identity.Email
	}

	session, err := s.provider.CreateCheckoutSession(ctx, models.CheckoutRequest{
		ProductID:      pkg.ProviderProductID,
		CustomerEmail:  identity.Email,
		CustomerName:   name,
		BillingCountry: country,
		Metadata: map[string]string{
			"user_id":    identity.UserID,
			"package_id": pkg.ID,
			"credits":    strconv.Itoa(pkg.Credits),
			"source":     CheckoutSource,
		},
	})
	if err != nil {
		s.log.Error("checkout session failed", "user_id", identity.UserID, "package_id", pkg.ID, "err", err)
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	s.log.Info("checkout session created", "user_id", identity.UserID, "package_id", pkg.ID, "session_id", session.SessionID)
	return session, nil
}
