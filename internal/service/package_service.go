package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

// CatalogDefaults describes the package created when the catalog is empty
// and no catalog file is configured.
type CatalogDefaults struct {
	File            string
	Currency        string
	PriceMinorUnits int
	Credits         int
	ProductID       string
}

type PackageService struct {
	repo     *repository.PackageRepository
	defaults CatalogDefaults
	log      *slog.Logger
}

type CreatePackageInput struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Credits           int    `json:"credits"`
	PriceMinorUnits   int    `json:"price_minor_units"`
	Currency          string `json:"currency"`
	IsPopular         bool   `json:"is_popular"`
	IsActive          *bool  `json:"is_active"`
	SortOrder         int    `json:"sort_order"`
	ProviderProductID string `json:"provider_product_id"`
}

type UpdatePackageInput struct {
	Name              *string `json:"name"`
	Description       *string `json:"description"`
	Credits           *int    `json:"credits"`
	PriceMinorUnits   *int    `json:"price_minor_units"`
	Currency          *string `json:"currency"`
	IsPopular         *bool   `json:"is_popular"`
	IsActive          *bool   `json:"is_active"`
	SortOrder         *int    `json:"sort_order"`
	ProviderProductID *string `json:"provider_product_id"`
}

type catalogFile struct {
	Packages []models.CreditPackage `yaml:"packages"`
}

func NewPackageService(repo *repository.PackageRepository, defaults CatalogDefaults, log *slog.Logger) *PackageService {
	return &PackageService{repo: repo, defaults: defaults, log: log}
}

// EnsureCatalog seeds credit packages. Packages from the catalog file are
// upserted by id; without a file a single default package is created when
// the catalog is empty.
func (s *PackageService) EnsureCatalog(ctx context.Context) error {
	if s.defaults.File != "" {
		return s.loadCatalogFile(ctx, s.defaults.File)
	}
	existing, err := s.repo.List(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	now := time.Now().UTC()
	pkg := &models.CreditPackage{
		ID:                ids.New(ids.Package),
		Name:              fmt.Sprintf("%d credits", s.defaults.Credits),
		Description:       "Starter credit package",
		Credits:           s.defaults.Credits,
		PriceMinorUnits:   s.defaults.PriceMinorUnits,
		Currency:          s.defaults.Currency,
		IsActive:          true,
		ProviderProductID: s.defaults.ProductID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := s.repo.Create(ctx, pkg); err != nil {
		return fmt.Errorf("create default package: %w", err)
	}
	s.log.Info("default credit package created", "package_id", pkg.ID, "credits", pkg.Credits)
	return nil
}

func (s *PackageService) loadCatalogFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read package catalog: %w", err)
	}
	var catalog catalogFile
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("parse package catalog %s: %w", path, err)
	}
	now := time.Now().UTC()
	for i := range catalog.Packages {
		pkg := catalog.Packages[i]
		if pkg.ID == "" {
			return fmt.Errorf("package catalog %s: entry %d has no id", path, i)
		}
		if err := validatePackage(&pkg, s.defaults.Currency); err != nil {
			return fmt.Errorf("package catalog %s: %s: %w", path, pkg.ID, err)
		}
		pkg.UpdatedAt = now
		existing, err := s.repo.GetByID(ctx, pkg.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			pkg.CreatedAt = now
			_, err = s.repo.Create(ctx, &pkg)
		} else {
			_, err = s.repo.Update(ctx, &pkg)
		}
		if err != nil {
			return err
		}
	}
	s.log.Info("package catalog loaded", "file", path, "packages", len(catalog.Packages))
	return nil
}

func (s *PackageService) List(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *PackageService) Get(ctx context.Context, id string) (*models.CreditPackage, error) {
	pkg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, fmt.Errorf("package %s: %w", id, models.ErrNotFound)
	}
	return pkg, nil
}

func (s *PackageService) Create(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error) {
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	now := time.Now().UTC()
	pkg := &models.CreditPackage{
		ID:                ids.New(ids.Package),
		Name:              strings.TrimSpace(input.Name),
		Description:       input.Description,
		Credits:           input.Credits,
		PriceMinorUnits:   input.PriceMinorUnits,
		Currency:          input.Currency,
		IsPopular:         input.IsPopular,
		IsActive:          isActive,
		SortOrder:         input.SortOrder,
		ProviderProductID: input.ProviderProductID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := validatePackage(pkg, s.defaults.Currency); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, pkg)
}

func (s *PackageService) Update(ctx context.Context, id string, input UpdatePackageInput) (*models.CreditPackage, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		existing.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Credits != nil {
		existing.Credits = *input.Credits
	}
	if input.PriceMinorUnits != nil {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.IsPopular != nil {
		existing.IsPopular = *input.IsPopular
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	if input.SortOrder != nil {
		existing.SortOrder = *input.SortOrder
	}
	if input.ProviderProductID != nil {
		existing.ProviderProductID = *input.ProviderProductID
	}
	if err := validatePackage(existing, s.defaults.Currency); err != nil {
		return nil, err
	}
	existing.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, existing)
}

func (s *PackageService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func validatePackage(pkg *models.CreditPackage, defaultCurrency string) error {
	if pkg.Currency == "" {
		pkg.Currency = defaultCurrency
	}
	pkg.Currency = strings.ToUpper(pkg.Currency)
	switch {
	case pkg.Name == "":
		return models.Validationf("name is required")
	case pkg.Credits <= 0:
		return models.Validationf("credits must be positive")
	case pkg.PriceMinorUnits <= 0:
		return models.Validationf("price must be positive")
	}
	return nil
}
