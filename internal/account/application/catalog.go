package application

import (
	"context"

	"github.com/avwx-rest/account-backend/internal/account/domain"
)

// CatalogService exposes the plan and addon catalogs to the API surface.
type CatalogService struct {
	catalog domain.CatalogRepository
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(catalog domain.CatalogRepository) *CatalogService {
	return &CatalogService{catalog: catalog}
}

// Plans lists every plan in the catalog.
func (s *CatalogService) Plans(ctx context.Context) ([]domain.Plan, error) {
	return s.catalog.AllPlans(ctx)
}

// Plan returns a single plan by key.
func (s *CatalogService) Plan(ctx context.Context, key string) (*domain.Plan, error) {
	return s.catalog.PlanByKey(ctx, key)
}

// Addons lists every addon in the catalog.
func (s *CatalogService) Addons(ctx context.Context) ([]domain.Addon, error) {
	return s.catalog.AllAddons(ctx)
}

// Addon returns a single addon by key.
func (s *CatalogService) Addon(ctx context.Context, key string) (*domain.Addon, error) {
	return s.catalog.AddonByKey(ctx, key)
}
