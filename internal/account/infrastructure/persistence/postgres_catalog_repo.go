package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedPersistence "github.com/avwx-rest/account-backend/internal/shared/infrastructure/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalogRepository reads the plan and addon catalogs. Catalog rows
// change through migrations and the admin CLI, never through the API.
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgresCatalogRepository.
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

// PlanByKey returns the plan with the given key.
func (r *PostgresCatalogRepository) PlanByKey(ctx context.Context, key string) (*domain.Plan, error) {
	query := `
		SELECT key, name, level, price, request_limit, stripe_price_id
		FROM plans WHERE key = $1
	`
	return r.scanPlan(ctx, query, key)
}

// PlanByPriceID returns the plan billed at the given price id.
func (r *PostgresCatalogRepository) PlanByPriceID(ctx context.Context, priceID string) (*domain.Plan, error) {
	if priceID == "" {
		return nil, domain.ErrPlanNotFound
	}
	query := `
		SELECT key, name, level, price, request_limit, stripe_price_id
		FROM plans WHERE stripe_price_id = $1
	`
	return r.scanPlan(ctx, query, priceID)
}

func (r *PostgresCatalogRepository) scanPlan(ctx context.Context, query string, arg any) (*domain.Plan, error) {
	execer := sharedPersistence.Executor(ctx, r.pool)

	var (
		plan     domain.Plan
		stripeID *string
	)
	err := execer.QueryRow(ctx, query, arg).Scan(&plan.Key, &plan.Name, &plan.Level, &plan.Price, &plan.Limit, &stripeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	if stripeID != nil {
		plan.StripeID = *stripeID
	}
	return &plan, nil
}

// AllPlans lists every plan ordered by tier.
func (r *PostgresCatalogRepository) AllPlans(ctx context.Context) ([]domain.Plan, error) {
	query := `
		SELECT key, name, level, price, request_limit, stripe_price_id
		FROM plans ORDER BY level
	`
	execer := sharedPersistence.Executor(ctx, r.pool)

	rows, err := execer.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var (
			plan     domain.Plan
			stripeID *string
		)
		if err := rows.Scan(&plan.Key, &plan.Name, &plan.Level, &plan.Price, &plan.Limit, &stripeID); err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		if stripeID != nil {
			plan.StripeID = *stripeID
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// AddonByKey returns the addon with the given key.
func (r *PostgresCatalogRepository) AddonByKey(ctx context.Context, key string) (*domain.Addon, error) {
	query := `
		SELECT key, product_id, price_ids, metered
		FROM addons WHERE key = $1
	`
	execer := sharedPersistence.Executor(ctx, r.pool)

	var addon domain.Addon
	err := execer.QueryRow(ctx, query, key).Scan(&addon.Key, &addon.ProductID, &addon.PriceIDs, &addon.Metered)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAddonNotFound
		}
		return nil, fmt.Errorf("querying addon: %w", err)
	}
	return &addon, nil
}

// AddonByPriceID returns the addon billed at the given price id on any tier.
func (r *PostgresCatalogRepository) AddonByPriceID(ctx context.Context, priceID string) (*domain.Addon, error) {
	addons, err := r.AllAddons(ctx)
	if err != nil {
		return nil, err
	}
	for i := range addons {
		if addons[i].HasPrice(priceID) {
			return &addons[i], nil
		}
	}
	return nil, domain.ErrAddonNotFound
}

// AllAddons lists every addon.
func (r *PostgresCatalogRepository) AllAddons(ctx context.Context) ([]domain.Addon, error) {
	query := `
		SELECT key, product_id, price_ids, metered
		FROM addons ORDER BY key
	`
	execer := sharedPersistence.Executor(ctx, r.pool)

	rows, err := execer.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying addons: %w", err)
	}
	defer rows.Close()

	var addons []domain.Addon
	for rows.Next() {
		var addon domain.Addon
		if err := rows.Scan(&addon.Key, &addon.ProductID, &addon.PriceIDs, &addon.Metered); err != nil {
			return nil, fmt.Errorf("scanning addon: %w", err)
		}
		addons = append(addons, addon)
	}
	return addons, rows.Err()
}

// UpsertPlan writes a catalog plan row. Used by migrations seeding and the
// admin CLI.
func (r *PostgresCatalogRepository) UpsertPlan(ctx context.Context, plan domain.Plan) error {
	query := `
		INSERT INTO plans (key, name, level, price, request_limit, stripe_price_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			level = EXCLUDED.level,
			price = EXCLUDED.price,
			request_limit = EXCLUDED.request_limit,
			stripe_price_id = EXCLUDED.stripe_price_id
	`
	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err := execer.Exec(ctx, query, plan.Key, plan.Name, plan.Level, plan.Price, plan.Limit, plan.StripeID)
	return err
}

// UpsertAddon writes a catalog addon row.
func (r *PostgresCatalogRepository) UpsertAddon(ctx context.Context, addon domain.Addon) error {
	query := `
		INSERT INTO addons (key, product_id, price_ids, metered)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			price_ids = EXCLUDED.price_ids,
			metered = EXCLUDED.metered
	`
	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err := execer.Exec(ctx, query, addon.Key, addon.ProductID, addon.PriceIDs, addon.Metered)
	return err
}
