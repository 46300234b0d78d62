package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/domain/pricing"
	"github.com/staryer/backend/internal/domain/shared"
	"github.com/staryer/backend/internal/domain/tiers"
)

// ImpactPolicy holds the estimation constants of the impact model. These
// are heuristic policy guesses, not derived from behavioral data, so they
// are injected from configuration rather than hard-coded.
type ImpactPolicy struct {
	GrandfatherMonths   int
	ChurnRate           float64
	AutoMigratePct      float64
	RenewalMigratePct   float64
	RequiresApprovalPct float64
	AtRiskPct           float64
}

// DefaultImpactPolicy returns the stock estimation split
func DefaultImpactPolicy() ImpactPolicy {
	return ImpactPolicy{
		GrandfatherMonths:   12,
		ChurnRate:           0.15,
		AutoMigratePct:      0.30,
		RenewalMigratePct:   0.50,
		RequiresApprovalPct: 0.15,
		AtRiskPct:           0.05,
	}
}

// SubscriberBreakdown estimates how existing subscribers split across
// migration outcomes.
type SubscriberBreakdown struct {
	Total             int `json:"total"`
	Grandfathered     int `json:"grandfathered"`
	AutoMigrated      int `json:"auto_migrated"`
	MigratedAtRenewal int `json:"migrated_at_renewal"`
	RequiresApproval  int `json:"requires_approval"`
	AtRisk            int `json:"at_risk"`
}

// ImpactAnalysis is the estimated effect of a pricing change
type ImpactAnalysis struct {
	TierID                  uuid.UUID           `json:"tier_id"`
	OldPrice                decimal.Decimal     `json:"old_price"`
	NewPrice                decimal.Decimal     `json:"new_price"`
	PercentChange           decimal.Decimal     `json:"percent_change"`
	CurrentMonthlyRevenue   decimal.Decimal     `json:"current_monthly_revenue"`
	ProjectedMonthlyRevenue decimal.Decimal     `json:"projected_monthly_revenue"`
	EstimatedChurn          int                 `json:"estimated_churn"`
	Breakdown               SubscriberBreakdown `json:"breakdown"`
}

// ValidationResult collects rule violations for a proposed change. Errors
// make the change unsubmittable; warnings are advisory.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateChangeInput is a proposed pricing change to check
type ValidateChangeInput struct {
	OldPrice        decimal.Decimal
	NewPrice        decimal.Decimal
	EffectiveDate   time.Time
	RemovedFeatures []string
}

// AnalyzerService models the impact of pricing changes and manages their
// notification lifecycle.
type AnalyzerService struct {
	changeRepo     pricing.ChangeRepository
	tierRepo       tiers.TierRepository
	assignmentRepo tiers.AssignmentRepository
	policy         ImpactPolicy
	logger         *zap.Logger
}

// NewAnalyzerService creates a new pricing analyzer service
func NewAnalyzerService(
	changeRepo pricing.ChangeRepository,
	tierRepo tiers.TierRepository,
	assignmentRepo tiers.AssignmentRepository,
	policy ImpactPolicy,
	logger *zap.Logger,
) *AnalyzerService {
	return &AnalyzerService{
		changeRepo:     changeRepo,
		tierRepo:       tierRepo,
		assignmentRepo: assignmentRepo,
		policy:         policy,
		logger:         logger,
	}
}

// IsGrandfathered reports whether a subscription started long enough ago to
// be exempt from pricing changes. The boundary is inclusive: exactly
// GrandfatherMonths of age qualifies.
func (s *AnalyzerService) IsGrandfathered(subscribedAt, asOf time.Time) bool {
	return !subscribedAt.AddDate(0, s.policy.GrandfatherMonths, 0).After(asOf)
}

// AnalyzeChangeImpact estimates revenue and subscriber effects of changing
// a tier's price. The split percentages apply to non-grandfathered
// subscribers only; grandfathered ones keep the old price.
func (s *AnalyzerService) AnalyzeChangeImpact(ctx context.Context, tenantID, tierID uuid.UUID, newPrice decimal.Decimal) (*ImpactAnalysis, error) {
	tier, err := s.tierRepo.FindByID(ctx, tenantID, tierID)
	if err != nil {
		return nil, err
	}

	assignments, err := s.assignmentRepo.ListByTier(ctx, tenantID, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	now := time.Now()
	total := 0
	grandfathered := 0
	for _, a := range assignments {
		if !a.IsUsable() {
			continue
		}
		total++
		if s.IsGrandfathered(a.SubscribedAt, now) {
			grandfathered++
		}
	}

	affected := total - grandfathered
	breakdown := SubscriberBreakdown{
		Total:             total,
		Grandfathered:     grandfathered,
		AutoMigrated:      int(math.Round(float64(affected) * s.policy.AutoMigratePct)),
		MigratedAtRenewal: int(math.Round(float64(affected) * s.policy.RenewalMigratePct)),
		RequiresApproval:  int(math.Round(float64(affected) * s.policy.RequiresApprovalPct)),
		AtRisk:            int(math.Round(float64(affected) * s.policy.AtRiskPct)),
	}

	churn := int(math.Round(float64(affected) * s.policy.ChurnRate))
	retained := affected - churn

	current := tier.Price.Mul(decimal.NewFromInt(int64(total)))
	projected := tier.Price.Mul(decimal.NewFromInt(int64(grandfathered))).
		Add(newPrice.Mul(decimal.NewFromInt(int64(retained))))

	analysis := &ImpactAnalysis{
		TierID:                  tierID,
		OldPrice:                tier.Price,
		NewPrice:                newPrice,
		CurrentMonthlyRevenue:   current,
		ProjectedMonthlyRevenue: projected,
		EstimatedChurn:          churn,
		Breakdown:               breakdown,
	}
	if !tier.Price.IsZero() {
		analysis.PercentChange = newPrice.Sub(tier.Price).Div(tier.Price).Mul(decimal.NewFromInt(100))
	}

	return analysis, nil
}

// ValidatePricingChange runs the rule checks on a proposed change
func (s *AnalyzerService) ValidatePricingChange(input ValidateChangeInput) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	now := time.Now()
	switch {
	case input.EffectiveDate.Before(now.Add(24 * time.Hour)):
		result.Errors = append(result.Errors, "effective date must be at least 1 day in the future")
	case input.EffectiveDate.Before(now.Add(7 * 24 * time.Hour)):
		result.Warnings = append(result.Warnings, "effective date is less than 7 days out; customers may feel rushed")
	}

	if input.NewPrice.GreaterThan(input.OldPrice) && !input.OldPrice.IsZero() {
		increase := input.NewPrice.Sub(input.OldPrice).Div(input.OldPrice).Mul(decimal.NewFromInt(100))
		switch {
		case increase.GreaterThan(decimal.NewFromInt(100)):
			result.Errors = append(result.Errors, fmt.Sprintf("price increase of %s%% exceeds the 100%% maximum", increase.Round(1)))
		case increase.GreaterThan(decimal.NewFromInt(50)):
			result.Warnings = append(result.Warnings, fmt.Sprintf("price increase of %s%% is above 50%%; expect pushback", increase.Round(1)))
		}
	}

	if len(input.RemovedFeatures) > 0 {
		result.Warnings = append(result.Warnings, "removing features from existing subscribers; consider grandfathering them")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// CreateChange drafts a pricing change notification after validating it
func (s *AnalyzerService) CreateChange(ctx context.Context, tenantID, tierID uuid.UUID, newPrice decimal.Decimal, effectiveDate time.Time, reason string, removedFeatures []string) (*pricing.PricingChangeNotification, error) {
	tier, err := s.tierRepo.FindByID(ctx, tenantID, tierID)
	if err != nil {
		return nil, err
	}

	validation := s.ValidatePricingChange(ValidateChangeInput{
		OldPrice:        tier.Price,
		NewPrice:        newPrice,
		EffectiveDate:   effectiveDate,
		RemovedFeatures: removedFeatures,
	})
	if !validation.Valid {
		return nil, shared.NewDomainError("INVALID_PRICING_CHANGE", validation.Errors[0])
	}

	change, err := pricing.NewPricingChangeNotification(tenantID, tierID, tier.Name, tier.Price, newPrice, effectiveDate, reason)
	if err != nil {
		return nil, err
	}
	change.RemovedFeatures = removedFeatures

	if err := s.changeRepo.Save(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to save pricing change: %w", err)
	}

	s.logger.Info("pricing change drafted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("tier_id", tierID.String()),
		zap.String("old_price", tier.Price.String()),
		zap.String("new_price", newPrice.String()))

	return change, nil
}

// ApproveChange records creator sign-off on a draft
func (s *AnalyzerService) ApproveChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error) {
	return s.mutate(ctx, tenantID, changeID, (*pricing.PricingChangeNotification).Approve)
}

// ScheduleChange queues an approved draft for delivery
func (s *AnalyzerService) ScheduleChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error) {
	return s.mutate(ctx, tenantID, changeID, (*pricing.PricingChangeNotification).Schedule)
}

// CancelChange abandons a draft or scheduled change
func (s *AnalyzerService) CancelChange(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error) {
	return s.mutate(ctx, tenantID, changeID, (*pricing.PricingChangeNotification).Cancel)
}

// MarkChangeSent finalizes a scheduled change after delivery
func (s *AnalyzerService) MarkChangeSent(ctx context.Context, tenantID, changeID uuid.UUID) (*pricing.PricingChangeNotification, error) {
	return s.mutate(ctx, tenantID, changeID, (*pricing.PricingChangeNotification).MarkSent)
}

// ListChanges returns a tier's pricing change history
func (s *AnalyzerService) ListChanges(ctx context.Context, tenantID, tierID uuid.UUID) ([]*pricing.PricingChangeNotification, error) {
	return s.changeRepo.ListByTier(ctx, tenantID, tierID)
}

func (s *AnalyzerService) mutate(ctx context.Context, tenantID, changeID uuid.UUID, op func(*pricing.PricingChangeNotification) error) (*pricing.PricingChangeNotification, error) {
	change, err := s.changeRepo.FindByID(ctx, tenantID, changeID)
	if err != nil {
		return nil, err
	}
	if err := op(change); err != nil {
		return nil, err
	}
	if err := s.changeRepo.Update(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to update pricing change: %w", err)
	}
	return change, nil
}
