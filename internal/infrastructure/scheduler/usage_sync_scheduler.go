package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staryer/backend/internal/application/billingsync"
	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/domain/tiers"
	"github.com/staryer/backend/internal/infrastructure/config"
)

// TenantSource enumerates tenants for background runs
type TenantSource interface {
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AggregateRebuilder recomputes materialized usage rollups for a period
type AggregateRebuilder interface {
	RebuildBillingPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) (int, error)
}

// BillingSyncer pushes usage to the billing provider and settles overages
type BillingSyncer interface {
	SyncBillingPeriod(ctx context.Context, tenantID uuid.UUID, billingPeriod string) (*billingsync.SyncResult, error)
	SettleOverages(ctx context.Context, tenantID uuid.UUID, billingPeriod string) ([]*tiers.TierUsageOverage, error)
}

// UsageSyncScheduler runs the periodic aggregation rebuild and billing sync
// jobs across all tenants.
type UsageSyncScheduler struct {
	tenants    TenantSource
	aggregator AggregateRebuilder
	syncer     BillingSyncer
	cfg        config.SchedulerConfig
	logger     *zap.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	isRunning  bool
}

// NewUsageSyncScheduler creates a new usage sync scheduler
func NewUsageSyncScheduler(
	tenants TenantSource,
	aggregator AggregateRebuilder,
	syncer BillingSyncer,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *UsageSyncScheduler {
	return &UsageSyncScheduler{
		tenants:    tenants,
		aggregator: aggregator,
		syncer:     syncer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start starts the aggregation and billing sync loops
func (s *UsageSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.logger.Info("Usage sync scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runAggregationLoop(ctx)
	go s.runBillingSyncLoop(ctx)

	s.logger.Info("Usage sync scheduler started",
		zap.Duration("aggregation_interval", s.cfg.AggregationInterval),
		zap.Duration("billing_sync_interval", s.cfg.BillingSyncInterval))

	return nil
}

// Stop gracefully stops the scheduler
func (s *UsageSyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Usage sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Usage sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *UsageSyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// TriggerSyncNow runs an immediate billing sync outside the schedule
func (s *UsageSyncScheduler) TriggerSyncNow(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate billing sync")

	go func() {
		defer s.wg.Done()
		s.executeBillingSync(ctx)
	}()

	return nil
}

func (s *UsageSyncScheduler) runAggregationLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Aggregation loop stopping")
			return
		case <-ticker.C:
			s.executeAggregation(ctx)
		}
	}
}

func (s *UsageSyncScheduler) runBillingSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.BillingSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Billing sync loop stopping")
			return
		case <-ticker.C:
			s.executeBillingSync(ctx)
		}
	}
}

// executeAggregation rebuilds the current period's aggregates for all tenants
func (s *UsageSyncScheduler) executeAggregation(ctx context.Context) {
	period := metering.CurrentBillingPeriod()
	started := time.Now()

	tenantIDs, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list tenants for aggregation", zap.Error(err))
		return
	}

	var rebuilt int
	for _, tenantID := range tenantIDs {
		count, err := s.aggregator.RebuildBillingPeriod(ctx, tenantID, period)
		if err != nil {
			s.logger.Error("Aggregation rebuild failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("billing_period", period),
				zap.Error(err))
			continue
		}
		rebuilt += count
	}

	s.logger.Info("Aggregation rebuild completed",
		zap.String("billing_period", period),
		zap.Int("tenants", len(tenantIDs)),
		zap.Int("aggregates", rebuilt),
		zap.Duration("duration", time.Since(started)))
}

// executeBillingSync reports usage and settles overages for all tenants.
// Per-tenant failures are logged and skipped so one tenant cannot stall the
// rest of the platform.
func (s *UsageSyncScheduler) executeBillingSync(ctx context.Context) {
	period := metering.CurrentBillingPeriod()
	started := time.Now()

	tenantIDs, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list tenants for billing sync", zap.Error(err))
		return
	}

	var synced, failed int
	for _, tenantID := range tenantIDs {
		result, err := s.syncer.SyncBillingPeriod(ctx, tenantID, period)
		if err != nil {
			s.logger.Error("Billing sync failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("billing_period", period),
				zap.Error(err))
			failed++
			continue
		}
		synced += result.Synced

		if _, err := s.syncer.SettleOverages(ctx, tenantID, period); err != nil {
			s.logger.Error("Overage settlement failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("billing_period", period),
				zap.Error(err))
			failed++
		}
	}

	s.logger.Info("Billing sync completed",
		zap.String("billing_period", period),
		zap.Int("tenants", len(tenantIDs)),
		zap.Int("synced", synced),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(started)))
}
