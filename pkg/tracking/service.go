package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbeTrackingCode is tracked during a credential check to confirm the
// contract token is accepted by the tracking API.
const ProbeTrackingCode = "AA123456789BR"

const lockKeyPrefix = "tracksync:sync:"

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Carrier     Carrier
	Credentials CredentialStore
	Orders      OrderStore
	Tenants     TenantLister

	// Locker is optional. When set, a tenant sync only runs if no other
	// process is syncing the same tenant.
	Locker  Locker
	LockTTL time.Duration

	// TenantConcurrency bounds how many tenants SyncAllTenants runs at once.
	TenantConcurrency int
}

// Service is the tenant-level entry point used by the CLI and HTTP server.
type Service struct {
	cfg          ServiceConfig
	orchestrator *Orchestrator
	logger       *otelzap.Logger
}

// TenantResult is the outcome of one tenant's sync.
type TenantResult struct {
	TenantID string
	Result   carrier.BatchResult
	Err      error
}

// CredentialCheck reports which stages of a credential check passed.
type CredentialCheck struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	BasicAuth    bool   `json:"basicAuth"`
	ContractAuth bool   `json:"contractAuth"`
	TrackingAPI  bool   `json:"trackingApi"`
}

// NewService creates a Service. classify and opts are passed to the
// underlying Orchestrator.
func NewService(cfg ServiceConfig, classify Classifier, logger *otelzap.Logger, opts ...Option) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.TenantConcurrency <= 0 {
		cfg.TenantConcurrency = 1
	}
	return &Service{
		cfg:          cfg,
		orchestrator: NewOrchestrator(cfg.Carrier, cfg.Orders, classify, logger, opts...),
		logger:       logger,
	}
}

// Orchestrator returns the underlying orchestrator.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// SyncTenant loads the tenant's credential and trackable orders and
// synchronizes them.
func (s *Service) SyncTenant(ctx context.Context, tenantID string) (carrier.BatchResult, error) {
	var result carrier.BatchResult
	run := func(ctx context.Context) error {
		cred, err := s.credential(ctx, tenantID)
		if err != nil {
			return err
		}

		orders, err := s.cfg.Orders.FindTrackable(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("load orders for tenant %s: %w", tenantID, err)
		}

		result, err = s.orchestrator.SyncAll(ctx, cred, orders)
		return err
	}

	if s.cfg.Locker == nil {
		err := run(ctx)
		return result, err
	}
	err := s.cfg.Locker.TryWithLock(ctx, lockKeyPrefix+tenantID, s.cfg.LockTTL, run)
	return result, err
}

// SyncAllTenants syncs every tenant with credentials. A failing tenant does
// not stop the others; its error is reported in its TenantResult.
func (s *Service) SyncAllTenants(ctx context.Context) ([]TenantResult, error) {
	if s.cfg.Tenants == nil {
		return nil, errors.New("no tenant lister configured")
	}
	tenants, err := s.cfg.Tenants.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	results := make([]TenantResult, len(tenants))

	var g errgroup.Group
	g.SetLimit(s.cfg.TenantConcurrency)
	for i, tenantID := range tenants {
		i, tenantID := i, tenantID
		g.Go(func() error {
			res, err := s.SyncTenant(ctx, tenantID)
			results[i] = TenantResult{TenantID: tenantID, Result: res, Err: err}
			if err != nil {
				s.logger.Warn("Tenant sync failed",
					zap.String("tenant_id", tenantID),
					zap.String("error_type", carrier.ErrorType(err)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// TrackCode returns the full event history and canonical status of one code
// using the tenant's credential.
func (s *Service) TrackCode(ctx context.Context, tenantID, trackingCode string) (*carrier.TrackedObject, carrier.CanonicalStatus, error) {
	cred, err := s.credential(ctx, tenantID)
	if err != nil {
		return nil, carrier.StatusUnknown, err
	}
	return s.orchestrator.Lookup(ctx, cred, trackingCode)
}

// CheckTenantCredentials runs CheckCredentials against the stored
// credential of tenantID.
func (s *Service) CheckTenantCredentials(ctx context.Context, tenantID string) (CredentialCheck, error) {
	cred, err := s.cfg.Credentials.FindByTenant(ctx, tenantID)
	if err != nil {
		return CredentialCheck{}, err
	}
	return s.CheckCredentials(ctx, cred), nil
}

// CheckCredentials validates a credential in three stages: account
// authentication, contract authentication and a probe tracking request.
// A blank contract number stops the check after the first stage.
func (s *Service) CheckCredentials(ctx context.Context, cred *carrier.Credential) CredentialCheck {
	var check CredentialCheck
	if cred == nil {
		check.Error = credentialCheckMessage(carrier.ErrCredentialNotFound, false)
		return check
	}

	// Carriers without an account-only login skip this stage.
	if basic, ok := s.cfg.Carrier.(BasicAuthenticator); ok {
		if _, err := basic.AuthenticateBasic(ctx, cred); err != nil {
			check.Error = credentialCheckMessage(err, false)
			s.logCheckFailure(cred, "basic", err)
			return check
		}
		check.BasicAuth = true
	}

	if strings.TrimSpace(cred.ContractNumber) == "" {
		check.Success = true
		return check
	}

	token, err := s.cfg.Carrier.Authenticate(ctx, cred)
	if err != nil {
		check.Error = credentialCheckMessage(err, true)
		s.logCheckFailure(cred, "contract", err)
		return check
	}
	check.ContractAuth = true

	if _, err := s.cfg.Carrier.Track(ctx, token.Token, []string{ProbeTrackingCode}, carrier.ResultLatest); err != nil {
		check.Error = credentialCheckMessage(err, false)
		s.logCheckFailure(cred, "tracking", err)
		return check
	}
	check.TrackingAPI = true
	check.Success = true
	return check
}

// Run syncs all tenants every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sync interval %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Periodic tracking sync started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Periodic tracking sync stopped")
			return nil
		case <-ticker.C:
			results, err := s.SyncAllTenants(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Periodic tracking sync failed", zap.Error(err))
				continue
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			s.logger.Info("Periodic tracking sync completed",
				zap.Int("tenants", len(results)),
				zap.Int("failed_tenants", failed),
			)
		}
	}
}

func (s *Service) credential(ctx context.Context, tenantID string) (*carrier.Credential, error) {
	cred, err := s.cfg.Credentials.FindByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, carrier.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: tenant %s: %w", carrier.ErrAuth, tenantID, err)
		}
		return nil, fmt.Errorf("load credential for tenant %s: %w", tenantID, err)
	}
	return cred, nil
}

func (s *Service) logCheckFailure(cred *carrier.Credential, stage string, err error) {
	s.logger.Warn("Credential check failed",
		zap.String("tenant_id", cred.TenantID),
		zap.String("stage", stage),
		zap.String("error_type", carrier.ErrorType(err)),
		zap.Error(err),
	)
}

func credentialCheckMessage(err error, contractStage bool) string {
	switch {
	case errors.Is(err, carrier.ErrInvalidCredentials):
		return "Invalid credentials. Please check your CPF/CNPJ and access code."
	case contractStage:
		return "Invalid contract number. Please verify your contract information."
	default:
		return "Failed to validate credentials. Please try again."
	}
}
