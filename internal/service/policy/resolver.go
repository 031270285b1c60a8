// Package policy computes the effective execution policy for a principal
// against a datasource from the stored access rules.
package policy

import (
	"context"
	"log/slog"
	"slices"

	"querygate/internal/domain"
)

// Resolver combines access rules, group memberships and the datasource
// catalog into a single effective policy per submission.
type Resolver struct {
	rules   domain.AccessRuleRepository
	catalog domain.DatasourceCatalog
	logger  *slog.Logger
}

var _ domain.PolicyResolver = (*Resolver)(nil)

// NewResolver creates a policy resolver.
func NewResolver(rules domain.AccessRuleRepository, cat domain.DatasourceCatalog, logger *slog.Logger) *Resolver {
	return &Resolver{
		rules:   rules,
		catalog: cat,
		logger:  logger.With("component", "policy_resolver"),
	}
}

// Resolve returns the effective policy for the principal on the datasource.
// It fails with NotFoundError for an unknown datasource and AccessDeniedError
// when no rule grants query rights (admins without a matching rule fall back
// to a built-in elevated policy instead).
func (r *Resolver) Resolve(ctx context.Context, principal domain.ContextPrincipal, datasourceID string) (*domain.AccessPolicy, error) {
	ds, err := r.catalog.Get(datasourceID)
	if err != nil {
		return nil, err
	}

	all, err := r.rules.ListForDatasource(ctx, datasourceID)
	if err != nil {
		return nil, err
	}

	// Admins match every rule; everyone else only rules attached to one of
	// their groups. The repository returns rules already ordered by
	// (group id, credential profile) so tie-breaks are reproducible.
	var matching []domain.AccessRule
	for _, rule := range all {
		if !rule.CanQuery {
			continue
		}
		if principal.IsAdmin || slices.Contains(principal.Groups, rule.GroupID) {
			matching = append(matching, rule)
		}
	}

	if len(matching) == 0 {
		if principal.IsAdmin {
			return r.adminFallback(principal, ds)
		}
		return nil, domain.ErrAccessDenied("principal %q has no query access to datasource %q", principal.Name, datasourceID)
	}

	// The effective profile is the first candidate actually configured on
	// the datasource.
	profile := ""
	for _, rule := range matching {
		if ds.HasProfile(rule.CredentialProfile) {
			profile = rule.CredentialProfile
			break
		}
	}
	if profile == "" {
		return nil, domain.ErrAccessDenied("no credential profile granted to principal %q is configured on datasource %q", principal.Name, datasourceID)
	}

	policy := &domain.AccessPolicy{
		CredentialProfile: profile,
		ReadOnly:          true,
		MaxRows:           effectiveLimit(matching, func(r domain.AccessRule) *int64 { return r.MaxRows }, domain.DefaultMaxRows),
		MaxRuntimeSeconds: effectiveLimit(matching, func(r domain.AccessRule) *int64 { return r.MaxRuntimeSeconds }, domain.DefaultMaxRuntimeSeconds),
		MaxConcurrent:     effectiveLimit(matching, func(r domain.AccessRule) *int64 { return r.MaxConcurrent }, domain.DefaultMaxConcurrent),
	}
	for _, rule := range matching {
		policy.ReadOnly = policy.ReadOnly && rule.ReadOnly
	}

	r.logger.Debug("resolved policy",
		"principal", principal.Name,
		"datasource", datasourceID,
		"profile", policy.CredentialProfile,
		"read_only", policy.ReadOnly,
		"max_rows", policy.MaxRows,
		"max_runtime_seconds", policy.MaxRuntimeSeconds,
		"max_concurrent", policy.MaxConcurrent)
	return policy, nil
}

// adminFallback grants the built-in elevated policy to admins with no
// matching rule. The fallback profile still has to exist on the datasource;
// a policy must never name a profile the datasource does not configure.
func (r *Resolver) adminFallback(principal domain.ContextPrincipal, ds *domain.Datasource) (*domain.AccessPolicy, error) {
	if !ds.HasProfile(domain.AdminFallbackProfile) {
		return nil, domain.ErrAccessDenied("admin fallback profile %q is not configured on datasource %q", domain.AdminFallbackProfile, ds.ID)
	}
	r.logger.Debug("admin fallback policy", "principal", principal.Name, "datasource", ds.ID)
	return &domain.AccessPolicy{
		CredentialProfile: domain.AdminFallbackProfile,
		ReadOnly:          false,
		MaxRows:           domain.DefaultMaxRows,
		MaxRuntimeSeconds: domain.DefaultMaxRuntimeSeconds,
		MaxConcurrent:     domain.DefaultMaxConcurrent,
	}, nil
}

// effectiveLimit folds one limit field across all matching rules. A nil rule
// value leaves the limit unspecified, an explicit 0 requests unlimited, and
// positive values are bounds combined by minimum. Positive bounds win over
// explicit 0; when no rule specifies the limit at all the system default
// applies. The returned value uses 0 for unlimited.
func effectiveLimit(rules []domain.AccessRule, field func(domain.AccessRule) *int64, def int64) int64 {
	var (
		minPositive int64
		sawPositive bool
		sawZero     bool
	)
	for _, rule := range rules {
		v := field(rule)
		if v == nil {
			continue
		}
		switch {
		case *v == 0:
			sawZero = true
		case *v > 0:
			if !sawPositive || *v < minPositive {
				minPositive = *v
			}
			sawPositive = true
		}
	}
	switch {
	case sawPositive:
		return minPositive
	case sawZero:
		return 0
	default:
		return def
	}
}
