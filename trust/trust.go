// Package trust decides whether a page or an embedded frame comes from an
// origin that should be exempt from suspicion.
//
// Pages are checked against a two-tier whitelist: DefaultDomains, built in
// and immutable, plus a custom list the user grows and shrinks at runtime and
// that lives in a kvstore.Store. Frames are checked against the fixed
// EmbedProviders list by IsFrameOriginTrusted.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/clickguard/domainid"
	"github.com/hazyhaar/clickguard/kvstore"
)

// CustomKey is the store key holding the custom whitelist as a JSON array.
const CustomKey = "customWhitelist"

// ErrEmptyDomain is returned when a mutation is given a blank domain.
var ErrEmptyDomain = errors.New("trust: empty domain")

// Scope selects which tiers a page check consults.
type Scope int

const (
	// ScopeCombined consults the built-in and the custom list. It reads the store.
	ScopeCombined Scope = iota
	// ScopeBuiltinOnly consults the built-in list only and never blocks.
	ScopeBuiltinOnly
)

// Evaluator answers page-trust questions and owns custom-list mutations.
type Evaluator struct {
	store   kvstore.Store
	builtin []string
	logger  *slog.Logger

	// mu serialises read-modify-write cycles on the custom list.
	mu sync.Mutex
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithBuiltin replaces the built-in list. Intended for tests and deployments
// with their own baseline.
func WithBuiltin(domains []string) Option {
	return func(e *Evaluator) { e.builtin = domains }
}

// NewEvaluator creates an Evaluator reading the custom list from store.
func NewEvaluator(store kvstore.Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:   store,
		builtin: DefaultDomains,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Builtin returns a copy of the built-in list.
func (e *Evaluator) Builtin() []string {
	return slices.Clone(e.builtin)
}

// Custom returns the current custom list.
func (e *Evaluator) Custom(ctx context.Context) ([]string, error) {
	var custom []string
	if _, err := kvstore.GetJSON(ctx, e.store, CustomKey, &custom); err != nil {
		return nil, fmt.Errorf("trust: load custom list: %w", err)
	}
	return custom, nil
}

// List returns the combined whitelist, built-in entries first.
func (e *Evaluator) List(ctx context.Context) ([]string, error) {
	custom, err := e.Custom(ctx)
	if err != nil {
		return nil, err
	}
	return append(e.Builtin(), custom...), nil
}

// IsPageTrusted reports whether the page at rawURL is whitelisted by either
// tier. Unparseable URLs and store failures are reported as untrusted.
func (e *Evaluator) IsPageTrusted(ctx context.Context, rawURL string) bool {
	return e.CheckPage(ctx, rawURL, ScopeCombined)
}

// CheckPage is IsPageTrusted with an explicit scope. ScopeBuiltinOnly is for
// callers that cannot wait on the store.
func (e *Evaluator) CheckPage(ctx context.Context, rawURL string, scope Scope) bool {
	id, ok := domainid.Normalize(rawURL)
	if !ok {
		return false
	}
	if Contains(id, e.builtin) {
		return true
	}
	if scope == ScopeBuiltinOnly {
		return false
	}

	custom, err := e.Custom(ctx)
	if err != nil {
		e.logger.Warn("trust: custom list unavailable, failing closed", "url", rawURL, "error", err)
		return false
	}
	return Contains(id, custom)
}

// AddTrust adds domain to the custom list. It returns false without writing
// when the domain is already present in either tier.
func (e *Evaluator) AddTrust(ctx context.Context, domain string) (bool, error) {
	d, err := canonical(domain)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.Contains(e.builtin, d) {
		e.logger.Debug("trust: domain already built in", "domain", d)
		return false, nil
	}
	custom, err := e.Custom(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(custom, d) {
		e.logger.Debug("trust: domain already whitelisted", "domain", d)
		return false, nil
	}

	if err := kvstore.SetJSON(ctx, e.store, CustomKey, append(custom, d)); err != nil {
		return false, fmt.Errorf("trust: save custom list: %w", err)
	}
	e.logger.Info("trust: domain added", "domain", d)
	return true, nil
}

// RemoveTrust removes domain from the custom list. Built-in entries cannot
// be removed; asking for one, or for a domain not in the custom list,
// returns false without writing.
func (e *Evaluator) RemoveTrust(ctx context.Context, domain string) (bool, error) {
	d, err := canonical(domain)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	custom, err := e.Custom(ctx)
	if err != nil {
		return false, err
	}
	idx := slices.Index(custom, d)
	if idx < 0 {
		e.logger.Debug("trust: domain not in custom list", "domain", d)
		return false, nil
	}

	if err := kvstore.SetJSON(ctx, e.store, CustomKey, slices.Delete(custom, idx, idx+1)); err != nil {
		return false, fmt.Errorf("trust: save custom list: %w", err)
	}
	e.logger.Info("trust: domain removed", "domain", d)
	return true, nil
}

func canonical(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if d == "" {
		return "", ErrEmptyDomain
	}
	return d, nil
}
