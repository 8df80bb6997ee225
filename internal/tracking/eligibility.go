package tracking

import (
	"log/slog"

	"tsunami/internal/entity"
)

// Predicate decides whether an entity type is tracked. It must be pure and
// safe for concurrent use.
type Predicate func(entityType string) bool

// Namespaces and types reserved for framework internals. These are never
// tracked, regardless of configuration or predicate overrides: tracking the
// engine's own tables would recurse, and the others churn constantly with
// no audit value.
var (
	defaultBlacklistedNamespaces = map[string]struct{}{
		"migrations":   {},
		"contenttypes": {},
		"sessions":     {},
		"admin":        {},
		"tsunami":      {},
	}
	defaultBlacklistedTypes = map[string]struct{}{
		"auth.permission": {},
	}
)

// Policy is the configured eligibility predicate. The zero configuration
// tracks every type outside the default blacklists; configuring any
// whitelist flips the default to "track nothing unless explicitly allowed".
//
// Precedence, highest first, each rule short-circuiting:
//
//  1. default blacklists (non-overridable)
//  2. configured type blacklist (binds the override predicate too)
//  3. override predicate, when configured (replaces rules 4-6)
//  4. configured type whitelist
//  5. configured namespace blacklist
//  6. configured namespace whitelist
//  7. tracked iff no whitelist of either kind is configured
//
// A type-level whitelist entry deliberately wins over a namespace-level
// blacklist: listing a type by name is the more specific statement of
// intent. This ordering is fixed and documented here rather than left to
// configuration.
type Policy struct {
	blacklistTypes      map[string]struct{}
	whitelistTypes      map[string]struct{}
	blacklistNamespaces map[string]struct{}
	whitelistNamespaces map[string]struct{}

	hasTypeWhitelist      bool
	hasNamespaceWhitelist bool

	override Predicate
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithBlacklistedTypes excludes specific type labels from tracking.
func WithBlacklistedTypes(labels ...string) PolicyOption {
	return func(p *Policy) { addAll(p.blacklistTypes, labels) }
}

// WithWhitelistedTypes restricts tracking to specific type labels. Using
// this option at all switches the default from track-everything to
// track-nothing, even with an empty list.
func WithWhitelistedTypes(labels ...string) PolicyOption {
	return func(p *Policy) {
		p.hasTypeWhitelist = true
		addAll(p.whitelistTypes, labels)
	}
}

// WithBlacklistedNamespaces excludes whole namespaces from tracking.
func WithBlacklistedNamespaces(namespaces ...string) PolicyOption {
	return func(p *Policy) { addAll(p.blacklistNamespaces, namespaces) }
}

// WithWhitelistedNamespaces restricts tracking to specific namespaces.
// Like WithWhitelistedTypes, its mere presence switches the default.
func WithWhitelistedNamespaces(namespaces ...string) PolicyOption {
	return func(p *Policy) {
		p.hasNamespaceWhitelist = true
		addAll(p.whitelistNamespaces, namespaces)
	}
}

// WithPredicate replaces the whitelist-driven decision wholesale. The
// default blacklists and the configured type blacklist still apply before
// the override runs; an override can widen tracking, not resurrect a
// blacklisted type.
func WithPredicate(pred Predicate) PolicyOption {
	return func(p *Policy) { p.override = pred }
}

func addAll(set map[string]struct{}, keys []string) {
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// NewPolicy builds an immutable eligibility policy. Labels configured in
// both a whitelist and a blacklist at the same level are resolved by the
// precedence order (blacklist wins) and reported through the logger.
func NewPolicy(logger *slog.Logger, opts ...PolicyOption) *Policy {
	p := &Policy{
		blacklistTypes:      make(map[string]struct{}),
		whitelistTypes:      make(map[string]struct{}),
		blacklistNamespaces: make(map[string]struct{}),
		whitelistNamespaces: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if logger != nil {
		for label := range p.whitelistTypes {
			if _, ok := p.blacklistTypes[label]; ok {
				logger.Warn("type is both whitelisted and blacklisted; blacklist wins", "type", label)
			}
		}
		for ns := range p.whitelistNamespaces {
			if _, ok := p.blacklistNamespaces[ns]; ok {
				logger.Warn("namespace is both whitelisted and blacklisted; blacklist wins", "namespace", ns)
			}
		}
	}
	return p
}

// IsTracked reports whether the given entity type is tracked. Pure and safe
// for unlocked concurrent use: the policy is immutable after construction.
func (p *Policy) IsTracked(label string) bool {
	ns := entity.Namespace(label)
	if _, ok := defaultBlacklistedNamespaces[ns]; ok {
		return false
	}
	if _, ok := defaultBlacklistedTypes[label]; ok {
		return false
	}
	if _, ok := p.blacklistTypes[label]; ok {
		return false
	}
	if p.override != nil {
		return p.override(label)
	}
	if _, ok := p.whitelistTypes[label]; ok {
		return true
	}
	if _, ok := p.blacklistNamespaces[ns]; ok {
		return false
	}
	if _, ok := p.whitelistNamespaces[ns]; ok {
		return true
	}
	return !p.hasTypeWhitelist && !p.hasNamespaceWhitelist
}
