package approval

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Action class prefixes for the two call sites.
const (
	ClassPhasePrefix       = "project.phase:"
	ClassTransactionPrefix = "transaction:"
)

// PhaseClass returns the action class for advancing a project between phases.
func PhaseClass(from, to string) string {
	return ClassPhasePrefix + strings.ToUpper(from) + "->" + strings.ToUpper(to)
}

// TransactionClass returns the action class for executing a transaction type.
func TransactionClass(txType string) string {
	return ClassTransactionPrefix + strings.ToUpper(txType)
}

// Policy is the approval rule for an action class. It is always handled by
// value; Clone before handing it to code that may retain it.
type Policy struct {
	ActionClass       string     `json:"action_class" yaml:"action_class"`
	AuthorizedRoles   []string   `json:"authorized_roles" yaml:"authorized_roles"`
	OverrideRoles     []string   `json:"override_roles,omitempty" yaml:"override_roles,omitempty"`
	InitiatorRoles    []string   `json:"initiator_roles,omitempty" yaml:"initiator_roles,omitempty"`
	RejectRoles       []string   `json:"reject_roles,omitempty" yaml:"reject_roles,omitempty"`
	ExecuteRoles      []string   `json:"execute_roles,omitempty" yaml:"execute_roles,omitempty"`
	QuorumMode        QuorumMode `json:"quorum_mode" yaml:"quorum_mode"`
	QuorumThreshold   int        `json:"quorum_threshold" yaml:"quorum_threshold"`
	ExpirySeconds     int64      `json:"expiry_seconds,omitempty" yaml:"expiry_seconds,omitempty"`
	AutoApplyOnQuorum bool       `json:"auto_apply_on_quorum" yaml:"auto_apply_on_quorum"`
	NotifyRoles       []string   `json:"notify_roles,omitempty" yaml:"notify_roles,omitempty"`
	NotifyAll         bool       `json:"notify_all,omitempty" yaml:"notify_all,omitempty"`
	Version           int        `json:"version" yaml:"version,omitempty"`
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	p.AuthorizedRoles = slices.Clone(p.AuthorizedRoles)
	p.OverrideRoles = slices.Clone(p.OverrideRoles)
	p.InitiatorRoles = slices.Clone(p.InitiatorRoles)
	p.RejectRoles = slices.Clone(p.RejectRoles)
	p.ExecuteRoles = slices.Clone(p.ExecuteRoles)
	p.NotifyRoles = slices.Clone(p.NotifyRoles)
	return p
}

// Normalize upper-cases and de-duplicates role names and fills the quorum mode default.
func (p Policy) Normalize() Policy {
	p = p.Clone()
	p.ActionClass = strings.TrimSpace(p.ActionClass)
	p.AuthorizedRoles = normalizeRoles(p.AuthorizedRoles)
	p.OverrideRoles = normalizeRoles(p.OverrideRoles)
	p.InitiatorRoles = normalizeRoles(p.InitiatorRoles)
	p.RejectRoles = normalizeRoles(p.RejectRoles)
	p.ExecuteRoles = normalizeRoles(p.ExecuteRoles)
	p.NotifyRoles = normalizeRoles(p.NotifyRoles)
	p.QuorumMode = QuorumMode(strings.ToUpper(strings.TrimSpace(string(p.QuorumMode))))
	if p.QuorumMode == "" {
		p.QuorumMode = QuorumCount
	}
	return p
}

// Validate checks that the policy can drive a request.
func (p Policy) Validate() error {
	if p.ActionClass == "" {
		return fmt.Errorf("%w: action_class is required", ErrInvalidInput)
	}
	switch p.QuorumMode {
	case QuorumCount, QuorumWeight:
	default:
		return fmt.Errorf("%w: unknown quorum_mode %q", ErrInvalidInput, p.QuorumMode)
	}
	if p.QuorumThreshold < 1 {
		return fmt.Errorf("%w: quorum_threshold must be at least 1, got %d", ErrInvalidInput, p.QuorumThreshold)
	}
	if p.ExpirySeconds < 0 {
		return fmt.Errorf("%w: expiry_seconds must not be negative", ErrInvalidInput)
	}
	if p.QuorumMode == QuorumCount && len(p.AuthorizedRoles) > 0 {
		reachable := len(p.AuthorizedRoles) + len(p.OverrideRoles)
		if p.QuorumThreshold > reachable {
			return fmt.Errorf("%w: quorum_threshold %d exceeds the %d distinct roles that can approve",
				ErrInvalidInput, p.QuorumThreshold, reachable)
		}
	}
	return nil
}

// Expiry returns the request lifetime, zero meaning no expiry.
func (p Policy) Expiry() time.Duration {
	return time.Duration(p.ExpirySeconds) * time.Second
}

// CanApprove reports whether role qualifies as an approving role.
func (p Policy) CanApprove(role string) bool {
	return containsRole(p.AuthorizedRoles, role) || containsRole(p.OverrideRoles, role)
}

func (p Policy) rejectRoles() []string {
	if len(p.RejectRoles) > 0 {
		return p.RejectRoles
	}
	return append(slices.Clone(p.AuthorizedRoles), p.OverrideRoles...)
}

func (p Policy) executeRoles() []string {
	if len(p.ExecuteRoles) > 0 {
		return p.ExecuteRoles
	}
	return append(slices.Clone(p.AuthorizedRoles), p.OverrideRoles...)
}

// PolicyResolver returns the approval policy for an action class.
type PolicyResolver interface {
	Resolve(ctx context.Context, actionClass string) (Policy, error)
}

// StaticResolver is an in-memory policy registry.
type StaticResolver struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewStaticResolver registers the given policies.
func NewStaticResolver(policies ...Policy) (*StaticResolver, error) {
	r := &StaticResolver{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a policy. A replaced policy gets a higher version.
func (r *StaticResolver) Register(p Policy) error {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.policies[p.ActionClass]; ok && p.Version <= prev.Version {
		p.Version = prev.Version + 1
	}
	if p.Version == 0 {
		p.Version = 1
	}
	r.policies[p.ActionClass] = p
	return nil
}

// Resolve implements PolicyResolver.
func (r *StaticResolver) Resolve(_ context.Context, actionClass string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[strings.TrimSpace(actionClass)]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, actionClass)
	}
	return p.Clone(), nil
}

// Policies returns a copy of every registered policy.
func (r *StaticResolver) Policies() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b Policy) int { return strings.Compare(a.ActionClass, b.ActionClass) })
	return out
}

// ChainResolver asks each resolver in turn and returns the first policy found.
type ChainResolver []PolicyResolver

// Resolve implements PolicyResolver.
func (c ChainResolver) Resolve(ctx context.Context, actionClass string) (Policy, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		p, err := r.Resolve(ctx, actionClass)
		if err == nil {
			return p, nil
		}
		if !isPolicyNotFound(err) {
			return Policy{}, err
		}
	}
	return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, actionClass)
}

// PolicyFile is the YAML document holding policy definitions.
type PolicyFile struct {
	Policies []Policy `yaml:"policies"`
}

// ParsePolicies decodes a YAML policy document.
func ParsePolicies(data []byte) ([]Policy, error) {
	var doc PolicyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}
	out := make([]Policy, 0, len(doc.Policies))
	for i, p := range doc.Policies {
		p = p.Normalize()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy #%d (%s): %w", i+1, p.ActionClass, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadPolicies reads a YAML policy file.
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// NormalizeRole canonicalizes a role name.
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = NormalizeRole(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsRole(roles []string, role string) bool {
	role = NormalizeRole(role)
	if role == "" {
		return false
	}
	for _, r := range roles {
		if NormalizeRole(r) == role {
			return true
		}
	}
	return false
}
