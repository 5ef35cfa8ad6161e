package approval_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rwaadmin/internal/approval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYAML = `
policies:
  - action_class: "transaction:MINT"
    authorized_roles: [signer, Signer]
    override_roles: [super_admin]
    quorum_mode: weight
    quorum_threshold: 3
    expiry_seconds: 86400
  - action_class: "project.phase:DRAFT->DUE_DILIGENCE"
    authorized_roles: [COMPLIANCE, CUSTODY]
    quorum_threshold: 2
    auto_apply_on_quorum: true
    notify_all: true
`

func TestParsePolicies(t *testing.T) {
	policies, err := approval.ParsePolicies([]byte(policyYAML))
	require.NoError(t, err)
	require.Len(t, policies, 2)

	mint := policies[0]
	assert.Equal(t, []string{"SIGNER"}, mint.AuthorizedRoles)
	assert.Equal(t, []string{"SUPER_ADMIN"}, mint.OverrideRoles)
	assert.Equal(t, approval.QuorumWeight, mint.QuorumMode)
	assert.EqualValues(t, 86400, mint.ExpirySeconds)

	phase := policies[1]
	assert.Equal(t, approval.QuorumCount, phase.QuorumMode)
	assert.True(t, phase.AutoApplyOnQuorum)
	assert.True(t, phase.NotifyAll)
}

func TestLoadPoliciesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))

	policies, err := approval.LoadPolicies(path)
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	_, err = approval.LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	cases := map[string]approval.Policy{
		"missing class":     {QuorumMode: approval.QuorumCount, QuorumThreshold: 1},
		"zero threshold":    {ActionClass: "x", QuorumMode: approval.QuorumCount},
		"unknown mode":      {ActionClass: "x", QuorumMode: "MAJORITY", QuorumThreshold: 1},
		"negative expiry":   {ActionClass: "x", QuorumMode: approval.QuorumCount, QuorumThreshold: 1, ExpirySeconds: -1},
		"unreachable count": {ActionClass: "x", AuthorizedRoles: []string{"A"}, QuorumMode: approval.QuorumCount, QuorumThreshold: 2},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Validate(), approval.ErrInvalidInput)
		})
	}

	ok := approval.Policy{ActionClass: "x", AuthorizedRoles: []string{"A"}, OverrideRoles: []string{"B"}, QuorumMode: approval.QuorumCount, QuorumThreshold: 2}
	assert.NoError(t, ok.Validate())
}

func TestStaticResolverReturnsCopies(t *testing.T) {
	r, err := approval.NewStaticResolver(mintPolicy)
	require.NoError(t, err)

	p, err := r.Resolve(context.Background(), mintPolicy.ActionClass)
	require.NoError(t, err)
	p.AuthorizedRoles[0] = "ANYONE"

	again, err := r.Resolve(context.Background(), mintPolicy.ActionClass)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIGNER"}, again.AuthorizedRoles)
	assert.Equal(t, 1, again.Version)

	_, err = r.Resolve(context.Background(), "transaction:BURN")
	assert.ErrorIs(t, err, approval.ErrPolicyNotFound)
}

func TestChainResolverFallsThrough(t *testing.T) {
	first, err := approval.NewStaticResolver(phasePolicy)
	require.NoError(t, err)
	second, err := approval.NewStaticResolver(mintPolicy)
	require.NoError(t, err)
	chain := approval.ChainResolver{first, nil, second}

	p, err := chain.Resolve(context.Background(), mintPolicy.ActionClass)
	require.NoError(t, err)
	assert.Equal(t, mintPolicy.ActionClass, p.ActionClass)

	_, err = chain.Resolve(context.Background(), "nothing")
	assert.ErrorIs(t, err, approval.ErrPolicyNotFound)
}

func TestActionClassHelpers(t *testing.T) {
	assert.Equal(t, "project.phase:DRAFT->DUE_DILIGENCE", approval.PhaseClass("draft", "due_diligence"))
	assert.Equal(t, "transaction:BURN", approval.TransactionClass("burn"))
}
