package approval_test

import (
	"math/rand"
	"testing"

	"rwaadmin/internal/approval"

	"github.com/stretchr/testify/assert"
)

func rec(approver, role string, weight, seq int) approval.Record {
	return approval.Record{RequestID: "r1", ApproverID: approver, ApproverRole: role, Weight: weight, Seq: seq}
}

func TestEvaluateCountDistinctRoles(t *testing.T) {
	policy := approval.Policy{
		AuthorizedRoles: []string{"COMPLIANCE", "CUSTODY"},
		QuorumMode:      approval.QuorumCount,
		QuorumThreshold: 2,
	}

	mixed := approval.Evaluate(policy, []approval.Record{
		rec("alice", "COMPLIANCE", 1, 1),
		rec("bob", "CUSTODY", 1, 2),
	})
	assert.Equal(t, approval.Tally{Met: true, Current: 2, Required: 2}, mixed)

	sameRole := approval.Evaluate(policy, []approval.Record{
		rec("alice", "COMPLIANCE", 1, 1),
		rec("carol", "COMPLIANCE", 1, 2),
	})
	assert.False(t, sameRole.Met)
	assert.Equal(t, 1, sameRole.Current)
}

func TestEvaluateOverrideRoleCounts(t *testing.T) {
	policy := approval.Policy{
		AuthorizedRoles: []string{"CUSTODY"},
		OverrideRoles:   []string{"SUPER_ADMIN"},
		QuorumMode:      approval.QuorumCount,
		QuorumThreshold: 1,
	}
	tally := approval.Evaluate(policy, []approval.Record{rec("root", "SUPER_ADMIN", 1, 1)})
	assert.True(t, tally.Met)
	assert.Equal(t, 1, tally.Current)
}

func TestEvaluateIgnoresUnqualifiedRoles(t *testing.T) {
	policy := approval.Policy{
		AuthorizedRoles: []string{"CUSTODY"},
		QuorumMode:      approval.QuorumCount,
		QuorumThreshold: 1,
	}
	tally := approval.Evaluate(policy, []approval.Record{rec("eve", "MARKETING", 1, 1)})
	assert.False(t, tally.Met)
	assert.Zero(t, tally.Current)
}

func TestEvaluateWeight(t *testing.T) {
	policy := approval.Policy{
		AuthorizedRoles: []string{"SIGNER"},
		QuorumMode:      approval.QuorumWeight,
		QuorumThreshold: 3,
	}
	one := approval.Evaluate(policy, []approval.Record{rec("s1", "SIGNER", 2, 1)})
	assert.Equal(t, approval.Tally{Met: false, Current: 2, Required: 3}, one)

	two := approval.Evaluate(policy, []approval.Record{rec("s1", "SIGNER", 2, 1), rec("s2", "SIGNER", 2, 2)})
	assert.Equal(t, approval.Tally{Met: true, Current: 4, Required: 3}, two)
}

func TestEvaluateCountsEachApproverOnce(t *testing.T) {
	policy := approval.Policy{
		AuthorizedRoles: []string{"SIGNER"},
		QuorumMode:      approval.QuorumWeight,
		QuorumThreshold: 4,
	}
	tally := approval.Evaluate(policy, []approval.Record{rec("s1", "SIGNER", 2, 1), rec("s1", "SIGNER", 2, 2)})
	assert.Equal(t, 2, tally.Current)
	assert.False(t, tally.Met)
}

func TestEvaluateWithoutAuthorizedRolesCountsApprovers(t *testing.T) {
	policy := approval.Policy{QuorumMode: approval.QuorumCount, QuorumThreshold: 2}
	tally := approval.Evaluate(policy, []approval.Record{
		rec("a", "ANALYST", 1, 1),
		rec("b", "ANALYST", 1, 2),
	})
	assert.True(t, tally.Met)
	assert.Equal(t, 2, tally.Current)
}

func TestEvaluateIsOrderIndependent(t *testing.T) {
	policies := []approval.Policy{
		{AuthorizedRoles: []string{"COMPLIANCE", "CUSTODY", "LEGAL"}, OverrideRoles: []string{"SUPER_ADMIN"}, QuorumMode: approval.QuorumCount, QuorumThreshold: 3},
		{AuthorizedRoles: []string{"SIGNER"}, OverrideRoles: []string{"SUPER_ADMIN"}, QuorumMode: approval.QuorumWeight, QuorumThreshold: 5},
	}
	records := []approval.Record{
		rec("a", "COMPLIANCE", 2, 1),
		rec("b", "COMPLIANCE", 1, 2),
		rec("c", "SIGNER", 3, 3),
		rec("d", "SUPER_ADMIN", 1, 4),
		rec("e", "CUSTODY", 1, 5),
		rec("f", "OUTSIDER", 9, 6),
	}
	rng := rand.New(rand.NewSource(42))
	for _, policy := range policies {
		want := approval.Evaluate(policy, records)
		for i := 0; i < 50; i++ {
			shuffled := append([]approval.Record(nil), records...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			assert.Equal(t, want, approval.Evaluate(policy, shuffled))
		}
	}
}
