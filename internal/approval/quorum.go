package approval

// Evaluate computes whether the records satisfy the policy's quorum.
//
// COUNT mode counts distinct qualifying roles, so two members of the same
// role count once. With no authorized roles configured every assigned
// approver qualifies and COUNT falls back to distinct approvers. WEIGHT mode
// sums the weights of qualifying records. The result depends only on the set
// of records, never on their order.
func Evaluate(policy Policy, records []Record) Tally {
	tally := Tally{Required: policy.QuorumThreshold}
	if tally.Required < 1 {
		tally.Required = 1
	}

	byApprover := make(map[string]Record, len(records))
	for _, rec := range records {
		if !qualifies(policy, rec) {
			continue
		}
		prev, seen := byApprover[rec.ApproverID]
		if !seen || rec.Seq < prev.Seq {
			byApprover[rec.ApproverID] = rec
		}
	}

	switch policy.QuorumMode {
	case QuorumWeight:
		for _, rec := range byApprover {
			w := rec.Weight
			if w < 1 {
				w = 1
			}
			tally.Current += w
		}
	default:
		if len(policy.AuthorizedRoles) == 0 {
			tally.Current = len(byApprover)
			break
		}
		roles := make(map[string]struct{}, len(byApprover))
		for _, rec := range byApprover {
			roles[NormalizeRole(rec.ApproverRole)] = struct{}{}
		}
		tally.Current = len(roles)
	}

	tally.Met = tally.Current >= tally.Required
	return tally
}

func qualifies(policy Policy, rec Record) bool {
	if rec.ApproverID == "" {
		return false
	}
	if len(policy.AuthorizedRoles) == 0 {
		return true
	}
	return policy.CanApprove(rec.ApproverRole)
}

// qualifyingRole picks the role an approver approves under. Authorized roles
// not yet represented are preferred so a multi-role approver advances a COUNT
// quorum as far as possible; override roles are used only when no authorized
// role applies. ok is false when the approver may not approve at all.
func qualifyingRole(policy Policy, req *Request, approver Approver, records []Record) (role string, ok bool) {
	if len(policy.AuthorizedRoles) == 0 {
		if len(req.Assignees) > 0 && !containsID(req.Assignees, approver.ID) && !approver.HasAnyRole(policy.OverrideRoles) {
			return "", false
		}
		for _, r := range approver.Roles {
			if containsRole(policy.OverrideRoles, r) {
				return NormalizeRole(r), true
			}
		}
		if len(approver.Roles) == 0 {
			return "", len(req.Assignees) > 0
		}
		return NormalizeRole(approver.Roles[0]), true
	}

	represented := make(map[string]struct{}, len(records))
	for _, rec := range records {
		represented[NormalizeRole(rec.ApproverRole)] = struct{}{}
	}
	var fallback string
	for _, authorized := range policy.AuthorizedRoles {
		if !containsRole(approver.Roles, authorized) {
			continue
		}
		if _, taken := represented[authorized]; !taken {
			return authorized, true
		}
		if fallback == "" {
			fallback = authorized
		}
	}
	if fallback != "" {
		return fallback, true
	}
	for _, override := range policy.OverrideRoles {
		if containsRole(approver.Roles, override) {
			return override, true
		}
	}
	return "", false
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
