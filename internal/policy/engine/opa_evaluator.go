package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyPackage = "data.inclusion.capabilities"

// capabilityPolicy maps roles to organization categories and derives what a member may do.
// A user holds exactly one role; staff roles are locked to one category each.
const capabilityPolicy = `package inclusion.capabilities

staff_role := {
	"siae": "employer",
	"prescriber": "prescriber",
	"institution": "labor_inspector",
}

role_matches if {
	input.actor.role == staff_role[input.org.category]
}

default can_join := false

can_join if {
	input.org.active
	role_matches
}

default can_invite := false

can_invite if {
	input.org.active
	input.actor.is_member
	role_matches
}

default can_remove_member := false

can_remove_member if {
	input.org.active
	input.actor.is_member
	input.actor.is_admin
	input.target.is_member
	not input.target.is_self
}
`

var ErrUnknownCapability = errors.New("unknown capability")

// OPAAuthorizer evaluates the capability policy with an embedded OPA engine.
// Queries are prepared once; evaluation is safe for concurrent use.
type OPAAuthorizer struct {
	queries map[Capability]rego.PreparedEvalQuery
}

// NewOPAAuthorizer compiles the capability policy.
func NewOPAAuthorizer(ctx context.Context) (*OPAAuthorizer, error) {
	a := &OPAAuthorizer{queries: make(map[Capability]rego.PreparedEvalQuery)}
	for _, c := range []Capability{CanJoin, CanInvite, CanRemoveMember} {
		pq, err := rego.New(
			rego.Query(policyPackage+"."+string(c)),
			rego.Module("capabilities.rego", capabilityPolicy),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", c, err)
		}
		a.queries[c] = pq
	}
	return a, nil
}

// Allowed evaluates capability c. Any evaluation problem denies.
func (a *OPAAuthorizer) Allowed(ctx context.Context, c Capability, in Input) (bool, error) {
	pq, ok := a.queries[c]
	if !ok {
		return false, ErrUnknownCapability
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return false, fmt.Errorf("eval %s: %w", c, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates a known-allowed decision to prove the engine works.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	ok, err := a.Allowed(ctx, CanJoin, Input{ActorRole: "employer", OrgCategory: "siae", OrgActive: true})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("capability policy denied a known-allowed decision")
	}
	return nil
}

func buildInput(in Input) map[string]any {
	return map[string]any{
		"actor": map[string]any{
			"role":      in.ActorRole,
			"is_member": in.ActorIsMember,
			"is_admin":  in.ActorIsAdmin,
		},
		"org": map[string]any{
			"category": in.OrgCategory,
			"active":   in.OrgActive,
		},
		"target": map[string]any{
			"is_member": in.TargetIsMember,
			"is_self":   in.TargetIsSelf,
		},
	}
}
