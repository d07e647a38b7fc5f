package engine

import "context"

// Capability names a rule of the capability policy.
type Capability string

const (
	// CanJoin: the actor's role fits the organization category and the organization is active.
	CanJoin Capability = "can_join"
	// CanInvite: the actor is an active member of an active organization with a matching role.
	CanInvite Capability = "can_invite"
	// CanRemoveMember: the actor is an admin and the target is another active member.
	CanRemoveMember Capability = "can_remove_member"
)

// Input is what the policy sees about one authorization decision.
type Input struct {
	ActorRole      string
	ActorIsMember  bool
	ActorIsAdmin   bool
	OrgCategory    string
	OrgActive      bool
	TargetIsMember bool
	TargetIsSelf   bool
}

// Authorizer answers capability questions for a role in an organization.
type Authorizer interface {
	Allowed(ctx context.Context, c Capability, in Input) (bool, error)
}
