package audit

// Actions recorded by the signup, invitation and membership services.
const (
	ActionMagicLinkSent      = "magic_link_sent"
	ActionMemberJoined       = "member_joined"
	ActionInvitationSent     = "invitation_sent"
	ActionInvitationAccepted = "invitation_accepted"
	ActionMemberRemoved      = "member_removed"
	ActionLogin              = "login"
	ActionLoginFailure       = "login_failure"
	ActionLogout             = "logout"
	ActionPasswordResetSent  = "password_reset_sent"
	ActionPasswordReset      = "password_reset"
	ActionOrgSwitched        = "organization_switched"
	ActionOrgCreated         = "organization_created"
	ActionOrgDeactivated     = "organization_deactivated"
)

// Resources the actions apply to.
const (
	ResourceOrganization = "organization"
	ResourceMembership   = "membership"
	ResourceInvitation   = "invitation"
	ResourceSession      = "session"
	ResourceUser         = "user"
)
