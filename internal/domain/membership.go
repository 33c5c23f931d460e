package domain

// Membership links one member to one group. A (member, group) pair exists at
// most once.
type Membership struct {
	MemberID string `json:"member_id" db:"member_id"`
	GroupID  string `json:"group_id" db:"group_id"`
}

// RemovalResult reports the outcome of removing a membership.
type RemovalResult struct {
	Membership
	MemberDeleted bool `json:"member_deleted"`
}

// AddMembershipRequest is the request body for associating a member with a group.
type AddMembershipRequest struct {
	MemberID string `json:"member_id"`
	GroupID  string `json:"group_id"`
}

// MembershipResponse is returned by association endpoints.
type MembershipResponse struct {
	Message       string `json:"message"`
	MemberID      string `json:"member_id"`
	GroupID       string `json:"group_id"`
	MemberDeleted *bool  `json:"member_deleted,omitempty"`
}
