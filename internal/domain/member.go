package domain

import "time"

// Member is one side of the membership relation. A member is deleted when
// its last membership is explicitly removed.
type Member struct {
	ID        string    `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatorID string    `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MemberWithCreator is a member joined with its owning principal.
type MemberWithCreator struct {
	Member
	Creator Principal `json:"creator" db:"creator"`
}

// CreateMemberRequest is the request body for creating a member.
type CreateMemberRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
