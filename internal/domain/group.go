package domain

import "time"

// Group is the other side of the membership relation, owned by its creator.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatorID string    `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GroupWithCreator is a group joined with its owning principal.
type GroupWithCreator struct {
	Group
	Creator Principal `json:"creator" db:"creator"`
}

// GroupDetail is a group with its creator and current members.
type GroupDetail struct {
	Group
	Creator *Principal `json:"creator,omitempty"`
	Members []*Member  `json:"members"`
}

// CreateGroupRequest is the request body for creating a group.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// DeleteGroupResponse is returned after a group has been deleted.
type DeleteGroupResponse struct {
	Message            string   `json:"message"`
	NotifiedRecipients []string `json:"notified_recipients"`
}
