package domain

import "time"

// Principal is an identity that owns members and groups.
// Email and Handle are each unique.
type Principal struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Handle    string    `json:"handle" db:"handle"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UpsertPrincipalRequest is the request body for creating or updating a principal.
type UpsertPrincipalRequest struct {
	Email  string `json:"email"`
	Handle string `json:"handle"`
}
