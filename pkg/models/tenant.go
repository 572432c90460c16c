// Package models contains shared data models used across the Herald codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a newsletter publisher account. Every other entity
// belongs to a tenant, and job visibility never crosses tenant boundaries.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Slug      string    `db:"slug"       json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
