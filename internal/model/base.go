package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role is the caller role resolved by the identity provider.
type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RolePractitioner, RoleAdmin:
		return true
	}
	return false
}

// Caller identifies who is performing an operation.
type Caller struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
func (c Caller) IsPatient() bool { return c.Role == RolePatient }
func (c Caller) IsPractitioner() bool { return c.Role == RolePractitioner }

// IsStaff reports whether the caller may act on behalf of patients.
func (c Caller) IsStaff() bool {
	return c.Role == RolePractitioner || c.Role == RoleAdmin
}

// SystemCaller is used by background jobs.
var SystemCaller = Caller{Role: RoleAdmin}
