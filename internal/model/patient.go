package model

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	Base
	UserID                 uuid.UUID  `db:"user_id" json:"user_id"`
	FirstName              string     `db:"first_name" json:"first_name"`
	LastName               string     `db:"last_name" json:"last_name"`
	Phone                  string     `db:"phone" json:"phone,omitempty"`
	DateOfBirth            *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	AssignedPractitionerID *uuid.UUID `db:"assigned_practitioner_id" json:"assigned_practitioner_id,omitempty"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Practitioner is a physiotherapist ("kiné").
type Practitioner struct {
	Base
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	FirstName     string    `db:"first_name" json:"first_name"`
	LastName      string    `db:"last_name" json:"last_name"`
	Specialty     string    `db:"specialty" json:"specialty"`
	LicenseNumber string    `db:"license_number" json:"license_number"`
}
