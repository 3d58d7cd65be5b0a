package member

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	// RoleStaff members are managed through the console, never through a
	// roster file; a roster row colliding with a staff external id is a
	// state conflict, not an update.
	RoleStaff Role = "staff"
)

// ImportableRoles are the roles a roster file is allowed to carry.
var ImportableRoles = []Role{RoleStudent, RoleTeacher}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleStaff:
		return true
	}
	return false
}

func (r Role) Importable() bool {
	return r == RoleStudent || r == RoleTeacher
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Member is a roster entry: a student or teacher identified within the
// tenant by the externally issued id (student/staff number).
type Member struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ExternalID string
	Name       string
	Role       Role
	OrgUnit    *string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (m Member) IsZero() bool {
	return m.ID == uuid.Nil && m.ExternalID == ""
}

// Field length bounds shared by the CSV validator and the DTOs.
const (
	MaxExternalIDLen = 64
	MaxNameLen       = 255
	MaxOrgUnitLen    = 255
)
