package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleBasic      Role = "basic"
	RoleStudent    Role = "student"
	RoleSgiManager Role = "sgi_manager"
	RoleInstructor Role = "instructor"
	RoleSupport    Role = "support"
	RoleAdmin      Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleBasic, RoleStudent, RoleSgiManager, RoleInstructor, RoleSupport, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	Phone            *string    `db:"phone" json:"phone,omitempty"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	Role             Role       `db:"role" json:"role"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	IsVerified       bool       `db:"is_verified" json:"is_verified"`
	EmailVerified    bool       `db:"email_verified" json:"email_verified"`
	PhoneVerified    bool       `db:"phone_verified" json:"phone_verified"`
	IsStaff          bool       `db:"is_staff" json:"is_staff"`
	IsSuperuser      bool       `db:"is_superuser" json:"is_superuser"`
	Paye             bool       `db:"paye" json:"paye"`
	CertOfCompletion bool       `db:"cert_of_completion" json:"cert_of_completion"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	LastLoginIP      *string    `db:"last_login_ip" json:"last_login_ip,omitempty"`
}

// IsAdmin is true for the Admin role and for staff accounts.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.IsStaff
}

func (u *User) PhoneNumber() string {
	if u.Phone == nil {
		return ""
	}
	return *u.Phone
}
