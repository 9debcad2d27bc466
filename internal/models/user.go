package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMechanic Role = "mechanic"
	RoleOwner    Role = "owner"
)

// Actions checked by HasPermission.
const (
	ActionViewVehicles   = "view_vehicles"
	ActionManageVehicles = "manage_vehicles"
	ActionViewSchedule   = "view_schedule"
	ActionViewHistory    = "view_history"
	ActionLogService     = "log_service"
	ActionViewAllOwners  = "view_all_owners"
	ActionManageUsers    = "manage_users"
)

// User is a customer or shop account together with its profile.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	FirstName    string             `bson:"first_name" json:"first_name"`
	LastName     string             `bson:"last_name" json:"last_name"`
	Phone        string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Address      string             `bson:"address,omitempty" json:"address,omitempty"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Role      Role   `json:"role"`
}

// ProfileUpdate carries the editable profile fields; empty fields are left as is.
type ProfileUpdate struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleMechanic, RoleOwner:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform action.
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleMechanic:
		return action != ActionManageUsers
	case RoleOwner:
		return action == ActionViewVehicles || action == ActionManageVehicles ||
			action == ActionViewSchedule || action == ActionViewHistory
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return u.Role.HasPermission(action)
}
