// Package models - directory_user.go defines the local projection of host-application
// accounts and the role catalog used to decide which accounts are privileged.
package models

import "time"

// DirectoryUser is the last known state of an account in the host application.
type DirectoryUser struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	Email        string     `db:"email" json:"email"`
	Roles        []string   `db:"roles" json:"roles"`
	ContentCount int        `db:"content_count" json:"content_count"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// Role is one entry in the role catalog. Privilege orders roles; the role
// with the highest privilege is treated as the most sensitive.
type Role struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Privilege   int    `db:"privilege" json:"privilege"`
	IsDefault   bool   `db:"is_default" json:"is_default"`
}

// PrivilegedUser is a row of the privileged-user snapshot shown in reports
// and exports. Role is the formatted display string.
type PrivilegedUser struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}
