package models

// Role values recognised by the application.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is the authenticated account as returned by auth.me.
type User struct {
	Meta
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
