package entity

import (
	"time"
)

// User is the aggregate root for the credential domain.
// Password holds a bcrypt hash, never a plaintext; repository reads leave
// it empty unless the secret is explicitly requested. ResetTokenHash and
// ResetTokenExpiresAt are either both set (a reset request is outstanding)
// or both nil.
type User struct {
	ID                  string
	Email               string
	Password            string
	Name                string
	AvatarURL           string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PublicView is the outward serialization of a user. Secret fields have no
// representation here at all.
type PublicView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Public returns the user's public view.
func (u *User) Public() PublicView {
	return PublicView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}
