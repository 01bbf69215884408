package sites

import "time"

// User is an account provisioned from the external auth provider.
// AIProvider and APIKey together form the user's provider selection; APIKey
// holds a vault stored credential, never a plaintext key.
type User struct {
	ID         uint    `gorm:"primaryKey"`
	AuthID     string  `gorm:"size:255;uniqueIndex:idx_users_auth_id;not null"`
	Name       string  `gorm:"size:255;not null;default:''"`
	Plan       string  `gorm:"size:32;not null;default:free"`
	AICredits  int     `gorm:"not null;default:0"`
	SiteCount  int     `gorm:"not null;default:0"`
	AIProvider *string `gorm:"size:32"`
	APIKey     *string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName defines the table name for the User model.
func (User) TableName() string {
	return "users"
}

// CredentialProvider returns the configured provider or "" when unset.
func (u *User) CredentialProvider() string {
	if u == nil || u.AIProvider == nil {
		return ""
	}
	return *u.AIProvider
}

// StoredCredential returns the encrypted key or "" when unset.
func (u *User) StoredCredential() string {
	if u == nil || u.APIKey == nil {
		return ""
	}
	return *u.APIKey
}

// Site is a published website. RouteName is unique across all sites and
// immutable once created; rows are hard-deleted so the name is released.
type Site struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	RouteName string    `gorm:"size:63;uniqueIndex:idx_sites_route_name;not null" json:"routeName"`
	BuildType string    `gorm:"size:64;not null" json:"buildType"`
	OwnerID   uint      `gorm:"index;not null" json:"-"`
	Owner     *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName defines the table name for the Site model.
func (Site) TableName() string {
	return "sites"
}
