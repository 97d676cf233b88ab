package models

import "time"

// User is bound one-to-one to an Airtable account. The stored access token is
// the current bearer credential for the Airtable API; a nil TokenExpiresAt
// means the token is treated as non-expiring.
type User struct {
	BaseModel
	AirtableID     string     `json:"airtableId" gorm:"type:varchar(64);uniqueIndex;not null"`
	Email          string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name           string     `json:"name" gorm:"type:varchar(255);not null"`
	AccessToken    string     `json:"-" gorm:"type:text;not null"`
	RefreshToken   *string    `json:"-" gorm:"type:text"`
	TokenExpiresAt *time.Time `json:"-"`
	ProfileImage   *string    `json:"profileImage,omitempty" gorm:"type:text"`
	Forms          []Form     `json:"-" gorm:"foreignKey:UserID"`
}
