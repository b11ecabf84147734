// Package models contains data structures for the application's domain models.
package models

import "time"

// User is an account that can hold chat memberships. Credentials are issued
// by an external identity provider; only the display name lives here.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserSummary is the public projection of a user returned by the directory endpoint.
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}
