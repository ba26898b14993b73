// Package models defines the database models for the reputation ledger.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReputationBlock is one immutable entry in a user's reputation chain.
// Blocks of one user are linked through PreviousHash -> CurrentHash and ordered by CreatedAt.
type ReputationBlock struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	UserID       string         `gorm:"size:64;not null;index:ix_ledger_user_created,priority:1;index:ux_ledger_user_prev,unique,priority:1" json:"user_id"`
	ActionType   string         `gorm:"size:64;not null;index" json:"action_type"`
	Points       int64          `gorm:"not null" json:"points"`
	Metadata     datatypes.JSON `json:"metadata"`
	PreviousHash string         `gorm:"size:64;not null;index:ux_ledger_user_prev,unique,priority:2" json:"previous_hash"`
	CurrentHash  string         `gorm:"size:64;not null;uniqueIndex" json:"current_hash"`
	CreatedAt    time.Time      `gorm:"not null;index:ix_ledger_user_created,priority:2" json:"created_at"`
}

// TableName keeps the table name shared with the web application.
func (ReputationBlock) TableName() string {
	return "reputation_ledger"
}

// Profile is the read-only view of the application's profiles table.
// The ledger never writes it; user management lives elsewhere.
type Profile struct {
	ID       string `gorm:"primaryKey;size:64"`
	FullName string `gorm:"size:255"`
	Role     string `gorm:"size:32"`
}

func (Profile) TableName() string {
	return "profiles"
}
