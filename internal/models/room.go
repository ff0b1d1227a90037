package models

import "time"

// Room is a study room owned by one user.
type Room struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Tags        []string  `json:"tags" gorm:"serializer:json"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private" gorm:"column:is_private;default:false"`
	MaxMembers  int       `json:"max_members" gorm:"column:max_members;default:8"`
	OwnerID     string    `json:"owner_id" gorm:"column:owner_id;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Room Model
func (Room) TableName() string {
	return "rooms"
}
