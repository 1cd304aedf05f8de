package models

import "time"

// User is the local user directory entry. Authentication lives elsewhere;
// the billing core only needs identity and a delivery address.
type User struct {
	ID        string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email     string    `gorm:"column:email;type:varchar(100);not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"column:name;type:varchar(255)" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
