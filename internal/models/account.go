package models

import (
	"time"
)

type Account struct {
	Username  string    `json:"username" db:"username"`
	Balance   int64     `json:"balance" db:"balance"` // minor units (paise)
	Version   int64     `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
