package models

import "time"

// DateLayout is the key format for epochs (one per UTC calendar day).
const DateLayout = "2006-01-02"

// Epoch is the global emission window for one calendar day.
// TotalReserved includes capacity held by unresolved mint requests;
// TotalMinted only counts confirmed mints. TotalMinted <= TotalReserved <= TotalCap.
type Epoch struct {
	Date          string    `gorm:"primaryKey;type:varchar(10)" json:"date"`
	TotalCap      int64     `gorm:"not null" json:"total_cap"`
	TotalReserved int64     `gorm:"not null;default:0" json:"total_reserved"`
	TotalMinted   int64     `gorm:"not null;default:0" json:"total_minted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserDailyMint is the per-user counter for one epoch.
type UserDailyMint struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Date      string    `gorm:"primaryKey;type:varchar(10)" json:"date"`
	Reserved  int64     `gorm:"not null;default:0" json:"reserved"`
	Minted    int64     `gorm:"not null;default:0" json:"minted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
