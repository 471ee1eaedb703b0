package persistence

import (
	"time"

	"gorm.io/gorm"
)

//Pin persists an accessibility report. Rows are inserted and deleted, never updated.
type Pin struct {
	gorm.Model
	PinID             string `gorm:"uniqueIndex;size:64"`
	Latitude          float64
	Longitude         float64
	Category          string `gorm:"size:64"`
	ProblemID         string `gorm:"size:64"`
	ProblemLabel      string
	Glyph             string `gorm:"size:32"`
	Severity          string `gorm:"size:16"`
	Comment           string
	AuthorID          string `gorm:"index;size:64"`
	AuthorDisplayName string
	Timestamp         time.Time `gorm:"index"`
}

//User persists the bare minimum we need to know about an identity
type User struct {
	gorm.Model
	UserID       string `gorm:"uniqueIndex;size:64"`
	DisplayName  string
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
}
