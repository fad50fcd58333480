// internal/conference/model.go
package conference

import "time"

// Conference is the directory row a lock protects.
type Conference struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Acronym   string    `gorm:"size:32" json:"acronym"`
	IsLatest  bool      `gorm:"not null;default:false" json:"is_latest"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for Conference
func (Conference) TableName() string {
	return "conferences"
}

// ConferenceEditor grants a user editing rights on a conference.
type ConferenceEditor struct {
	ConferenceID int64     `gorm:"primaryKey"`
	UserID       int64     `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for ConferenceEditor
func (ConferenceEditor) TableName() string {
	return "conference_editors"
}

// Update carries the editable fields. Nil fields are left unchanged.
type Update struct {
	Title   *string `json:"title"`
	Acronym *string `json:"acronym"`
}
