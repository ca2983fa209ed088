package models

import "time"

// Session rows are owned by the surrounding application. The relay reads
// them to resolve a slug to an id, and only writes the title when the
// insight pass asks for it.
type Session struct {
	ID        string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Slug      string     `gorm:"column:slug;type:text;uniqueIndex" json:"slug"`
	Title     string     `gorm:"column:title;type:text" json:"title"`
	Status    string     `gorm:"column:status;type:text" json:"status"` // active|ended
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
}

func (Session) TableName() string { return "sessions" }

// Participant maps a media-room identity to a stable row per session.
type Participant struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"column:session_id;type:uuid;index:idx_participants_session_identity,unique" json:"session_id"`
	Identity  string    `gorm:"column:identity;type:text;index:idx_participants_session_identity,unique" json:"identity"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (Participant) TableName() string { return "participants" }
