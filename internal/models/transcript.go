package models

import "time"

// TranscriptSegment is one finalized utterance. (session_id, utterance_id)
// is the idempotency key: re-writes update text and ended_at, and finality
// never reverts from true to false.
type TranscriptSegment struct {
	ID            string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID     string     `gorm:"column:session_id;type:uuid;index:idx_segments_session_utterance,unique" json:"session_id"`
	ParticipantID *string    `gorm:"column:participant_id;type:uuid;index" json:"participant_id,omitempty"`
	UtteranceID   string     `gorm:"column:utterance_id;type:text;index:idx_segments_session_utterance,unique" json:"utterance_id"`
	Text          string     `gorm:"column:text;type:text" json:"text"`
	IsFinal       bool       `gorm:"column:is_final" json:"is_final"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz" json:"started_at"`
	EndedAt       *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }
