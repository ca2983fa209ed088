package models

import (
	"time"

	"gorm.io/datatypes"
)

// TopicEntry is one conversation topic inside an insight payload.
type TopicEntry struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	StartedAtSec int64  `json:"startedAtSec"`
}

// InsightPayload is the wire form of a session insight pass. If
// CurrentTopic is non-empty it must appear among Topics; RepairTopics in the
// insight package enforces that before the payload is used.
type InsightPayload struct {
	AiTitle                string       `json:"aiTitle"`
	AiTitleConfidence      float64      `json:"aiTitleConfidence"`
	ShouldUpdateTitle      bool         `json:"shouldUpdateTitle"`
	CurrentTopic           string       `json:"currentTopic"`
	CurrentTopicConfidence float64      `json:"currentTopicConfidence"`
	Topics                 []TopicEntry `json:"topics"`
	TopicChanged           bool         `json:"topicChanged"`
}

// SessionInsight is the persisted latest insight per session.
type SessionInsight struct {
	SessionID              string         `gorm:"column:session_id;type:uuid;primaryKey" json:"session_id"`
	AiTitle                string         `gorm:"column:ai_title;type:text" json:"ai_title"`
	AiTitleConfidence      float64        `gorm:"column:ai_title_confidence" json:"ai_title_confidence"`
	ShouldUpdateTitle      bool           `gorm:"column:should_update_title" json:"should_update_title"`
	CurrentTopic           string         `gorm:"column:current_topic;type:text" json:"current_topic"`
	CurrentTopicConfidence float64        `gorm:"column:current_topic_confidence" json:"current_topic_confidence"`
	Topics                 datatypes.JSON `gorm:"column:topics;type:jsonb" json:"topics"`
	TopicChanged           bool           `gorm:"column:topic_changed" json:"topic_changed"`
	UpdatedAt              time.Time      `gorm:"column:updated_at;type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SessionInsight) TableName() string { return "session_insights" }
