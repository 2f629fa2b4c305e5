package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusCreated  SessionStatus = "created"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusPaused   SessionStatus = "paused"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusFinished SessionStatus = "finished"
	SessionStatusFailed   SessionStatus = "failed"
)

// Terminal reports whether no further transition is permitted out of the status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusStopped, SessionStatusFinished, SessionStatusFailed:
		return true
	}
	return false
}

// Active reports whether the session still owns a live timeline.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusCreated, SessionStatusRunning, SessionStatusPaused:
		return true
	}
	return false
}

// Session is one simulated trading run over a symbol/timeframe/time-range,
// replayed at SpeedMultiplier market-seconds per real second. Mutated only by
// the engine's control operations and its own clock advance.
type Session struct {
	ID              string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Symbol          string        `json:"symbol" gorm:"not null;index"`
	Timeframe       Timeframe     `json:"timeframe" gorm:"not null"`
	StartTimeMs     int64         `json:"startTimeMs" gorm:"not null"`
	EndTimeMs       int64         `json:"endTimeMs" gorm:"not null"`
	SpeedMultiplier int           `json:"speedMultiplier" gorm:"not null;default:60"`
	Status          SessionStatus `json:"status" gorm:"not null;default:created;index"`
	LastSeq         uint64        `json:"lastSeq" gorm:"not null;default:0"`
	Progress        float64       `json:"progress" gorm:"not null;default:0"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (Session) TableName() string {
	return "sessions"
}
