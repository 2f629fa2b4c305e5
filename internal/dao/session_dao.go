package dao

import (
	"fmt"

	"gorm.io/gorm"

	"marketsim/internal/models"
)

// SessionDAO handles database operations for session records.
type SessionDAO struct {
	db *gorm.DB
}

// SessionDAOInterface defines the contract for session record access.
type SessionDAOInterface interface {
	Create(session *models.Session) error
	UpdateStatus(sessionID string, status models.SessionStatus, lastSeq uint64, progress float64) error
	GetByID(sessionID string) (*models.Session, error)
	List(limit, offset int) ([]models.Session, error)
	Delete(sessionID string) error
}

func NewSessionDAO(db *gorm.DB) SessionDAOInterface {
	return &SessionDAO{db: db}
}

func (d *SessionDAO) Create(session *models.Session) error {
	if err := d.db.Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// UpdateStatus persists a status transition together with the stream cursor
// and progress at the time of the transition.
func (d *SessionDAO) UpdateStatus(sessionID string, status models.SessionStatus, lastSeq uint64, progress float64) error {
	result := d.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":   status,
			"last_seq": lastSeq,
			"progress": progress,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session record not found: %s", sessionID)
	}
	return nil
}

func (d *SessionDAO) GetByID(sessionID string) (*models.Session, error) {
	var session models.Session
	if err := d.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return &session, nil
}

func (d *SessionDAO) List(limit, offset int) ([]models.Session, error) {
	var sessions []models.Session
	query := d.db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (d *SessionDAO) Delete(sessionID string) error {
	if err := d.db.Delete(&models.Session{}, "id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
