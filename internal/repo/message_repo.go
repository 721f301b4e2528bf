// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
)

// CreateMessage inserts a new message row.
func CreateMessage(db *gorm.DB, contactPhone, role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:           uuid.NewString(),
		ContactPhone: contactPhone,
		Role:         role,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// RecentMessages returns the most recent limit messages for a contact in
// chronological order (oldest first), ready to replay as LLM history.
func RecentMessages(db *gorm.DB, contactPhone string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("contact_phone = ?", contactPhone).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	// Reverse newest-first into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
