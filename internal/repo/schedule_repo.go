// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Schedule model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
)

// CreateSchedule inserts a confirmed call slot for a contact.
func CreateSchedule(ctx context.Context, db *gorm.DB, contactPhone string, startsAt time.Time, durationMin, minGapMin int) (*domain.Schedule, error) {
	s := &domain.Schedule{
		ID:           uuid.NewString(),
		ContactPhone: contactPhone,
		StartsAt:     startsAt.UTC(),
		DurationMin:  durationMin,
		MinGapMin:    minGapMin,
		CreatedAt:    time.Now().UTC(),
	}
	return s, db.WithContext(ctx).Create(s).Error
}

// GetSchedule fetches a schedule with its contact preloaded, or ErrNotFound.
func GetSchedule(ctx context.Context, db *gorm.DB, id string) (*domain.Schedule, error) {
	var s domain.Schedule
	err := db.WithContext(ctx).Preload("Contact").First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
