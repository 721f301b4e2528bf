// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact model.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/domain"
)

// GetContact fetches a contact by phone or returns ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, phone string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).First(&c, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact creates the contact on first sight, or updates the mutable
// profile fields (name, course, email, timezone) when they arrive non-empty.
func UpsertContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	existing, err := GetContact(ctx, db, c.Phone)
	if errors.Is(err, ErrNotFound) {
		return db.WithContext(ctx).Create(c).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if c.Name != "" && c.Name != existing.Name {
		updates["name"] = c.Name
	}
	if c.Course != "" && c.Course != existing.Course {
		updates["course"] = c.Course
	}
	if c.Email != "" && c.Email != existing.Email {
		updates["email"] = c.Email
	}
	if c.Timezone != "" && c.Timezone != existing.Timezone {
		updates["timezone"] = c.Timezone
	}
	if len(updates) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&domain.Contact{}).Where("phone = ?", c.Phone).Updates(updates).Error
}

// MarkNeedsHuman flags (or clears) the human-handoff bit for a contact.
func MarkNeedsHuman(ctx context.Context, db *gorm.DB, phone string, needs bool) error {
	res := db.WithContext(ctx).Model(&domain.Contact{}).Where("phone = ?", phone).Update("needs_human", needs)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
