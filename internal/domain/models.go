// Package domain defines the persistence models for contacts, conversation
// messages, and scheduled calls. These types are mapped with GORM and form
// the data layer feeding the LLM history window and the ICS calendar export.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Contact represents a WhatsApp lead the bot talks to. The phone number in
// gateway format (digits only, country code included) is the natural primary
// key; it is also the contact id used by the dedup core.
//
// Fields:
//   - Phone: gateway-format phone number, primary key.
//   - Name: lead name used to personalize the SDR prompt.
//   - Course: course of interest driving the conversation.
//   - Email: destination for the enrollment-waiver voucher.
//   - Timezone: IANA zone for scheduling; empty means the configured default.
//   - NeedsHuman: set when the agent emitted the human-handoff marker; the
//     bot stops replying to flagged contacts until an operator clears it.
type Contact struct {
	Phone      string         `json:"phone"      gorm:"type:varchar(32);primaryKey"`
	Name       string         `json:"name"       gorm:"type:varchar(128);not null"`
	Course     string         `json:"course"     gorm:"type:varchar(255);not null"`
	Email      string         `json:"email"      gorm:"type:varchar(255);not null"`
	Timezone   string         `json:"timezone"   gorm:"type:varchar(64)"`
	NeedsHuman bool           `json:"needs_human" gorm:"not null;default:false"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Message represents a single utterance in a contact's conversation, authored
// either by the "user" (the lead) or the "assistant" (the bot). The most
// recent window of messages is replayed to the LLM on each reply.
type Message struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ContactPhone string         `json:"contact_phone" gorm:"type:varchar(32);not null;index:idx_contact_msgs,priority:1"`
	Role         string         `json:"role"          gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content      string         `json:"content"       gorm:"type:text;not null"`
	CreatedAt    time.Time      `json:"created_at"    gorm:"index:idx_contact_msgs,priority:2"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	// Contact is the conversation owner. Messages are cascade-deleted if the
	// contact is removed.
	Contact Contact `json:"-" gorm:"foreignKey:ContactPhone;references:Phone;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Schedule represents a confirmed consultation call, parsed from the agent's
// scheduling marker. Exported as an ICS calendar entry.
//
// Fields:
//   - ID: UUID primary key, doubles as the ICS event UID.
//   - ContactPhone: FK to the scheduled contact.
//   - StartsAt: call start in UTC; rendered in the contact's timezone.
//   - DurationMin: call length in minutes.
//   - MinGapMin: minimum gap the consultant wants before the next call.
type Schedule struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ContactPhone string         `json:"contact_phone" gorm:"type:varchar(32);not null;index"`
	StartsAt     time.Time      `json:"starts_at"     gorm:"not null;index"`
	DurationMin  int            `json:"duration_min"  gorm:"not null"`
	MinGapMin    int            `json:"min_gap_min"   gorm:"not null;default:0"`
	CreatedAt    time.Time      `json:"created_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	Contact Contact `json:"-" gorm:"foreignKey:ContactPhone;references:Phone;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Schedule.
func (Schedule) TableName() string { return "schedules" }
