package handlers

import "gorm.io/gorm"

// Handlers groups the HTTP endpoints for webhook ingestion, outbound sends,
// lead intake, and schedule export. It depends on abstract contracts to keep
// transport concerns separate from business logic.
type Handlers struct {
	dispatcher InboundDispatcher
	sender     OutboundSender
	leads      LeadProcessor
	db         *gorm.DB
}

// New constructs a Handlers instance bound to the given collaborators.
func New(dispatcher InboundDispatcher, sender OutboundSender, leads LeadProcessor, db *gorm.DB) *Handlers {
	return &Handlers{dispatcher: dispatcher, sender: sender, leads: leads, db: db}
}
