// Package models contains request/response models and business domain types.
package models

import "time"

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen            ConversationStatus = "open"
	ConversationReviewRequested ConversationStatus = "review_requested"
	ConversationMerged          ConversationStatus = "merged"
	ConversationClosed          ConversationStatus = "closed"
)

// IsValid checks if the status is one of the closed set.
func (s ConversationStatus) IsValid() bool {
	switch s {
	case ConversationOpen, ConversationReviewRequested, ConversationMerged, ConversationClosed:
		return true
	default:
		return false
	}
}

// Conversation is a persisted message thread bound to one domain.
type Conversation struct {
	ID             string             `json:"id"`
	DomainID       string             `json:"domain_id"`
	InitialAgentID string             `json:"initial_agent_id,omitempty"`
	Title          string             `json:"title,omitempty"`
	CreatorSub     string             `json:"creator_sub"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CreateConversationRequest contains fields for creating a conversation.
type CreateConversationRequest struct {
	DomainID       string `json:"domain_id"`
	Title          string `json:"title,omitempty"`
	CreatorSub     string `json:"creator_sub,omitempty"`
	InitialAgentID string `json:"initial_agent_id,omitempty"`
}

// ConversationFilters contains filtering options for listing conversations.
type ConversationFilters struct {
	DomainID   string             `json:"domain_id,omitempty"`
	CreatorSub string             `json:"creator_sub,omitempty"`
	Status     ConversationStatus `json:"status,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

// ConversationListResponse contains a paginated conversation list.
type ConversationListResponse struct {
	Conversations []*Conversation `json:"conversations"`
	TotalCount    int             `json:"total_count"`
	Limit         int             `json:"limit"`
	Offset        int             `json:"offset"`
}
