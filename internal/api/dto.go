package api

import (
	"time"

	"github.com/felixgeelhaar/lookout/internal/domain"
)

// Wire shapes. Field names and status strings are part of the external
// contract and keep their exact spelling.

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserDTO(u *domain.User) userDTO {
	return userDTO{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

type sessionDTO struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title"`
	Category               string    `json:"category"`
	Requirements           string    `json:"requirements,omitempty"`
	Status                 string    `json:"status"`
	PendingClarificationID string    `json:"pending_clarification_id,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func toSessionDTO(s *domain.Session) sessionDTO {
	return sessionDTO{
		ID:                     s.ID,
		Title:                  s.Title,
		Category:               s.Category,
		Requirements:           s.Requirements,
		Status:                 s.Status,
		PendingClarificationID: s.PendingClarificationID,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
}

type messageDTO struct {
	ID                  string    `json:"id"`
	Sender              string    `json:"sender"`
	Type                string    `json:"type"`
	Text                string    `json:"text"`
	IsBlocking          bool      `json:"is_blocking,omitempty"`
	ClarificationStatus string    `json:"clarification_status,omitempty"`
	AnswerMessageID     string    `json:"answer_message_id,omitempty"`
	TargetListingID     string    `json:"target_listing_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

func toMessageDTO(m *domain.Message) messageDTO {
	return messageDTO{
		ID:                  m.ID,
		Sender:              m.Sender,
		Type:                m.Type,
		Text:                m.Text,
		IsBlocking:          m.IsBlocking,
		ClarificationStatus: m.ClarificationStatus,
		AnswerMessageID:     m.AnswerMessageID,
		TargetListingID:     m.TargetListingID,
		CreatedAt:           m.CreatedAt,
	}
}

// clarificationDTO is the listing-attached view of a clarification
// question, with the answer text denormalized in.
type clarificationDTO struct {
	ID                  string    `json:"id"`
	Text                string    `json:"text"`
	IsBlocking          bool      `json:"is_blocking"`
	ClarificationStatus string    `json:"clarification_status"`
	AnswerMessageID     string    `json:"answer_message_id,omitempty"`
	AnswerText          string    `json:"answer_text,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type listingDTO struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	URL            string             `json:"url,omitempty"`
	Price          *float64           `json:"price"`
	Currency       string             `json:"currency,omitempty"`
	Marketplace    string             `json:"marketplace,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Description    string             `json:"description,omitempty"`
	Status         string             `json:"status"`
	Score          *int               `json:"score"`
	Rationale      string             `json:"rationale,omitempty"`
	Clarifications []clarificationDTO `json:"clarifications,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func toListingDTO(l *domain.Listing) listingDTO {
	dto := listingDTO{
		ID:          l.ID,
		Title:       l.Title,
		URL:         l.URL,
		Currency:    l.Currency,
		Marketplace: l.Marketplace,
		Metadata:    l.Metadata,
		Description: l.Description,
		Status:      l.Status,
		Score:       l.Score,
		Rationale:   l.Rationale,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if l.HasPrice {
		p := l.Price
		dto.Price = &p
	}
	return dto
}
