package server

import (
	"secretsanta/internal/domain"
	"secretsanta/internal/engine"
)

// ActionRequest is the body of POST /action. Fields not used by an action are ignored.
type ActionRequest struct {
	_             struct{} `json:"-" additionalProperties:"true"`
	Action        string   `json:"action" doc:"Action name, e.g. login or submitGift" example:"login"`
	Password      string   `json:"password,omitempty" doc:"Participant password (admin password for login)"`
	AdminPassword string   `json:"adminPassword,omitempty" doc:"Admin password for admin actions"`
	Name          string   `json:"name,omitempty" doc:"Participant name for addUser"`
	Text          string   `json:"text,omitempty" doc:"Gift wish for submitGift"`
	Link          string   `json:"link,omitempty" doc:"Optional http(s) link for submitGift"`
}

// ActionResponse is the envelope returned for every action.
type ActionResponse struct {
	Success      bool                    `json:"success"`
	Message      string                  `json:"message,omitempty"`
	Code         string                  `json:"code,omitempty" example:"already_distributed"`
	IsAdmin      *bool                   `json:"isAdmin,omitempty"`
	Token        string                  `json:"token,omitempty"`
	User         *domain.UserView        `json:"user,omitempty"`
	Status       *StatusResponse         `json:"status,omitempty"`
	Recipient    *domain.Recipient       `json:"recipient,omitempty"`
	Participants []ParticipantCredential `json:"participants,omitzero"`
	Password     string                  `json:"password,omitempty"`
}

type StatusResponse struct {
	IsDistributed    bool   `json:"isDistributed"`
	DistributionDate string `json:"distributionDate,omitempty" format:"date-time"`
	GiftDeadline     string `json:"giftDeadline,omitempty" format:"date-time"`
	ParticipantCount int    `json:"participantCount"`
	EventName        string `json:"eventName"`
	MaxGiftPrice     int    `json:"maxGiftPrice,omitempty"`
	Currency         string `json:"currency,omitempty"`
}

// ParticipantCredential is the admin listing entry; the password is shown in plain text.
type ParticipantCredential struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func statusResponse(s engine.StatusView) *StatusResponse {
	return &StatusResponse{
		IsDistributed:    s.IsDistributed,
		DistributionDate: s.DistributionDate,
		GiftDeadline:     s.GiftDeadline,
		ParticipantCount: s.ParticipantCount,
		EventName:        s.EventName,
		MaxGiftPrice:     s.MaxGiftPrice,
		Currency:         s.Currency,
	}
}

func mapCredentials(items []domain.Participant) []ParticipantCredential {
	out := make([]ParticipantCredential, 0, len(items))
	for _, p := range items {
		out = append(out, ParticipantCredential{Name: p.Name, Password: p.Password})
	}
	return out
}

func boolPtr(v bool) *bool { return &v }
