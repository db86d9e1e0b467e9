package domain

// Participant is a registered player. Password is the bearer credential and is
// never serialized with the participant itself.
type Participant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Password        string `json:"-"`
	GiftRequest     string `json:"gift_request,omitempty"`
	GiftLink        string `json:"gift_link,omitempty"`
	GiftSubmittedAt string `json:"gift_submitted_at,omitempty" format:"date-time"`
	AssignedTo      string `json:"assigned_to,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// HasGiftRequest reports whether the write-once wish has been submitted.
func (p Participant) HasGiftRequest() bool {
	return p.GiftRequest != ""
}

type EventStatus struct {
	IsDistributed    bool   `json:"isDistributed"`
	DistributionDate string `json:"distributionDate,omitempty" format:"date-time"`
	GiftDeadline     string `json:"giftDeadline,omitempty" format:"date-time"`
}

// Pair is one giver -> receiver edge of the draw.
type Pair struct {
	Giver    string `json:"giver"`
	Receiver string `json:"receiver"`
}

// Wish is the gift request attached to a participant.
type Wish struct {
	GiftRequest string `json:"gift_request,omitempty"`
	GiftLink    string `json:"gift_link,omitempty"`
}

// UserView is what a participant sees about themselves.
// ReceivedFrom is the wish the participant was handed by the draw: what their
// recipient asked for. The participant's own Santa stays hidden.
type UserView struct {
	Name         string `json:"name"`
	GiftRequest  string `json:"gift_request,omitempty"`
	GiftLink     string `json:"gift_link,omitempty"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	ReceivedFrom *Wish  `json:"received_from,omitempty"`
}

type Recipient struct {
	Name        string `json:"name"`
	GiftRequest string `json:"gift_request,omitempty"`
	GiftLink    string `json:"gift_link,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ReceivedFrom inverts the assigned_to relation: receiver name -> giver name.
func ReceivedFrom(participants []Participant) map[string]string {
	inv := make(map[string]string, len(participants))
	for _, p := range participants {
		if p.AssignedTo == "" {
			continue
		}
		inv[p.AssignedTo] = p.Name
	}
	return inv
}

// Pairs lists the assignment edges in participant order.
func Pairs(participants []Participant) []Pair {
	var pairs []Pair
	for _, p := range participants {
		if p.AssignedTo == "" {
			continue
		}
		pairs = append(pairs, Pair{Giver: p.Name, Receiver: p.AssignedTo})
	}
	return pairs
}
