package store

import "time"

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChatMessage struct {
	ID        int64
	UserID    int64
	Message   string
	Response  string
	CreatedAt time.Time
}

type Chatbot struct {
	ID             int64
	UserID         int64
	Name           string
	Description    string
	WelcomeMessage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ChatbotStep struct {
	ID           int64
	ChatbotID    int64
	StepOrder    int
	Message      string
	ResponseType string
	Options      []string
	IsRequired   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepWithOwner carries a step together with the owning user of its
// parent chatbot, resolved in one join.
type StepWithOwner struct {
	ChatbotStep
	OwnerID int64
}

// Patch types hold the optional field subsets accepted by the update
// endpoints. A nil field is left untouched.

type UserPatch struct {
	Username *string
	Email    *string
}

func (p UserPatch) IsEmpty() bool {
	return p.Username == nil && p.Email == nil
}

type ChatbotPatch struct {
	Name           *string
	Description    *string
	WelcomeMessage *string
}

func (p ChatbotPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.WelcomeMessage == nil
}

type StepPatch struct {
	StepOrder    *int
	Message      *string
	ResponseType *string
	Options      *[]string
	IsRequired   *bool
}

func (p StepPatch) IsEmpty() bool {
	return p.StepOrder == nil && p.Message == nil && p.ResponseType == nil &&
		p.Options == nil && p.IsRequired == nil
}
