package core

import (
	"time"
)

// Reminder is the unit of work for the dispatch engine. The status tuple
// (IsSending, IsCompleted, DueTime, RepeatCount, SentAt) is owned by the
// engine; everything else is edited through the HTTP API.
type Reminder struct {
	ID                    string     `json:"id"`
	Text                  string     `json:"text"`
	Groups                []Group    `json:"groups"`
	DueTime               time.Time  `json:"due_time"`
	IsCompleted           bool       `json:"is_completed"`
	IsSending             bool       `json:"is_sending"`
	ClaimedAt             *time.Time `json:"claimed_at,omitempty"`
	SentAt                *time.Time `json:"sent_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	RepeatIntervalMinutes int        `json:"repeat_interval_minutes"`
	RepeatCount           int        `json:"repeat_count"`
	MaxRepeats            int        `json:"max_repeats"`
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Recipient belongs to exactly one group. ChatID is the messaging-channel
// chat id, unique across all groups.
type Recipient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ChatID  string `json:"chat_id"`
	GroupID string `json:"group_id"`
}

// SendStatus is the outcome of a single-reminder send-now attempt.
type SendStatus string

const (
	SendStatusAlreadyCompleted SendStatus = "already_completed"
	SendStatusAlreadySending   SendStatus = "already_sending"
	SendStatusNotDueYet        SendStatus = "not_due_yet"
	SendStatusNoUsers          SendStatus = "no_users"
	SendStatusSent             SendStatus = "sent"
	SendStatusRepeated         SendStatus = "repeated"
)

// FinalizeResult says whether a successfully dispatched reminder was
// rescheduled or reached its terminal state.
type FinalizeResult string

const (
	FinalizeRepeated  FinalizeResult = "repeated"
	FinalizeCompleted FinalizeResult = "completed"
)
