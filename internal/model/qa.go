package model

import "time"

// Question is a raw user question as received.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is the formatted reply to a question, linked to the fact
// instances that produced it.
type Answer struct {
	ID              string    `json:"id"`
	QuestionID      string    `json:"question_id"`
	Text            string    `json:"text"`
	FactInstanceIDs []string  `json:"fact_instance_ids,omitempty"`
	ProposalID      string    `json:"proposal_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
