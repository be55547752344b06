package domain

import "time"

type Petition struct {
	PetitionID   string    `json:"id" dynamodbav:"petition_id"`
	Slug         string    `json:"slug" dynamodbav:"slug"`
	Title        string    `json:"title" dynamodbav:"title"`
	BodyMarkdown string    `json:"body_markdown" dynamodbav:"body_markdown"`
	Version      string    `json:"version" dynamodbav:"version"`
	GoalCount    int       `json:"goal_count" dynamodbav:"goal_count"`
	IsLive       bool      `json:"is_live" dynamodbav:"is_live"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Snapshot returns the fields that feed the petition hash.
func (p *Petition) Snapshot() PetitionSnapshot {
	return PetitionSnapshot{Title: p.Title, BodyMarkdown: p.BodyMarkdown, Version: p.Version}
}

// PetitionSnapshot is the petition content as it stood when a signer saw it.
type PetitionSnapshot struct {
	Title        string
	BodyMarkdown string
	Version      string
}

// PetitionStats is the public aggregate view of a petition's signatures.
type PetitionStats struct {
	Count   int            `json:"count"`
	Goal    int            `json:"goal"`
	Recent  []RecentSigner `json:"recent"`
	ByState map[string]int `json:"byState"`
}

// RecentSigner exposes only a first name, last initial and state.
type RecentSigner struct {
	First       string `json:"first"`
	LastInitial string `json:"lastInitial"`
	State       string `json:"state,omitempty"`
}

// SignerName is the slice of a signature the public stats are built from.
type SignerName struct {
	FirstName string
	LastName  string
	State     string
}
