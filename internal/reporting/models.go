package reporting

import "time"

// CallsSummary aggregates call outcomes since the process started.
// Call history is not persisted; these are live counters only.
type CallsSummary struct {
	Since time.Time `json:"since"`

	Started  int `json:"started"`
	Accepted int `json:"accepted"`
	Declined int `json:"declined"`
	Ended    int `json:"ended"`

	// Expired is keyed by expiry cause (timeout, cancelled, superseded...).
	Expired map[string]int `json:"expired"`

	TotalTalkSeconds   int64 `json:"total_talk_seconds"`
	AverageTalkSeconds int64 `json:"average_talk_seconds"`

	// AnswerRate is accepted / started.
	AnswerRate float64 `json:"answer_rate"`
}

// SessionsSummary counts session lifecycle events.
type SessionsSummary struct {
	Authorized      int `json:"authorized"`
	Rejected        int `json:"rejected"`
	Logouts         int `json:"logouts"`
	ConnectionDrops int `json:"connection_drops"`
	Reconnects      int `json:"reconnects"`
	ReconnectDenied int `json:"reconnect_denied"`
	Expired         int `json:"expired"`
}

type Summary struct {
	Calls    CallsSummary    `json:"calls"`
	Sessions SessionsSummary `json:"sessions"`
}
