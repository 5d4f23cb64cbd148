// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is the audit record of one authentication.
// The core never persists it; the service hands it to the audit queue.
type Attempt struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	BiometricType  string    `json:"biometricType"`
	SessionID      string    `json:"sessionId"`
	Mode           string    `json:"mode"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	Recommendation string    `json:"recommendation"`
	MLDegraded     bool      `json:"mlDegraded"`
	Reasons        []string  `json:"reasons"`
	Features       []byte    `json:"features,omitempty"` // FeatureSet JSON of the challenge
	CreatedAt      time.Time `json:"createdAt"`
}

// NewAttempt stamps a fresh id and creation time.
func NewAttempt(userID, biometricType string, now time.Time) Attempt {
	return Attempt{
		ID:            uuid.NewString(),
		UserID:        userID,
		BiometricType: biometricType,
		CreatedAt:     now.UTC(),
	}
}

// Accepted reports whether the attempt ended in an accept decision.
func (a Attempt) Accepted() bool { return a.Recommendation == "accept" }

// AttemptStats aggregates attempts of one biometric type.
type AttemptStats struct {
	BiometricType string  `json:"biometricType"`
	Total         int64   `json:"total"`
	Accepted      int64   `json:"accepted"`
	Rejected      int64   `json:"rejected"`
	Review        int64   `json:"review"`
	MLDegraded    int64   `json:"mlDegraded"`
	AcceptRate    float64 `json:"acceptRate"`
}

// Add folds one attempt into the stats.
func (s *AttemptStats) Add(a Attempt) {
	s.Total++
	switch a.Recommendation {
	case "accept":
		s.Accepted++
	case "reject":
		s.Rejected++
	default:
		s.Review++
	}
	if a.MLDegraded {
		s.MLDegraded++
	}
	s.AcceptRate = float64(s.Accepted) / float64(s.Total)
}
