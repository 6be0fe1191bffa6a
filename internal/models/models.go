package models

import (
	"encoding/json"
	"time"
)

// TransactionInput is the unit of evaluation. It is immutable once built;
// the submitting call owns it for the duration of the evaluation.
type TransactionInput struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	MerchantID    string    `json:"merchant_id"`
	Timestamp     time.Time `json:"timestamp"`
	LocationLat   *float64  `json:"location_lat,omitempty"`
	LocationLng   *float64  `json:"location_lng,omitempty"`
	DeviceID      *string   `json:"device_id,omitempty"`
	Metadata      JSONB     `json:"metadata,omitempty"`
}

// HasLocation reports whether the transaction carries both coordinates.
func (t *TransactionInput) HasLocation() bool {
	return t.LocationLat != nil && t.LocationLng != nil
}

// EvaluationResult is the immutable outcome of one evaluation. Reasons
// preserve rule order; Evidence carries one entry per rule slot whether the
// rule fired or not.
type EvaluationResult struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Score         int       `json:"score"`
	Reasons       []string  `json:"reasons"`
	Evidence      JSONB     `json:"evidence"`
	Flagged       bool      `json:"flagged"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// LastKnownState is the per-user baseline for change detection. Each write
// fully replaces the previous record; it is never merged.
type LastKnownState struct {
	DeviceID  string    `json:"device_id"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Timestamp time.Time `json:"last_timestamp"`
}

// HasLocation reports whether the record carries both coordinates.
func (s *LastKnownState) HasLocation() bool {
	return s.Lat != nil && s.Lng != nil
}

// FlaggedTransaction joins a stored evaluation with its transaction for
// review listings.
type FlaggedTransaction struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	MerchantID    string    `json:"merchant_id"`
	Score         int       `json:"risk_score"`
	Reasons       []string  `json:"risk_reasons"`
	Timestamp     time.Time `json:"timestamp"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
