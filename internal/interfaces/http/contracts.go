package http

import (
	"time"

	"github.com/sawpanic/pairsrun/internal/persistence"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RunsResponse lists stored runs
type RunsResponse struct {
	Timestamp time.Time               `json:"timestamp"`
	Count     int                     `json:"count"`
	Runs      []persistence.RunRecord `json:"runs"`
}

// RunPairsResponse lists the stored pair outcomes of one run
type RunPairsResponse struct {
	RunID string                   `json:"run_id"`
	Count int                      `json:"count"`
	Pairs []persistence.PairRecord `json:"pairs"`
}
