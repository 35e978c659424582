package common

import "github.com/google/uuid"

// NewRunID generates a new run ID with "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}
