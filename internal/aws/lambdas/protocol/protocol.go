package protocol

import (
	"time"

	"go.uber.org/multierr"
)

type ReapedLab struct {
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	Blueprint string    `json:"blueprint,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ReapStep struct {
	Region string `json:"region"`
	Step   string `json:"step"`
	Status string `json:"status"`
}

type ReapResponse struct {
	DryRun bool        `json:"dry_run"`
	Labs   []ReapedLab `json:"labs"`
	Steps  []ReapStep  `json:"steps,omitempty"`
	Errors []string    `json:"errors,omitempty"`
}

// AddErrors flattens a combined teardown error into one message per failure.
func (r *ReapResponse) AddErrors(err error) {
	for _, e := range multierr.Errors(err) {
		r.Errors = append(r.Errors, e.Error())
	}
}
