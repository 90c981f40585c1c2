package lab

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"labctl/internal/logging"
)

// Target scopes a teardown to one region. VpcIds bounds in-VPC resources,
// LabName (when set) bounds regional resources such as transit gateways.
type Target struct {
	LabName LabName
	Region  string
	VpcIds  []string
}

func (t Target) String() string {
	parts := []string{t.Region}
	if t.LabName != "" {
		parts = append(parts, "lab "+string(t.LabName))
	}
	if len(t.VpcIds) > 0 {
		parts = append(parts, "vpcs "+strings.Join(t.VpcIds, ","))
	}
	return strings.Join(parts, " ")
}

func (t Target) Empty() bool {
	return t.LabName == "" && len(t.VpcIds) == 0
}

type Cleaner interface {
	Kind() string
	Fetch(ctx context.Context, target Target) error
	Delete(ctx context.Context) error
	Print()
}

func CleanupResource(ctx context.Context, r Cleaner, target Target, dryRun bool) error {
	err := r.Fetch(ctx, target)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", r.Kind())
	}

	r.Print()
	if !dryRun {
		err = r.Delete(ctx)
		if err != nil {
			return errors.Wrapf(err, "deleting %s", r.Kind())
		}
	}

	return nil
}

type StepResult struct {
	Kind string
	Err  error
}

type TeardownReport struct {
	Target Target
	DryRun bool
	Steps  []StepResult
}

func (r *TeardownReport) Failed() (kinds []string) {
	for _, step := range r.Steps {
		if step.Err != nil {
			kinds = append(kinds, step.Kind)
		}
	}
	return
}

func (r *TeardownReport) Err() error {
	var err error
	for _, step := range r.Steps {
		err = multierr.Append(err, step.Err)
	}
	if err != nil {
		return errors.Wrapf(err, "teardown of %s left resources behind (%s)", r.Target, strings.Join(r.Failed(), ", "))
	}
	return nil
}

func (r *TeardownReport) Rows() (rows [][]string) {
	for _, step := range r.Steps {
		status := "ok"
		if r.DryRun {
			status = "dry run"
		}
		if step.Err != nil {
			status = fmt.Sprintf("failed: %s", step.Err)
		}
		rows = append(rows, []string{r.Target.Region, step.Kind, status})
	}
	return
}

// RunTeardown runs every cleaner in order. A failed step is logged and
// recorded, and the remaining steps still run. Cancellation stops the plan.
func RunTeardown(ctx context.Context, target Target, cleaners []Cleaner, dryRun bool) *TeardownReport {
	report := &TeardownReport{Target: target, DryRun: dryRun}

	for _, c := range cleaners {
		if ctx.Err() != nil {
			report.Steps = append(report.Steps, StepResult{Kind: c.Kind(), Err: ctx.Err()})
			continue
		}

		log.Debug().Msgf("teardown step %s on %s", c.Kind(), target)
		err := CleanupResource(ctx, c, target, dryRun)
		if err != nil {
			log.Error().Err(err).Str("region", target.Region).Msgf("%s step failed, continuing", c.Kind())
			logging.UserFailure("%s: %s", c.Kind(), err)
		}
		report.Steps = append(report.Steps, StepResult{Kind: c.Kind(), Err: err})
	}

	return report
}
