package lab

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"labctl/internal/aws/cleaner"
	"labctl/internal/aws/network"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

// TeardownOptions names the root of the teardown: a lab, explicit VPC ids
// or a VPC Name tag.
type TeardownOptions struct {
	LabName lab.LabName
	VpcIds  []string
	VpcName string
	Regions []string
	DryRun  bool
	Poller  lab.Poller
}

func (o TeardownOptions) Validate() error {
	roots := 0
	if o.LabName != "" {
		roots++
	}
	if len(o.VpcIds) > 0 {
		roots++
	}
	if o.VpcName != "" {
		roots++
	}
	if roots != 1 {
		return errors.New("exactly one of lab name, vpc id or vpc name is required")
	}
	if len(o.Regions) == 0 {
		return errors.New("at least one region is required")
	}
	return nil
}

func resolveTarget(ctx context.Context, region string, opts TeardownOptions) (target lab.Target, err error) {
	target = lab.Target{LabName: opts.LabName, Region: region}
	if len(opts.VpcIds) > 0 {
		target.VpcIds, err = network.ExistingVpcIds(ctx, region, opts.VpcIds)
		return
	}
	target.VpcIds, err = network.ResolveVpcIds(ctx, region, opts.LabName, opts.VpcName)
	return
}

// Teardown runs the teardown plan in every region. Every region is attempted
// even when an earlier one failed; the returned error aggregates them all.
func Teardown(ctx context.Context, opts TeardownOptions) (reports []*lab.TeardownReport, err error) {
	if err = opts.Validate(); err != nil {
		return
	}

	for _, region := range opts.Regions {
		target, resolveErr := resolveTarget(ctx, region, opts)
		if resolveErr != nil {
			err = multierr.Append(err, errors.Wrapf(resolveErr, "resolving teardown root in %s", region))
			continue
		}
		if target.Empty() {
			logging.UserInfo("nothing to tear down in %s", region)
			continue
		}

		log.Info().Str("region", region).Msgf("tearing down %s", target)
		logging.UserProgress("Tearing down %s", target)
		report := lab.RunTeardown(ctx, target, cleaner.TeardownPlan(opts.Poller), opts.DryRun)
		reports = append(reports, report)
		err = multierr.Append(err, report.Err())
	}
	return
}

// ReportRows flattens reports into table rows.
func ReportRows(reports []*lab.TeardownReport) (rows [][]string) {
	for _, report := range reports {
		rows = append(rows, report.Rows()...)
	}
	return
}

var ReportHeader = []string{"Region", "Step", "Status"}
