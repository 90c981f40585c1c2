package lambdas

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	lab2 "labctl/internal/aws/lab"
	"labctl/internal/aws/lambdas/protocol"
	"labctl/internal/lab"
)

const (
	RegionsEnv = "LABCTL_REGIONS"
	DryRunEnv  = "LABCTL_REAP_DRY_RUN"
)

// RegionsFromEnv reads a comma separated region list, falling back to the
// region the function runs in.
func RegionsFromEnv() ([]string, error) {
	var regions []string
	for _, region := range strings.Split(os.Getenv(RegionsEnv), ",") {
		if region = strings.TrimSpace(region); region != "" {
			regions = append(regions, region)
		}
	}
	if len(regions) == 0 {
		if region := os.Getenv("AWS_REGION"); region != "" {
			regions = append(regions, region)
		}
	}
	if len(regions) == 0 {
		return nil, errors.Errorf("%s is not set", RegionsEnv)
	}
	return regions, nil
}

// Reap tears down the labs whose ttl passed before now. Teardown failures
// are reported in the response rather than failing the invocation, so the
// next schedule tick retries them.
func Reap(ctx context.Context, regions []string, now time.Time, dryRun bool, poller lab.Poller) (response protocol.ReapResponse, err error) {
	response.DryRun = dryRun
	response.Labs = []protocol.ReapedLab{}

	reaped, reports, err := lab2.Reap(ctx, regions, now, dryRun, poller)
	for _, l := range reaped {
		response.Labs = append(response.Labs, protocol.ReapedLab{
			Name:      string(l.Name),
			Region:    l.Region,
			Blueprint: l.Blueprint,
			ExpiresAt: l.ExpiresAt,
		})
	}
	for _, row := range lab2.ReportRows(reports) {
		response.Steps = append(response.Steps, protocol.ReapStep{Region: row[0], Step: row[1], Status: row[2]})
	}
	if err != nil {
		log.Error().Err(err).Msg("reaping left resources behind")
		response.AddErrors(err)
	}
	return response, nil
}
