package lab

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"labctl/internal/aws/common"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

type LabSummary struct {
	Name      lab.LabName
	Region    string
	Blueprint string
	RunId     string
	ExpiresAt time.Time
	VpcIds    []string
}

func (s LabSummary) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func listRegionLabs(ctx context.Context, region string) (labs []LabSummary, err error) {
	vpcs, err := common.GetVpcs(ctx, region, common.ManagedFilter())
	if err != nil {
		return nil, errors.Wrapf(err, "listing labs in %s", region)
	}

	byName := map[lab.LabName]*LabSummary{}
	var names []lab.LabName
	for _, vpc := range vpcs {
		tags := lab.TagsFromEc2(vpc.Tags)
		name := lab.LabName(tags[lab.LabNameTagKey])
		if name == "" {
			continue
		}
		summary, ok := byName[name]
		if !ok {
			summary = &LabSummary{
				Name:      name,
				Region:    region,
				Blueprint: tags[lab.BlueprintTagKey],
				RunId:     tags[lab.RunIdTagKey],
			}
			if expiresAt, ok := tags.ExpiresAt(); ok {
				summary.ExpiresAt = expiresAt
			}
			byName[name] = summary
			names = append(names, name)
		}
		summary.VpcIds = append(summary.VpcIds, *vpc.VpcId)
	}

	for _, name := range names {
		labs = append(labs, *byName[name])
	}
	return
}

// ListLabs finds managed VPCs in all regions concurrently and groups them by lab.
func ListLabs(ctx context.Context, regions []string) ([]LabSummary, error) {
	results := make([][]LabSummary, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() (err error) {
			results[i], err = listRegionLabs(gctx, region)
			return
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var labs []LabSummary
	for _, result := range results {
		labs = append(labs, result...)
	}
	sort.SliceStable(labs, func(i, j int) bool {
		if labs[i].Name != labs[j].Name {
			return labs[i].Name < labs[j].Name
		}
		return labs[i].Region < labs[j].Region
	})
	return labs, nil
}

var LabsHeader = []string{"Lab", "Region", "Blueprint", "Run ID", "Expires", "VPCs"}

func LabsRows(labs []LabSummary, now time.Time) (rows [][]string) {
	for _, l := range labs {
		expires := "never"
		if !l.ExpiresAt.IsZero() {
			expires = l.ExpiresAt.Format(time.RFC3339)
			if l.Expired(now) {
				expires += " (expired)"
			}
		}
		rows = append(rows, []string{string(l.Name), l.Region, l.Blueprint, l.RunId, expires, strings.Join(l.VpcIds, ",")})
	}
	return
}

// Reap tears down every lab that expired before now. Each expired lab is
// torn down in the regions it was found in.
func Reap(ctx context.Context, regions []string, now time.Time, dryRun bool, poller lab.Poller) (reaped []LabSummary, reports []*lab.TeardownReport, err error) {
	labs, err := ListLabs(ctx, regions)
	if err != nil {
		return
	}

	labRegions := map[lab.LabName][]string{}
	var names []lab.LabName
	for _, l := range labs {
		if !l.Expired(now) {
			continue
		}
		if _, ok := labRegions[l.Name]; !ok {
			names = append(names, l.Name)
		}
		labRegions[l.Name] = append(labRegions[l.Name], l.Region)
		reaped = append(reaped, l)
	}

	for _, name := range names {
		logging.UserProgress("Reaping expired lab %s", name)
		labReports, teardownErr := Teardown(ctx, TeardownOptions{
			LabName: name,
			Regions: labRegions[name],
			DryRun:  dryRun,
			Poller:  poller,
		})
		reports = append(reports, labReports...)
		err = multierr.Append(err, teardownErr)
	}
	return
}
