package lab

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	kind      string
	log       *[]string
	fetchErr  error
	deleteErr error
	cancel    context.CancelFunc
}

func (f *fakeCleaner) Kind() string { return f.kind }

func (f *fakeCleaner) Fetch(ctx context.Context, target Target) error {
	*f.log = append(*f.log, "fetch "+f.kind)
	return f.fetchErr
}

func (f *fakeCleaner) Delete(ctx context.Context) error {
	*f.log = append(*f.log, "delete "+f.kind)
	if f.cancel != nil {
		f.cancel()
	}
	return f.deleteErr
}

func (f *fakeCleaner) Print() {}

func cleaners(log *[]string, kinds ...string) (result []*fakeCleaner) {
	for _, kind := range kinds {
		result = append(result, &fakeCleaner{kind: kind, log: log})
	}
	return
}

func asCleaners(fakes []*fakeCleaner) (result []Cleaner) {
	for _, f := range fakes {
		result = append(result, f)
	}
	return
}

var target = Target{LabName: "exam", Region: "eu-west-1", VpcIds: []string{"vpc-1"}}

func TestRunTeardownKeepsOrder(t *testing.T) {
	var log []string
	fakes := cleaners(&log, "instances", "nat gateways", "vpc")

	report := RunTeardown(context.Background(), target, asCleaners(fakes), false)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{
		"fetch instances", "delete instances",
		"fetch nat gateways", "delete nat gateways",
		"fetch vpc", "delete vpc",
	}, log)
	assert.Equal(t, [][]string{
		{"eu-west-1", "instances", "ok"},
		{"eu-west-1", "nat gateways", "ok"},
		{"eu-west-1", "vpc", "ok"},
	}, report.Rows())
}

func TestRunTeardownDryRunNeverDeletes(t *testing.T) {
	var log []string
	report := RunTeardown(context.Background(), target, asCleaners(cleaners(&log, "instances", "vpc")), true)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"fetch instances", "fetch vpc"}, log)
	assert.Equal(t, "dry run", report.Rows()[0][2])
}

func TestRunTeardownIsBestEffort(t *testing.T) {
	var log []string
	fakes := cleaners(&log, "instances", "security groups", "subnets", "vpc")
	fakes[1].deleteErr = errors.New("DependencyViolation")
	fakes[2].fetchErr = errors.New("throttled")

	report := RunTeardown(context.Background(), target, asCleaners(fakes), false)
	assert.Equal(t, []string{
		"fetch instances", "delete instances",
		"fetch security groups", "delete security groups",
		"fetch subnets",
		"fetch vpc", "delete vpc",
	}, log)
	assert.Equal(t, []string{"security groups", "subnets"}, report.Failed())

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(security groups, subnets)")
	assert.Contains(t, err.Error(), "deleting security groups: DependencyViolation")
	assert.Contains(t, err.Error(), "fetching subnets: throttled")
	assert.Contains(t, report.Rows()[1][2], "failed")
}

func TestRunTeardownStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var log []string
	fakes := cleaners(&log, "instances", "subnets", "vpc")
	fakes[0].cancel = cancel

	report := RunTeardown(ctx, target, asCleaners(fakes), false)
	assert.Equal(t, []string{"fetch instances", "delete instances"}, log)
	assert.Equal(t, []string{"subnets", "vpc"}, report.Failed())
	assert.True(t, errors.Is(report.Err(), context.Canceled))
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "eu-west-1 lab exam vpcs vpc-1", target.String())
	assert.False(t, target.Empty())
	assert.True(t, Target{Region: "eu-west-1"}.Empty())
}
