package lambdas

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"labctl/internal/aws/awstest"
	awslab "labctl/internal/aws/lab"
	"labctl/internal/connectors"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

func TestRegionsFromEnv(t *testing.T) {
	t.Setenv(RegionsEnv, " eu-west-1, us-east-1,,")
	regions, err := RegionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, regions)

	t.Setenv(RegionsEnv, "")
	t.Setenv("AWS_REGION", "eu-central-1")
	regions, err = RegionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-central-1"}, regions)

	t.Setenv("AWS_REGION", "")
	_, err = RegionsFromEnv()
	assert.Error(t, err)
}

func newCloud(t *testing.T) *awstest.Cloud {
	t.Helper()
	output := logging.Output
	logging.Output = io.Discard
	connectors.ResetAWSSessions()
	t.Cleanup(func() {
		connectors.ResetAWSSessions()
		logging.Output = output
	})
	cloud := awstest.NewCloud()
	cloud.Install("eu-west-1")
	return cloud
}

func TestReap(t *testing.T) {
	cloud := newCloud(t)

	poller := lab.Poller{Attempts: 20}
	bp, err := lab.Load("strict-nacl")
	require.NoError(t, err)
	_, err = awslab.Provision(context.Background(), bp, awslab.Options{
		LabName: "class-a",
		Region:  "eu-west-1",
		TTL:     time.Minute,
		Poller:  poller,
	})
	require.NoError(t, err)

	response, err := Reap(context.Background(), []string{"eu-west-1"}, time.Now(), false, poller)
	require.NoError(t, err)
	assert.Empty(t, response.Labs)

	response, err = Reap(context.Background(), []string{"eu-west-1"}, time.Now().Add(time.Hour), false, poller)
	require.NoError(t, err)
	require.Len(t, response.Labs, 1)
	assert.Equal(t, "class-a", response.Labs[0].Name)
	assert.Equal(t, "strict-nacl", response.Labs[0].Blueprint)
	assert.NotEmpty(t, response.Steps)
	assert.Empty(t, response.Errors)
	assert.Empty(t, cloud.Live())
}

func TestReapReportsFailures(t *testing.T) {
	cloud := newCloud(t)

	poller := lab.Poller{Attempts: 5}
	bp, err := lab.Load("strict-nacl")
	require.NoError(t, err)
	_, err = awslab.Provision(context.Background(), bp, awslab.Options{LabName: "class-b", Region: "eu-west-1", TTL: time.Minute, Poller: poller})
	require.NoError(t, err)

	cloud.Fail("DeleteVpc", "UnauthorizedOperation")
	response, err := Reap(context.Background(), []string{"eu-west-1"}, time.Now().Add(time.Hour), false, poller)
	require.NoError(t, err, "failures are reported in the response")
	require.NotEmpty(t, response.Errors)
	assert.Contains(t, response.Errors[0], "UnauthorizedOperation")
}
