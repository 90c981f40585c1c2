package lab_test

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
	"labctl/internal/env"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

const region = "eu-west-1"

var fastPoller = lab.Poller{Attempts: 20}

func newCloud(t *testing.T, regions ...string) *awstest.Cloud {
	t.Helper()
	output := logging.Output
	logging.Output = io.Discard
	env.Config.Region = region
	connectors.ResetAWSSessions()

	cloud := awstest.NewCloud()
	cloud.Install(append([]string{region}, regions...)...)
	t.Cleanup(func() {
		connectors.ResetAWSSessions()
		logging.Output = output
	})
	return cloud
}

func provision(t *testing.T, name, blueprint string, ttl time.Duration) *lab.Outputs {
	t.Helper()
	bp, err := lab.Load(blueprint)
	require.NoError(t, err)
	outputs, err := awslab.Provision(context.Background(), bp, awslab.Options{
		LabName: lab.LabName(name),
		Region:  region,
		TTL:     ttl,
		Poller:  fastPoller,
	})
	require.NoError(t, err)
	return outputs
}

func teardown(labName string, regions ...string) ([]*lab.TeardownReport, error) {
	if len(regions) == 0 {
		regions = []string{region}
	}
	return awslab.Teardown(context.Background(), awslab.TeardownOptions{
		LabName: lab.LabName(labName),
		Regions: regions,
		Poller:  fastPoller,
	})
}

func TestProvisionThenTeardown(t *testing.T) {
	cloud := newCloud(t)
	outputs := provision(t, "exam", "exam-vpc", 0)

	vpc, err := outputs.MustGet(lab.KindVpc, "exam-vpc")
	require.NoError(t, err)
	tags := cloud.Tags(vpc.Id)
	assert.Equal(t, "exam-exam-vpc", tags[lab.NameTagKey])
	assert.Equal(t, "true", tags[lab.ManagedTagKey])
	assert.Equal(t, "exam", tags[lab.LabNameTagKey])
	assert.Equal(t, "exam-vpc", tags[lab.BlueprintTagKey])
	assert.NotEmpty(t, tags[lab.RunIdTagKey])

	bastion, err := outputs.MustGet(lab.KindInstance, "bastion")
	require.NoError(t, err)
	assert.NotEmpty(t, bastion.PrivateIp)
	assert.NotEmpty(t, bastion.Endpoint, "public subnet instances get a public ip")
	app, err := outputs.MustGet(lab.KindInstance, "app-server")
	require.NoError(t, err)
	assert.Empty(t, app.Endpoint)

	publicRt, err := outputs.MustGet(lab.KindRouteTable, "public-rt")
	require.NoError(t, err)
	igw, err := outputs.MustGet(lab.KindInternetGateway, "exam-vpc-igw")
	require.NoError(t, err)
	assert.Equal(t, igw.Id, cloud.Routes(publicRt.Id)["0.0.0.0/0"])

	require.NotEmpty(t, cloud.Live())

	reports, err := teardown("exam")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Failed())
	assert.Empty(t, cloud.Live())

	deletes := len(cloud.CallsWithPrefix("Delete", "Terminate", "Release", "Detach"))
	reports, err = teardown("exam")
	require.NoError(t, err)
	require.Len(t, reports, 1, "lab-scoped regional resources are still swept")
	assert.Empty(t, reports[0].Failed())
	assert.Len(t, cloud.CallsWithPrefix("Delete", "Terminate", "Release", "Detach"), deletes, "a second teardown deletes nothing")
}

func TestTeardownOrder(t *testing.T) {
	cloud := newCloud(t)
	provision(t, "exam", "three-tier", 0)

	_, err := teardown("exam")
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())

	var order []string
	seen := map[string]bool{}
	for _, call := range cloud.CallsWithPrefix("Terminate", "Delete", "Release", "Detach") {
		if !seen[call] {
			seen[call] = true
			order = append(order, call)
		}
	}
	position := map[string]int{}
	for i, call := range order {
		position[call] = i
	}
	before := func(first, second string) {
		t.Helper()
		require.Contains(t, position, first)
		require.Contains(t, position, second)
		assert.Less(t, position[first], position[second], "%s must run before %s", first, second)
	}
	before("TerminateInstances", "DeleteSecurityGroup")
	before("DeleteNatGateway", "ReleaseAddress")
	before("DeleteNatGateway", "DetachInternetGateway")
	before("DetachInternetGateway", "DeleteInternetGateway")
	before("DeleteRouteTable", "DeleteSubnet")
	before("DeleteSubnet", "DeleteVpc")
}

func TestTeardownDryRunDeletesNothing(t *testing.T) {
	cloud := newCloud(t)
	provision(t, "exam", "exam-vpc", 0)
	live := cloud.Live()

	reports, err := awslab.Teardown(context.Background(), awslab.TeardownOptions{
		LabName: "exam",
		Regions: []string{region},
		DryRun:  true,
		Poller:  fastPoller,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].DryRun)
	assert.Equal(t, live, cloud.Live())
	assert.Empty(t, cloud.CallsWithPrefix("Delete", "Terminate", "Release"))
}

func TestTeardownIsBestEffort(t *testing.T) {
	cloud := newCloud(t)
	provision(t, "exam", "exam-vpc", 0)

	cloud.Fail("DeleteSubnet", "UnauthorizedOperation")
	reports, err := teardown("exam")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnauthorizedOperation")
	require.Len(t, reports, 1)
	failed := reports[0].Failed()
	assert.Contains(t, failed, "Subnets")
	assert.Contains(t, failed, "Vpcs")
	assert.NotContains(t, failed, "Instances")
	assert.NotEmpty(t, cloud.Live())

	cloud.Heal("DeleteSubnet")
	_, err = teardown("exam")
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())
}

func TestTeardownByVpcId(t *testing.T) {
	cloud := newCloud(t)
	first := provision(t, "first", "exam-vpc", 0)
	provision(t, "second", "strict-nacl", 0)

	vpc, err := first.MustGet(lab.KindVpc, "exam-vpc")
	require.NoError(t, err)
	_, err = awslab.Teardown(context.Background(), awslab.TeardownOptions{
		VpcIds:  []string{vpc.Id},
		Regions: []string{region},
		Poller:  fastPoller,
	})
	require.NoError(t, err)

	labs, err := awslab.ListLabs(context.Background(), []string{region})
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, lab.LabName("second"), labs[0].Name)
	assert.NotContains(t, cloud.Live(), vpc.Id)
}

func TestTeardownOptionsValidate(t *testing.T) {
	assert.Error(t, awslab.TeardownOptions{Regions: []string{region}}.Validate())
	assert.Error(t, awslab.TeardownOptions{LabName: "exam", VpcName: "x", Regions: []string{region}}.Validate())
	assert.Error(t, awslab.TeardownOptions{LabName: "exam"}.Validate())
	assert.NoError(t, awslab.TeardownOptions{VpcIds: []string{"vpc-1"}, Regions: []string{region}}.Validate())
}

func TestLoadBalancerWebAclAndDns(t *testing.T) {
	cloud := newCloud(t)
	zoneId := cloud.AddHostedZone("labs.example.com")

	bp, err := lab.Load("juice-shop-waf")
	require.NoError(t, err)
	bp.LoadBalancer.Dns = &lab.Dns{ZoneId: zoneId, Name: "shop.labs.example.com"}

	outputs, err := awslab.Provision(context.Background(), bp, awslab.Options{LabName: "waf", Region: region, Poller: fastPoller})
	require.NoError(t, err)

	targetGroup, err := outputs.MustGet(lab.KindTargetGroup, "juice-alb-tg")
	require.NoError(t, err)
	assert.Len(t, cloud.Targets(targetGroup.Id), 2)
	loadBalancer, err := outputs.MustGet(lab.KindLoadBalancer, "juice-alb")
	require.NoError(t, err)
	assert.NotEmpty(t, loadBalancer.Endpoint)
	webAcl, err := outputs.MustGet(lab.KindWebAcl, "juice-waf")
	require.NoError(t, err)
	assert.Len(t, cloud.WebAclRules(webAcl.Id), 3)
	assert.Equal(t, []string{"shop.labs.example.com. A"}, cloud.Records(zoneId))

	_, err = teardown("waf")
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())
	assert.Empty(t, cloud.Records(zoneId))
}

func TestMultiRegionTransitGateways(t *testing.T) {
	cloud := newCloud(t, "us-east-1", "us-west-2")

	bp, err := lab.Load("transit-gateway-3vpcs")
	require.NoError(t, err)
	outputs, err := awslab.Provision(context.Background(), bp, awslab.Options{LabName: "tgw", Region: "us-east-1", Poller: fastPoller})
	require.NoError(t, err)

	assert.Len(t, outputs.ByKind(lab.KindTransitGateway), 2)
	assert.Len(t, outputs.ByKind(lab.KindTransitGatewayAttach), 3)
	peering, err := outputs.MustGet(lab.KindTransitGatewayPeering, "east-west")
	require.NoError(t, err)
	east, err := outputs.MustGet(lab.KindTransitGateway, "tgw-east")
	require.NoError(t, err)
	assert.NotEmpty(t, cloud.TransitGatewayRoutes(east.Id))
	assert.Contains(t, cloud.Live(), peering.Id)

	labs, err := awslab.ListLabs(context.Background(), bp.Regions("us-east-1"))
	require.NoError(t, err)
	require.Len(t, labs, 2, "one summary per region")
	assert.Equal(t, "us-east-1", labs[0].Region)
	assert.Equal(t, "us-west-2", labs[1].Region)

	_, err = teardown("tgw", bp.Regions("us-east-1")...)
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())
}

func TestHybridPeering(t *testing.T) {
	cloud := newCloud(t, "us-east-1", "us-west-2")

	bp, err := lab.Load("peering-tgw-hybrid")
	require.NoError(t, err)
	outputs, err := awslab.Provision(context.Background(), bp, awslab.Options{LabName: "hybrid", Region: "us-east-1", Poller: fastPoller})
	require.NoError(t, err)
	assert.NotEmpty(t, outputs.ByKind(lab.KindVpcPeeringConnection))

	_, err = teardown("hybrid", bp.Regions("us-east-1")...)
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())
}

func TestMonitoringUserData(t *testing.T) {
	newCloud(t)
	outputs := provision(t, "mon", "monitoring", 0)
	prometheus, err := outputs.MustGet(lab.KindInstance, "prometheus")
	require.NoError(t, err)
	assert.NotEmpty(t, prometheus.PrivateIp)
	assert.Len(t, outputs.ByKind(lab.KindInstance), 3)
}

func TestProvisionFailureWithoutRollback(t *testing.T) {
	cloud := newCloud(t)
	cloud.Fail("RunInstances", "InsufficientInstanceCapacity")

	bp, err := lab.Load("exam-vpc")
	require.NoError(t, err)
	outputs, err := awslab.Provision(context.Background(), bp, awslab.Options{LabName: "broken", Region: region, Poller: fastPoller})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provisioning lab broken")
	assert.Contains(t, err.Error(), "InsufficientInstanceCapacity")
	require.NotNil(t, outputs)
	_, ok := outputs.Get(lab.KindVpc, "exam-vpc")
	assert.True(t, ok, "records created before the failure are returned")
	assert.NotEmpty(t, cloud.Live())

	cloud.Heal("RunInstances")
	_, err = teardown("broken")
	require.NoError(t, err)
	assert.Empty(t, cloud.Live())
}

func TestProvisionFailureWithRollback(t *testing.T) {
	cloud := newCloud(t)
	cloud.Fail("CreateNetworkAclEntry", "NetworkAclEntryLimitExceeded")

	bp, err := lab.Load("exam-vpc")
	require.NoError(t, err)
	_, err = awslab.Provision(context.Background(), bp, awslab.Options{
		LabName:  "broken",
		Region:   region,
		Rollback: true,
		Poller:   fastPoller,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NetworkAclEntryLimitExceeded")
	assert.Empty(t, cloud.Live())
}

func TestProvisionRejectsBadInput(t *testing.T) {
	cloud := newCloud(t)
	bp, err := lab.Load("exam-vpc")
	require.NoError(t, err)

	_, err = awslab.Provision(context.Background(), bp, awslab.Options{LabName: "Bad_Name", Region: region, Poller: fastPoller})
	assert.Error(t, err)
	assert.Empty(t, cloud.Calls())
}

func TestListAndReap(t *testing.T) {
	cloud := newCloud(t)
	provision(t, "expiring", "exam-vpc", time.Hour)
	provision(t, "keeper", "strict-nacl", 0)

	labs, err := awslab.ListLabs(context.Background(), []string{region})
	require.NoError(t, err)
	require.Len(t, labs, 2)
	assert.Equal(t, lab.LabName("expiring"), labs[0].Name)
	assert.False(t, labs[0].ExpiresAt.IsZero())
	assert.True(t, labs[1].ExpiresAt.IsZero())

	later := time.Now().Add(2 * time.Hour)
	rows := awslab.LabsRows(labs, later)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0][4], "(expired)")
	assert.Len(t, rows[0], len(awslab.LabsHeader))

	reaped, reports, err := awslab.Reap(context.Background(), []string{region}, time.Now(), false, fastPoller)
	require.NoError(t, err)
	assert.Empty(t, reaped)
	assert.Empty(t, reports)

	reaped, _, err = awslab.Reap(context.Background(), []string{region}, later, true, fastPoller)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	labs, err = awslab.ListLabs(context.Background(), []string{region})
	require.NoError(t, err)
	assert.Len(t, labs, 2, "a dry run reaps nothing")

	reaped, reports, err = awslab.Reap(context.Background(), []string{region}, later, false, fastPoller)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, lab.LabName("expiring"), reaped[0].Name)
	assert.NotEmpty(t, awslab.ReportRows(reports))

	labs, err = awslab.ListLabs(context.Background(), []string{region})
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, lab.LabName("keeper"), labs[0].Name)
	assert.NotEmpty(t, cloud.Live(), "the lab without a ttl is kept")
}
