package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"labctl/internal/aws/awstest"
	"labctl/internal/aws/common"
	"labctl/internal/aws/network"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

const region = "eu-west-1"

var poller = lab.Poller{Attempts: 10}

func newCloud(t *testing.T) *awstest.Cloud {
	t.Helper()
	connectors.ResetAWSSessions()
	cloud := awstest.NewCloud()
	cloud.Install(region)
	t.Cleanup(connectors.ResetAWSSessions)
	return cloud
}

func createVpc(t *testing.T, ctx context.Context, labName lab.LabName) string {
	t.Helper()
	tags := lab.GetCommonResourceTags(labName, "test", "run", time.Time{}).WithName(string(labName) + "-vpc")
	vpcId, err := network.CreateVpc(ctx, region, "10.0.0.0/16", tags)
	require.NoError(t, err)
	require.NoError(t, network.WaitForVpcAvailable(ctx, region, vpcId, poller))
	return vpcId
}

func TestResolveVpcIds(t *testing.T) {
	newCloud(t)
	ctx := context.Background()
	first := createVpc(t, ctx, "first")
	second := createVpc(t, ctx, "second")

	ids, err := network.ResolveVpcIds(ctx, region, "first", "")
	require.NoError(t, err)
	assert.Equal(t, []string{first}, ids)

	ids, err = network.ResolveVpcIds(ctx, region, "", "second-vpc")
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids)

	ids, err = network.ResolveVpcIds(ctx, region, "third", "")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = network.ExistingVpcIds(ctx, region, []string{first, "vpc-0000000000000dead"})
	require.NoError(t, err)
	assert.Equal(t, []string{first}, ids)
}

func TestSubnetsAndZones(t *testing.T) {
	newCloud(t)
	ctx := context.Background()
	vpcId := createVpc(t, ctx, "exam")

	zones, err := network.GetAvailabilityZones(ctx, region)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(zones), 2)

	zone, err := network.ZoneFor(lab.Subnet{Name: "b", ZoneIndex: 1}, zones)
	require.NoError(t, err)
	assert.Equal(t, zones[1], zone)
	zone, err = network.ZoneFor(lab.Subnet{Name: "x", Zone: "eu-west-1c"}, zones)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1c", zone)
	_, err = network.ZoneFor(lab.Subnet{Name: "far", ZoneIndex: 42}, zones)
	assert.Error(t, err)

	subnetId, err := network.CreateSubnet(ctx, region, vpcId, "10.0.1.0/24", zones[0], true, lab.Tags{})
	require.NoError(t, err)
	subnets, err := common.GetVpcSubnets(ctx, region, vpcId)
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	assert.True(t, aws.BoolValue(subnets[0].MapPublicIpOnLaunch))

	require.Error(t, network.DeleteVpc(ctx, region, vpcId, lab.Poller{Attempts: 2}), "a vpc with subnets cannot go")
	require.NoError(t, network.DeleteSubnet(ctx, region, subnetId, poller))
	require.NoError(t, network.DeleteSubnet(ctx, region, subnetId, poller), "deleting twice is fine")
	require.NoError(t, network.DeleteVpc(ctx, region, vpcId, poller))
}

func TestRoutesAreIdempotent(t *testing.T) {
	cloud := newCloud(t)
	ctx := context.Background()
	vpcId := createVpc(t, ctx, "exam")

	igwId, err := network.CreateInternetGateway(ctx, region, vpcId, lab.Tags{})
	require.NoError(t, err)
	routeTableId, err := network.CreateRouteTable(ctx, region, vpcId, lab.Tags{})
	require.NoError(t, err)

	target := network.RouteTarget{GatewayId: igwId}
	assert.Equal(t, igwId, target.String())
	require.NoError(t, network.CreateRoute(ctx, region, routeTableId, "0.0.0.0/0", target))
	require.NoError(t, network.CreateRoute(ctx, region, routeTableId, "0.0.0.0/0", target))
	assert.Equal(t, igwId, cloud.Routes(routeTableId)["0.0.0.0/0"])

	assert.Error(t, network.CreateRoute(ctx, region, routeTableId, "10.1.0.0/16", network.RouteTarget{}))

	mainId, err := common.GetMainRouteTable(ctx, region, vpcId)
	require.NoError(t, err)
	assert.NotEqual(t, routeTableId, mainId)
}

func TestSecurityGroupCrossReferences(t *testing.T) {
	cloud := newCloud(t)
	ctx := context.Background()
	vpcId := createVpc(t, ctx, "exam")

	webId, err := network.CreateSecurityGroup(ctx, region, vpcId, "exam-web", "", lab.Tags{})
	require.NoError(t, err)
	dbId, err := network.CreateSecurityGroup(ctx, region, vpcId, "exam-db", "database", lab.Tags{})
	require.NoError(t, err)

	fromWeb, err := network.IngressPermission(lab.Rule{Protocol: "tcp", Port: 3306}, webId)
	require.NoError(t, err)
	fromDb, err := network.IngressPermission(lab.Rule{Protocol: "icmp"}, dbId)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), aws.Int64Value(fromDb.FromPort))
	require.NoError(t, network.AuthorizeIngress(ctx, region, dbId, []*ec2.IpPermission{fromWeb}))
	require.NoError(t, network.AuthorizeIngress(ctx, region, webId, []*ec2.IpPermission{fromDb}))
	require.NoError(t, network.AuthorizeIngress(ctx, region, webId, []*ec2.IpPermission{fromDb}), "duplicates are ignored")

	groups, err := network.GetSecurityGroups(ctx, region, []string{vpcId})
	require.NoError(t, err)
	require.Len(t, groups, 2, "the default group is skipped")

	assert.Error(t, network.DeleteSecurityGroup(ctx, region, webId, lab.Poller{Attempts: 2}))
	for _, group := range groups {
		require.NoError(t, network.RevokeGroupReferences(ctx, region, group))
	}
	require.NoError(t, network.DeleteSecurityGroup(ctx, region, webId, poller))
	require.NoError(t, network.DeleteSecurityGroup(ctx, region, dbId, poller))
	assert.NotContains(t, cloud.Live(), webId)
}

func TestNetworkAclLifecycle(t *testing.T) {
	cloud := newCloud(t)
	ctx := context.Background()
	vpcId := createVpc(t, ctx, "exam")
	subnetId, err := network.CreateSubnet(ctx, region, vpcId, "10.0.2.0/24", "", false, lab.Tags{})
	require.NoError(t, err)

	aclId, err := network.CreateNetworkAcl(ctx, region, vpcId, lab.Tags{})
	require.NoError(t, err)
	entry := lab.AclEntry{Rule: 100, Protocol: "tcp", Port: 22, Cidr: "10.0.1.0/24", Action: "allow"}
	require.NoError(t, network.CreateNetworkAclEntry(ctx, region, aclId, entry))
	require.NoError(t, network.CreateNetworkAclEntry(ctx, region, aclId, entry), "an existing entry is not an error")
	require.NoError(t, network.AssociateNetworkAcl(ctx, region, aclId, subnetId))

	acls, err := network.GetCustomNetworkAcls(ctx, region, []string{vpcId})
	require.NoError(t, err)
	require.Len(t, acls, 1)
	require.NoError(t, network.DeleteNetworkAcl(ctx, region, acls[0], poller))
	assert.NotContains(t, cloud.Live(), aclId)

	defaultId, err := network.GetDefaultNetworkAclId(ctx, region, vpcId)
	require.NoError(t, err)
	assert.NotEqual(t, aclId, defaultId)
}
