package compute_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"labctl/internal/aws/awstest"
	"labctl/internal/aws/compute"
	"labctl/internal/aws/network"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

const region = "us-east-1"

var poller = lab.Poller{Attempts: 10}

func newCloud(t *testing.T) *awstest.Cloud {
	t.Helper()
	connectors.ResetAWSSessions()
	cloud := awstest.NewCloud()
	cloud.Install(region)
	t.Cleanup(connectors.ResetAWSSessions)
	return cloud
}

func TestResolveImageId(t *testing.T) {
	newCloud(t)
	ctx := context.Background()

	imageId, err := compute.ResolveImageId(ctx, region, "")
	require.NoError(t, err)
	assert.Equal(t, "ami-0a2023000000000a2", imageId, "the newest image of the family wins")

	imageId, err = compute.ResolveImageId(ctx, region, "ubuntu-22.04")
	require.NoError(t, err)
	assert.Equal(t, "ami-0c2204000000000c1", imageId)

	imageId, err = compute.ResolveImageId(ctx, region, "ami-0123456789abcdef0")
	require.NoError(t, err)
	assert.Equal(t, "ami-0123456789abcdef0", imageId)

	_, err = compute.ResolveImageId(ctx, region, "windows-2022")
	assert.Error(t, err)
}

func TestRunWaitAndTerminate(t *testing.T) {
	cloud := newCloud(t)
	ctx := context.Background()

	vpcId, err := network.CreateVpc(ctx, region, "10.0.0.0/16", lab.Tags{})
	require.NoError(t, err)
	subnetId, err := network.CreateSubnet(ctx, region, vpcId, "10.0.1.0/24", "", false, lab.Tags{})
	require.NoError(t, err)
	imageId, err := compute.ResolveImageId(ctx, region, lab.DefaultImage)
	require.NoError(t, err)

	var instanceIds []string
	for _, privateIp := range []string{"10.0.1.10", ""} {
		instance, err := compute.RunInstance(ctx, region, compute.InstanceParams{
			ImageId:   imageId,
			SubnetId:  subnetId,
			PrivateIp: privateIp,
			UserData:  "#!/bin/bash\necho hi\n",
		}, lab.Tags{"Name": "exam-host"})
		require.NoError(t, err)
		assert.Equal(t, compute.DefaultInstanceType, aws.StringValue(instance.InstanceType))
		instanceIds = append(instanceIds, *instance.InstanceId)
	}

	running, err := compute.WaitForInstanceRunning(ctx, region, instanceIds[0], poller)
	require.NoError(t, err)
	assert.Equal(t, ec2.InstanceStateNameRunning, aws.StringValue(running.State.Name))
	assert.Equal(t, "10.0.1.10", aws.StringValue(running.PrivateIpAddress))

	instances, err := compute.GetVpcInstances(ctx, region, []string{vpcId})
	require.NoError(t, err)
	assert.ElementsMatch(t, instanceIds, compute.GetInstancesIds(instances))

	cloud.ProtectInstance(instanceIds[1])
	require.NoError(t, compute.TerminateInstances(ctx, region, instanceIds, poller))

	instances, err = compute.GetVpcInstances(ctx, region, []string{vpcId})
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Contains(t, cloud.CallsWithPrefix("ModifyInstanceAttribute"), "ModifyInstanceAttribute")
}

func TestWaitForTerminatedInstanceFails(t *testing.T) {
	newCloud(t)
	ctx := context.Background()

	vpcId, err := network.CreateVpc(ctx, region, "10.0.0.0/16", lab.Tags{})
	require.NoError(t, err)
	subnetId, err := network.CreateSubnet(ctx, region, vpcId, "10.0.1.0/24", "", false, lab.Tags{})
	require.NoError(t, err)
	instance, err := compute.RunInstance(ctx, region, compute.InstanceParams{ImageId: "ami-0a2000000000000b1", SubnetId: subnetId}, lab.Tags{})
	require.NoError(t, err)
	require.NoError(t, compute.TerminateInstances(ctx, region, []string{*instance.InstanceId}, poller))

	_, err = compute.WaitForInstanceRunning(ctx, region, *instance.InstanceId, poller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is terminated")
}
