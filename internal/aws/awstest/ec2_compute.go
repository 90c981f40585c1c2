package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
)

type instanceRecord struct {
	region                string
	instance              *ec2.Instance
	disableApiTermination bool
}

func isTerminated(instance *ec2.Instance) bool {
	return aws.StringValue(instance.State.Name) == ec2.InstanceStateNameTerminated
}

func instanceState(name string) *ec2.InstanceState {
	codes := map[string]int64{
		ec2.InstanceStateNamePending:      0,
		ec2.InstanceStateNameRunning:      16,
		ec2.InstanceStateNameShuttingDown: 32,
		ec2.InstanceStateNameTerminated:   48,
	}
	return &ec2.InstanceState{Name: aws.String(name), Code: aws.Int64(codes[name])}
}

// advance moves transitional states one step forward. It runs on every
// describe, so a poller sees each transitional state exactly once.
func (r *instanceRecord) advance() {
	switch aws.StringValue(r.instance.State.Name) {
	case ec2.InstanceStateNamePending:
		r.instance.State = instanceState(ec2.InstanceStateNameRunning)
	case ec2.InstanceStateNameShuttingDown:
		r.instance.State = instanceState(ec2.InstanceStateNameTerminated)
	}
}

func defaultImages() []*ec2.Image {
	image := func(id, owner, name, created string) *ec2.Image {
		return &ec2.Image{
			ImageId:      aws.String(id),
			OwnerId:      aws.String(owner),
			Name:         aws.String(name),
			CreationDate: aws.String(created),
			State:        aws.String(ec2.ImageStateAvailable),
			Architecture: aws.String(ec2.ArchitectureValuesX8664),
		}
	}
	return []*ec2.Image{
		image("ami-0a2023000000000a1", "137112412989", "al2023-ami-2023.1.20230725.0-kernel-6.1-x86_64", "2023-07-25T00:00:00.000Z"),
		image("ami-0a2023000000000a2", "137112412989", "al2023-ami-2023.2.20230920.1-kernel-6.1-x86_64", "2023-09-20T00:00:00.000Z"),
		image("ami-0a2000000000000b1", "137112412989", "amzn2-ami-hvm-2.0.20230912.0-x86_64-gp2", "2023-09-12T00:00:00.000Z"),
		image("ami-0c2204000000000c1", "099720109477", "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-20230919", "2023-09-19T00:00:00.000Z"),
		image("ami-0c2404000000000d1", "099720109477", "ubuntu/images/hvm-ssd-gp3/ubuntu-noble-24.04-amd64-server-20240423", "2024-04-23T00:00:00.000Z"),
	}
}

func (e *EC2) DescribeImagesWithContext(_ aws.Context, in *ec2.DescribeImagesInput, _ ...request.Option) (*ec2.DescribeImagesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeImages"); err != nil {
		return nil, err
	}
	output := &ec2.DescribeImagesOutput{}
	for _, image := range c.images {
		if !wanted(in.ImageIds, aws.StringValue(image.ImageId)) || !wanted(in.Owners, aws.StringValue(image.OwnerId)) {
			continue
		}
		ok, err := matchFilters(in.Filters, attrs{
			"image-id":     {aws.StringValue(image.ImageId)},
			"name":         {aws.StringValue(image.Name)},
			"state":        {aws.StringValue(image.State)},
			"architecture": {aws.StringValue(image.Architecture)},
		}, image.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.Images = append(output.Images, awsutil.CopyOf(image).(*ec2.Image))
		}
	}
	return output, nil
}

func (e *EC2) RunInstancesWithContext(_ aws.Context, in *ec2.RunInstancesInput, _ ...request.Option) (*ec2.Reservation, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "RunInstances"); err != nil {
		return nil, err
	}
	if aws.Int64Value(in.MinCount) != 1 || aws.Int64Value(in.MaxCount) != 1 {
		return nil, apiError("InvalidParameterValue", "only single instance launches are supported")
	}
	imageKnown := false
	for _, image := range c.images {
		if aws.StringValue(image.ImageId) == aws.StringValue(in.ImageId) {
			imageKnown = true
		}
	}
	if !imageKnown {
		return nil, notFound("InvalidAMIID.NotFound", aws.StringValue(in.ImageId))
	}
	subnet, ok := c.subnets[aws.StringValue(in.SubnetId)]
	if !ok || subnet.region != e.region {
		return nil, notFound("InvalidSubnetID.NotFound", aws.StringValue(in.SubnetId))
	}

	var groups []*ec2.GroupIdentifier
	for _, groupId := range aws.StringValueSlice(in.SecurityGroupIds) {
		group, err := c.securityGroup(e.region, groupId)
		if err != nil {
			return nil, err
		}
		if aws.StringValue(group.group.VpcId) != aws.StringValue(subnet.subnet.VpcId) {
			return nil, apiError("InvalidParameter", "security group %s and subnet %s belong to different networks", groupId, aws.StringValue(in.SubnetId))
		}
		groups = append(groups, &ec2.GroupIdentifier{GroupId: group.group.GroupId, GroupName: group.group.GroupName})
	}

	privateIp := aws.StringValue(in.PrivateIpAddress)
	if privateIp == "" {
		privateIp = subnet.nextPrivateIp()
	} else {
		for _, r := range c.instances {
			if aws.StringValue(r.instance.PrivateIpAddress) == privateIp && !isTerminated(r.instance) {
				return nil, apiError("InvalidIPAddress.InUse", "address %s is in use", privateIp)
			}
		}
	}

	instanceId := c.nextId("i")
	instance := &ec2.Instance{
		InstanceId:       aws.String(instanceId),
		ImageId:          in.ImageId,
		InstanceType:     in.InstanceType,
		KeyName:          in.KeyName,
		SubnetId:         in.SubnetId,
		VpcId:            subnet.subnet.VpcId,
		PrivateIpAddress: aws.String(privateIp),
		SecurityGroups:   groups,
		State:            instanceState(ec2.InstanceStateNamePending),
		Placement:        &ec2.Placement{AvailabilityZone: subnet.subnet.AvailabilityZone},
		Tags:             tagsFromSpecs(in.TagSpecifications),
	}
	if aws.BoolValue(subnet.subnet.MapPublicIpOnLaunch) {
		instance.PublicIpAddress = aws.String(fmt.Sprintf("203.0.113.%d", c.seq%250+1))
	}
	c.instances[instanceId] = &instanceRecord{
		region:                e.region,
		instance:              instance,
		disableApiTermination: aws.BoolValue(in.DisableApiTermination),
	}
	return &ec2.Reservation{
		ReservationId: aws.String(c.nextId("r")),
		OwnerId:       aws.String(c.AccountId),
		Instances:     []*ec2.Instance{awsutil.CopyOf(instance).(*ec2.Instance)},
	}, nil
}

func (e *EC2) DescribeInstancesWithContext(_ aws.Context, in *ec2.DescribeInstancesInput, _ ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeInstances"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.InstanceIds, c.instances); ok {
		return nil, notFound("InvalidInstanceID.NotFound", id)
	}

	output := &ec2.DescribeInstancesOutput{}
	for _, id := range sortedKeys(c.instances) {
		r := c.instances[id]
		if r.region != e.region || !wanted(in.InstanceIds, id) {
			continue
		}
		r.advance()
		ok, err := matchFilters(in.Filters, attrs{
			"instance-id":         {id},
			"vpc-id":              {aws.StringValue(r.instance.VpcId)},
			"subnet-id":           {aws.StringValue(r.instance.SubnetId)},
			"instance-state-name": {aws.StringValue(r.instance.State.Name)},
		}, r.instance.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.Reservations = append(output.Reservations, &ec2.Reservation{
				Instances: []*ec2.Instance{awsutil.CopyOf(r.instance).(*ec2.Instance)},
			})
		}
	}
	return output, nil
}

func (e *EC2) ModifyInstanceAttributeWithContext(_ aws.Context, in *ec2.ModifyInstanceAttributeInput, _ ...request.Option) (*ec2.ModifyInstanceAttributeOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "ModifyInstanceAttribute"); err != nil {
		return nil, err
	}
	instanceId := aws.StringValue(in.InstanceId)
	r, ok := c.instances[instanceId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidInstanceID.NotFound", instanceId)
	}
	if in.DisableApiTermination != nil {
		r.disableApiTermination = aws.BoolValue(in.DisableApiTermination.Value)
	}
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

// ProtectInstance turns on termination protection, as a user might do by hand.
func (c *Cloud) ProtectInstance(instanceId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.instances[instanceId]; ok {
		r.disableApiTermination = true
	}
}

func (e *EC2) TerminateInstancesWithContext(_ aws.Context, in *ec2.TerminateInstancesInput, _ ...request.Option) (*ec2.TerminateInstancesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "TerminateInstances"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.InstanceIds, c.instances); ok {
		return nil, notFound("InvalidInstanceID.NotFound", id)
	}
	for _, id := range aws.StringValueSlice(in.InstanceIds) {
		if c.instances[id].disableApiTermination {
			return nil, apiError("OperationNotPermitted", "the instance '%s' may not be terminated", id)
		}
	}

	output := &ec2.TerminateInstancesOutput{}
	for _, id := range aws.StringValueSlice(in.InstanceIds) {
		r := c.instances[id]
		previous := r.instance.State
		if !isTerminated(r.instance) {
			r.instance.State = instanceState(ec2.InstanceStateNameShuttingDown)
		}
		output.TerminatingInstances = append(output.TerminatingInstances, &ec2.InstanceStateChange{
			InstanceId:    aws.String(id),
			PreviousState: previous,
			CurrentState:  r.instance.State,
		})
	}
	return output, nil
}
