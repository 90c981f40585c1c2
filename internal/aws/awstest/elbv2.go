package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
)

// CanonicalHostedZoneId is the alias zone every fake load balancer reports.
const CanonicalHostedZoneId = "Z35SXDOTRQ7X7K"

type ELBV2 struct {
	elbv2iface.ELBV2API
	cloud  *Cloud
	region string
}

type loadBalancerRecord struct {
	region string
	lb     *elbv2.LoadBalancer
}

type targetGroupRecord struct {
	region  string
	group   *elbv2.TargetGroup
	targets []string
}

type listenerRecord struct {
	region   string
	listener *elbv2.Listener
}

type lbTags []*elbv2.Tag

func (e *ELBV2) arn(kind, name string) string {
	return fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:%s/%s/%x", e.region, e.cloud.AccountId, kind, name, e.cloud.seq)
}

func elbNotFound(code, arn string) error {
	return apiError(code, "%s not found", arn)
}

func copyTags(tags []*elbv2.Tag) lbTags {
	var copied lbTags
	for _, tag := range tags {
		copied = append(copied, &elbv2.Tag{Key: tag.Key, Value: tag.Value})
	}
	return copied
}

func (e *ELBV2) CreateLoadBalancerWithContext(_ aws.Context, in *elbv2.CreateLoadBalancerInput, _ ...request.Option) (*elbv2.CreateLoadBalancerOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateLoadBalancer"); err != nil {
		return nil, err
	}
	name := aws.StringValue(in.Name)
	if len(name) > 32 {
		return nil, apiError(elbv2.ErrCodeInvalidConfigurationRequestException, "load balancer name %q is longer than 32 characters", name)
	}
	for _, r := range c.loadBalancers {
		if r.region == e.region && aws.StringValue(r.lb.LoadBalancerName) == name {
			return nil, apiError(elbv2.ErrCodeDuplicateLoadBalancerNameException, "a load balancer with the name '%s' already exists", name)
		}
	}
	if len(in.Subnets) < 2 {
		return nil, apiError(elbv2.ErrCodeInvalidConfigurationRequestException, "at least two subnets in two different availability zones must be specified")
	}

	var vpcId string
	var zones []*elbv2.AvailabilityZone
	seenZones := map[string]bool{}
	for _, subnetId := range aws.StringValueSlice(in.Subnets) {
		subnet, ok := c.subnets[subnetId]
		if !ok || subnet.region != e.region {
			return nil, apiError(elbv2.ErrCodeSubnetNotFoundException, "the subnet ID '%s' is not valid", subnetId)
		}
		zone := aws.StringValue(subnet.subnet.AvailabilityZone)
		if seenZones[zone] {
			return nil, apiError(elbv2.ErrCodeInvalidConfigurationRequestException, "a load balancer cannot be attached to multiple subnets in the same availability zone")
		}
		seenZones[zone] = true
		if vpcId != "" && vpcId != aws.StringValue(subnet.subnet.VpcId) {
			return nil, apiError(elbv2.ErrCodeInvalidSubnetException, "subnets belong to different vpcs")
		}
		vpcId = aws.StringValue(subnet.subnet.VpcId)
		zones = append(zones, &elbv2.AvailabilityZone{SubnetId: aws.String(subnetId), ZoneName: aws.String(zone)})
	}
	if len(seenZones) < 2 {
		return nil, apiError(elbv2.ErrCodeInvalidConfigurationRequestException, "at least two subnets in two different availability zones must be specified")
	}
	for _, groupId := range aws.StringValueSlice(in.SecurityGroups) {
		if _, err := c.securityGroup(e.region, groupId); err != nil {
			return nil, apiError(elbv2.ErrCodeInvalidSecurityGroupException, "security group '%s' does not exist", groupId)
		}
	}

	c.seq++
	arn := e.arn("loadbalancer/app", name)
	lb := &elbv2.LoadBalancer{
		LoadBalancerArn:       aws.String(arn),
		LoadBalancerName:      in.Name,
		DNSName:               aws.String(fmt.Sprintf("%s-%d.%s.elb.amazonaws.com", name, c.seq, e.region)),
		CanonicalHostedZoneId: aws.String(CanonicalHostedZoneId),
		Scheme:                in.Scheme,
		Type:                  in.Type,
		VpcId:                 aws.String(vpcId),
		AvailabilityZones:     zones,
		SecurityGroups:        in.SecurityGroups,
		State:                 &elbv2.LoadBalancerState{Code: aws.String(elbv2.LoadBalancerStateEnumProvisioning)},
	}
	c.loadBalancers[arn] = &loadBalancerRecord{region: e.region, lb: lb}
	c.elbTags[arn] = copyTags(in.Tags)
	return &elbv2.CreateLoadBalancerOutput{LoadBalancers: []*elbv2.LoadBalancer{awsutil.CopyOf(lb).(*elbv2.LoadBalancer)}}, nil
}

func (e *ELBV2) DescribeLoadBalancersWithContext(_ aws.Context, in *elbv2.DescribeLoadBalancersInput, _ ...request.Option) (*elbv2.DescribeLoadBalancersOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeLoadBalancers"); err != nil {
		return nil, err
	}
	if arn, ok := missing(in.LoadBalancerArns, c.loadBalancers); ok {
		return nil, elbNotFound(elbv2.ErrCodeLoadBalancerNotFoundException, arn)
	}

	output := &elbv2.DescribeLoadBalancersOutput{}
	for _, arn := range sortedKeys(c.loadBalancers) {
		r := c.loadBalancers[arn]
		if r.region != e.region || !wanted(in.LoadBalancerArns, arn) {
			continue
		}
		if len(in.Names) > 0 && !wanted(in.Names, aws.StringValue(r.lb.LoadBalancerName)) {
			continue
		}
		if aws.StringValue(r.lb.State.Code) == elbv2.LoadBalancerStateEnumProvisioning {
			r.lb.State = &elbv2.LoadBalancerState{Code: aws.String(elbv2.LoadBalancerStateEnumActive)}
		}
		output.LoadBalancers = append(output.LoadBalancers, awsutil.CopyOf(r.lb).(*elbv2.LoadBalancer))
	}
	return output, nil
}

func (e *ELBV2) DeleteLoadBalancerWithContext(_ aws.Context, in *elbv2.DeleteLoadBalancerInput, _ ...request.Option) (*elbv2.DeleteLoadBalancerOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteLoadBalancer"); err != nil {
		return nil, err
	}
	arn := aws.StringValue(in.LoadBalancerArn)
	r, ok := c.loadBalancers[arn]
	if !ok || r.region != e.region {
		return nil, elbNotFound(elbv2.ErrCodeLoadBalancerNotFoundException, arn)
	}
	for listenerArn, listener := range c.listeners {
		if aws.StringValue(listener.listener.LoadBalancerArn) == arn {
			delete(c.listeners, listenerArn)
		}
	}
	for _, group := range c.targetGroups {
		group.group.LoadBalancerArns = removeArn(group.group.LoadBalancerArns, arn)
	}
	delete(c.loadBalancers, arn)
	delete(c.elbTags, arn)
	delete(c.webAclResources, arn)
	return &elbv2.DeleteLoadBalancerOutput{}, nil
}

func removeArn(arns []*string, arn string) (kept []*string) {
	for _, a := range arns {
		if aws.StringValue(a) != arn {
			kept = append(kept, a)
		}
	}
	return
}

func (e *ELBV2) CreateTargetGroupWithContext(_ aws.Context, in *elbv2.CreateTargetGroupInput, _ ...request.Option) (*elbv2.CreateTargetGroupOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTargetGroup"); err != nil {
		return nil, err
	}
	name := aws.StringValue(in.Name)
	if len(name) > 32 {
		return nil, apiError(elbv2.ErrCodeInvalidConfigurationRequestException, "target group name %q is longer than 32 characters", name)
	}
	for _, r := range c.targetGroups {
		if r.region == e.region && aws.StringValue(r.group.TargetGroupName) == name {
			return nil, apiError(elbv2.ErrCodeDuplicateTargetGroupNameException, "a target group with the same name '%s' exists", name)
		}
	}
	if vpc, ok := c.vpcs[aws.StringValue(in.VpcId)]; !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}

	c.seq++
	arn := e.arn("targetgroup", name)
	group := &elbv2.TargetGroup{
		TargetGroupArn:  aws.String(arn),
		TargetGroupName: in.Name,
		Port:            in.Port,
		Protocol:        in.Protocol,
		VpcId:           in.VpcId,
		TargetType:      in.TargetType,
		HealthCheckPath: in.HealthCheckPath,
	}
	c.targetGroups[arn] = &targetGroupRecord{region: e.region, group: group}
	c.elbTags[arn] = copyTags(in.Tags)
	return &elbv2.CreateTargetGroupOutput{TargetGroups: []*elbv2.TargetGroup{awsutil.CopyOf(group).(*elbv2.TargetGroup)}}, nil
}

func (e *ELBV2) DescribeTargetGroupsWithContext(_ aws.Context, in *elbv2.DescribeTargetGroupsInput, _ ...request.Option) (*elbv2.DescribeTargetGroupsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeTargetGroups"); err != nil {
		return nil, err
	}
	if arn, ok := missing(in.TargetGroupArns, c.targetGroups); ok {
		return nil, elbNotFound(elbv2.ErrCodeTargetGroupNotFoundException, arn)
	}

	output := &elbv2.DescribeTargetGroupsOutput{}
	for _, arn := range sortedKeys(c.targetGroups) {
		r := c.targetGroups[arn]
		if r.region != e.region || !wanted(in.TargetGroupArns, arn) {
			continue
		}
		if in.LoadBalancerArn != nil && !wanted(r.group.LoadBalancerArns, *in.LoadBalancerArn) {
			continue
		}
		output.TargetGroups = append(output.TargetGroups, awsutil.CopyOf(r.group).(*elbv2.TargetGroup))
	}
	return output, nil
}

func (e *ELBV2) RegisterTargetsWithContext(_ aws.Context, in *elbv2.RegisterTargetsInput, _ ...request.Option) (*elbv2.RegisterTargetsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "RegisterTargets"); err != nil {
		return nil, err
	}
	arn := aws.StringValue(in.TargetGroupArn)
	r, ok := c.targetGroups[arn]
	if !ok || r.region != e.region {
		return nil, elbNotFound(elbv2.ErrCodeTargetGroupNotFoundException, arn)
	}
	for _, target := range in.Targets {
		instanceId := aws.StringValue(target.Id)
		instance, ok := c.instances[instanceId]
		if !ok || aws.StringValue(instance.instance.State.Name) != ec2.InstanceStateNameRunning {
			return nil, apiError(elbv2.ErrCodeInvalidTargetException, "the following targets are not in a running state and cannot be registered: '%s'", instanceId)
		}
		if aws.StringValue(instance.instance.VpcId) != aws.StringValue(r.group.VpcId) {
			return nil, apiError(elbv2.ErrCodeInvalidTargetException, "the following targets are not in the target group vpc: '%s'", instanceId)
		}
	}
	for _, target := range in.Targets {
		if !contains(r.targets, aws.StringValue(target.Id)) {
			r.targets = append(r.targets, aws.StringValue(target.Id))
		}
	}
	return &elbv2.RegisterTargetsOutput{}, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Targets returns the instance ids registered with a target group.
func (c *Cloud) Targets(targetGroupArn string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.targetGroups[targetGroupArn]; ok {
		return append([]string(nil), r.targets...)
	}
	return nil
}

func (e *ELBV2) DeleteTargetGroupWithContext(_ aws.Context, in *elbv2.DeleteTargetGroupInput, _ ...request.Option) (*elbv2.DeleteTargetGroupOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteTargetGroup"); err != nil {
		return nil, err
	}
	arn := aws.StringValue(in.TargetGroupArn)
	r, ok := c.targetGroups[arn]
	if !ok || r.region != e.region {
		return nil, elbNotFound(elbv2.ErrCodeTargetGroupNotFoundException, arn)
	}
	for listenerArn, listener := range c.listeners {
		for _, action := range listener.listener.DefaultActions {
			if aws.StringValue(action.TargetGroupArn) == arn {
				return nil, apiError(elbv2.ErrCodeResourceInUseException, "target group '%s' is currently in use by listener '%s'", arn, listenerArn)
			}
		}
	}
	delete(c.targetGroups, arn)
	delete(c.elbTags, arn)
	return &elbv2.DeleteTargetGroupOutput{}, nil
}

func (e *ELBV2) CreateListenerWithContext(_ aws.Context, in *elbv2.CreateListenerInput, _ ...request.Option) (*elbv2.CreateListenerOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateListener"); err != nil {
		return nil, err
	}
	lbArn := aws.StringValue(in.LoadBalancerArn)
	lb, ok := c.loadBalancers[lbArn]
	if !ok || lb.region != e.region {
		return nil, elbNotFound(elbv2.ErrCodeLoadBalancerNotFoundException, lbArn)
	}
	for _, r := range c.listeners {
		if aws.StringValue(r.listener.LoadBalancerArn) == lbArn && aws.Int64Value(r.listener.Port) == aws.Int64Value(in.Port) {
			return nil, apiError(elbv2.ErrCodeDuplicateListenerException, "a listener already exists on port %d", aws.Int64Value(in.Port))
		}
	}
	for _, action := range in.DefaultActions {
		group, ok := c.targetGroups[aws.StringValue(action.TargetGroupArn)]
		if !ok || group.region != e.region {
			return nil, elbNotFound(elbv2.ErrCodeTargetGroupNotFoundException, aws.StringValue(action.TargetGroupArn))
		}
		if !wanted(group.group.LoadBalancerArns, lbArn) || len(group.group.LoadBalancerArns) == 0 {
			group.group.LoadBalancerArns = append(group.group.LoadBalancerArns, aws.String(lbArn))
		}
	}

	c.seq++
	arn := e.arn("listener/app", aws.StringValue(lb.lb.LoadBalancerName))
	listener := &elbv2.Listener{
		ListenerArn:     aws.String(arn),
		LoadBalancerArn: in.LoadBalancerArn,
		Port:            in.Port,
		Protocol:        in.Protocol,
		DefaultActions:  in.DefaultActions,
	}
	c.listeners[arn] = &listenerRecord{region: e.region, listener: listener}
	c.elbTags[arn] = copyTags(in.Tags)
	return &elbv2.CreateListenerOutput{Listeners: []*elbv2.Listener{awsutil.CopyOf(listener).(*elbv2.Listener)}}, nil
}

func (e *ELBV2) DescribeListenersWithContext(_ aws.Context, in *elbv2.DescribeListenersInput, _ ...request.Option) (*elbv2.DescribeListenersOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeListeners"); err != nil {
		return nil, err
	}
	lbArn := aws.StringValue(in.LoadBalancerArn)
	if lb, ok := c.loadBalancers[lbArn]; lbArn != "" && (!ok || lb.region != e.region) {
		return nil, elbNotFound(elbv2.ErrCodeLoadBalancerNotFoundException, lbArn)
	}

	output := &elbv2.DescribeListenersOutput{}
	for _, arn := range sortedKeys(c.listeners) {
		r := c.listeners[arn]
		if r.region != e.region || !wanted(in.ListenerArns, arn) {
			continue
		}
		if lbArn != "" && aws.StringValue(r.listener.LoadBalancerArn) != lbArn {
			continue
		}
		output.Listeners = append(output.Listeners, awsutil.CopyOf(r.listener).(*elbv2.Listener))
	}
	return output, nil
}

func (e *ELBV2) DeleteListenerWithContext(_ aws.Context, in *elbv2.DeleteListenerInput, _ ...request.Option) (*elbv2.DeleteListenerOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteListener"); err != nil {
		return nil, err
	}
	arn := aws.StringValue(in.ListenerArn)
	r, ok := c.listeners[arn]
	if !ok || r.region != e.region {
		return nil, elbNotFound(elbv2.ErrCodeListenerNotFoundException, arn)
	}
	delete(c.listeners, arn)
	delete(c.elbTags, arn)
	return &elbv2.DeleteListenerOutput{}, nil
}

func (e *ELBV2) DescribeTagsWithContext(_ aws.Context, in *elbv2.DescribeTagsInput, _ ...request.Option) (*elbv2.DescribeTagsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeTags"); err != nil {
		return nil, err
	}
	output := &elbv2.DescribeTagsOutput{}
	for _, arn := range aws.StringValueSlice(in.ResourceArns) {
		tags, ok := c.elbTags[arn]
		if !ok {
			return nil, elbNotFound(elbv2.ErrCodeLoadBalancerNotFoundException, arn)
		}
		output.TagDescriptions = append(output.TagDescriptions, &elbv2.TagDescription{
			ResourceArn: aws.String(arn),
			Tags:        copyTags(tags),
		})
	}
	return output, nil
}
