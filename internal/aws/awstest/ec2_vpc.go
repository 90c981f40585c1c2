package awstest

import (
	"net"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

// EC2 implements the EC2 operations labctl uses. Anything else panics
// through the nil embedded interface.
type EC2 struct {
	ec2iface.EC2API
	cloud  *Cloud
	region string
}

type vpcRecord struct {
	region       string
	vpc          *ec2.Vpc
	dnsSupport   bool
	dnsHostnames bool
}

type subnetRecord struct {
	region string
	subnet *ec2.Subnet
	ipSeq  int
}

func (e *EC2) CreateVpcWithContext(_ aws.Context, in *ec2.CreateVpcInput, _ ...request.Option) (*ec2.CreateVpcOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateVpc"); err != nil {
		return nil, err
	}
	if _, _, err := net.ParseCIDR(aws.StringValue(in.CidrBlock)); err != nil {
		return nil, apiError("InvalidVpc.Range", "invalid cidr %s", aws.StringValue(in.CidrBlock))
	}

	vpcId := c.nextId("vpc")
	vpc := &ec2.Vpc{
		VpcId:     aws.String(vpcId),
		CidrBlock: in.CidrBlock,
		State:     aws.String(ec2.VpcStateAvailable),
		IsDefault: aws.Bool(false),
		OwnerId:   aws.String(c.AccountId),
		Tags:      tagsFromSpecs(in.TagSpecifications),
	}
	c.vpcs[vpcId] = &vpcRecord{region: e.region, vpc: vpc}

	// every vpc comes with a main route table, a default acl and a default group
	rtbId := c.nextId("rtb")
	c.routeTables[rtbId] = &routeTableRecord{region: e.region, table: &ec2.RouteTable{
		RouteTableId: aws.String(rtbId),
		VpcId:        aws.String(vpcId),
		Associations: []*ec2.RouteTableAssociation{{
			Main:                    aws.Bool(true),
			RouteTableAssociationId: aws.String(c.nextId("rtbassoc")),
			RouteTableId:            aws.String(rtbId),
		}},
		Routes: []*ec2.Route{localRoute(in.CidrBlock)},
	}}
	aclId := c.nextId("acl")
	c.networkAcls[aclId] = &networkAclRecord{region: e.region, acl: &ec2.NetworkAcl{
		NetworkAclId: aws.String(aclId),
		VpcId:        aws.String(vpcId),
		IsDefault:    aws.Bool(true),
	}}
	sgId := c.nextId("sg")
	c.securityGroups[sgId] = &securityGroupRecord{region: e.region, group: &ec2.SecurityGroup{
		GroupId:     aws.String(sgId),
		GroupName:   aws.String("default"),
		Description: aws.String("default VPC security group"),
		VpcId:       aws.String(vpcId),
		OwnerId:     aws.String(c.AccountId),
	}}

	return &ec2.CreateVpcOutput{Vpc: awsutil.CopyOf(vpc).(*ec2.Vpc)}, nil
}

func localRoute(cidr *string) *ec2.Route {
	return &ec2.Route{
		DestinationCidrBlock: cidr,
		GatewayId:            aws.String("local"),
		State:                aws.String(ec2.RouteStateActive),
		Origin:               aws.String(ec2.RouteOriginCreateRouteTable),
	}
}

func (e *EC2) DescribeVpcsWithContext(_ aws.Context, in *ec2.DescribeVpcsInput, _ ...request.Option) (*ec2.DescribeVpcsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeVpcs"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.VpcIds, c.vpcs); ok {
		return nil, notFound("InvalidVpcID.NotFound", id)
	}

	output := &ec2.DescribeVpcsOutput{}
	for _, id := range sortedKeys(c.vpcs) {
		r := c.vpcs[id]
		if r.region != e.region || !wanted(in.VpcIds, id) {
			continue
		}
		ok, err := matchFilters(in.Filters, attrs{
			"vpc-id":     {id},
			"state":      {aws.StringValue(r.vpc.State)},
			"cidr":       {aws.StringValue(r.vpc.CidrBlock)},
			"is-default": boolAttr(false),
		}, r.vpc.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.Vpcs = append(output.Vpcs, awsutil.CopyOf(r.vpc).(*ec2.Vpc))
		}
	}
	return output, nil
}

func (e *EC2) ModifyVpcAttributeWithContext(_ aws.Context, in *ec2.ModifyVpcAttributeInput, _ ...request.Option) (*ec2.ModifyVpcAttributeOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "ModifyVpcAttribute"); err != nil {
		return nil, err
	}
	r, ok := c.vpcs[aws.StringValue(in.VpcId)]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}
	if in.EnableDnsSupport != nil && in.EnableDnsHostnames != nil {
		return nil, apiError("InvalidParameterCombination", "only one attribute can be modified at a time")
	}
	if in.EnableDnsSupport != nil {
		r.dnsSupport = aws.BoolValue(in.EnableDnsSupport.Value)
	}
	if in.EnableDnsHostnames != nil {
		r.dnsHostnames = aws.BoolValue(in.EnableDnsHostnames.Value)
	}
	return &ec2.ModifyVpcAttributeOutput{}, nil
}

// VpcDns reports the DNS attributes of a VPC.
func (c *Cloud) VpcDns(vpcId string) (support, hostnames bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.vpcs[vpcId]; ok {
		return r.dnsSupport, r.dnsHostnames
	}
	return false, false
}

// vpcDependency names something that still lives in the VPC, or "".
func (c *Cloud) vpcDependency(vpcId string) string {
	for id, r := range c.subnets {
		if aws.StringValue(r.subnet.VpcId) == vpcId {
			return id
		}
	}
	for id, r := range c.internetGateways {
		for _, attachment := range r.igw.Attachments {
			if aws.StringValue(attachment.VpcId) == vpcId {
				return id
			}
		}
	}
	for id, r := range c.routeTables {
		if aws.StringValue(r.table.VpcId) == vpcId && !isMain(r.table) {
			return id
		}
	}
	for id, r := range c.securityGroups {
		if aws.StringValue(r.group.VpcId) == vpcId && aws.StringValue(r.group.GroupName) != "default" {
			return id
		}
	}
	for id, r := range c.networkAcls {
		if aws.StringValue(r.acl.VpcId) == vpcId && !aws.BoolValue(r.acl.IsDefault) {
			return id
		}
	}
	for id, r := range c.vpcAttachments {
		if aws.StringValue(r.attachment.VpcId) == vpcId && !isGoneAttachment(r.attachment.State) {
			return id
		}
	}
	for id, r := range c.vpcPeerings {
		if peeringInvolves(r.peering, vpcId) && isLivePeering(r.peering) {
			return id
		}
	}
	return ""
}

func (e *EC2) DeleteVpcWithContext(_ aws.Context, in *ec2.DeleteVpcInput, _ ...request.Option) (*ec2.DeleteVpcOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteVpc"); err != nil {
		return nil, err
	}
	vpcId := aws.StringValue(in.VpcId)
	r, ok := c.vpcs[vpcId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", vpcId)
	}
	if dependency := c.vpcDependency(vpcId); dependency != "" {
		return nil, apiError("DependencyViolation", "the vpc '%s' has dependencies and cannot be deleted (%s)", vpcId, dependency)
	}

	for id, rt := range c.routeTables {
		if aws.StringValue(rt.table.VpcId) == vpcId {
			delete(c.routeTables, id)
		}
	}
	for id, acl := range c.networkAcls {
		if aws.StringValue(acl.acl.VpcId) == vpcId {
			delete(c.networkAcls, id)
		}
	}
	for id, sg := range c.securityGroups {
		if aws.StringValue(sg.group.VpcId) == vpcId {
			delete(c.securityGroups, id)
		}
	}
	delete(c.vpcs, vpcId)
	return &ec2.DeleteVpcOutput{}, nil
}

func (e *EC2) DescribeAvailabilityZonesWithContext(_ aws.Context, in *ec2.DescribeAvailabilityZonesInput, _ ...request.Option) (*ec2.DescribeAvailabilityZonesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeAvailabilityZones"); err != nil {
		return nil, err
	}
	output := &ec2.DescribeAvailabilityZonesOutput{}
	for _, suffix := range []string{"a", "b", "c"} {
		zone := &ec2.AvailabilityZone{
			ZoneName:   aws.String(e.region + suffix),
			RegionName: aws.String(e.region),
			State:      aws.String(ec2.AvailabilityZoneStateAvailable),
		}
		ok, err := matchFilters(in.Filters, attrs{
			"state":     {ec2.AvailabilityZoneStateAvailable},
			"zone-name": {e.region + suffix},
		}, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			output.AvailabilityZones = append(output.AvailabilityZones, zone)
		}
	}
	return output, nil
}

func (e *EC2) CreateSubnetWithContext(_ aws.Context, in *ec2.CreateSubnetInput, _ ...request.Option) (*ec2.CreateSubnetOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateSubnet"); err != nil {
		return nil, err
	}
	vpcId := aws.StringValue(in.VpcId)
	vpc, ok := c.vpcs[vpcId]
	if !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", vpcId)
	}
	_, vpcNet, _ := net.ParseCIDR(aws.StringValue(vpc.vpc.CidrBlock))
	ip, _, err := net.ParseCIDR(aws.StringValue(in.CidrBlock))
	if err != nil || !vpcNet.Contains(ip) {
		return nil, apiError("InvalidSubnet.Range", "the cidr '%s' is invalid", aws.StringValue(in.CidrBlock))
	}
	for _, r := range c.subnets {
		if aws.StringValue(r.subnet.VpcId) == vpcId && aws.StringValue(r.subnet.CidrBlock) == aws.StringValue(in.CidrBlock) {
			return nil, apiError("InvalidSubnet.Conflict", "the cidr '%s' conflicts with another subnet", aws.StringValue(in.CidrBlock))
		}
	}

	zone := aws.StringValue(in.AvailabilityZone)
	if zone == "" {
		zone = e.region + "a"
	}
	subnetId := c.nextId("subnet")
	subnet := &ec2.Subnet{
		SubnetId:            aws.String(subnetId),
		VpcId:               in.VpcId,
		CidrBlock:           in.CidrBlock,
		AvailabilityZone:    aws.String(zone),
		State:               aws.String(ec2.SubnetStateAvailable),
		MapPublicIpOnLaunch: aws.Bool(false),
		Tags:                tagsFromSpecs(in.TagSpecifications),
	}
	c.subnets[subnetId] = &subnetRecord{region: e.region, subnet: subnet}

	for _, acl := range c.networkAcls {
		if aws.StringValue(acl.acl.VpcId) == vpcId && aws.BoolValue(acl.acl.IsDefault) {
			acl.acl.Associations = append(acl.acl.Associations, &ec2.NetworkAclAssociation{
				NetworkAclAssociationId: aws.String(c.nextId("aclassoc")),
				NetworkAclId:            acl.acl.NetworkAclId,
				SubnetId:                aws.String(subnetId),
			})
		}
	}
	return &ec2.CreateSubnetOutput{Subnet: awsutil.CopyOf(subnet).(*ec2.Subnet)}, nil
}

func (e *EC2) DescribeSubnetsWithContext(_ aws.Context, in *ec2.DescribeSubnetsInput, _ ...request.Option) (*ec2.DescribeSubnetsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeSubnets"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.SubnetIds, c.subnets); ok {
		return nil, notFound("InvalidSubnetID.NotFound", id)
	}

	output := &ec2.DescribeSubnetsOutput{}
	for _, id := range sortedKeys(c.subnets) {
		r := c.subnets[id]
		if r.region != e.region || !wanted(in.SubnetIds, id) {
			continue
		}
		ok, err := matchFilters(in.Filters, attrs{
			"subnet-id":         {id},
			"vpc-id":            {aws.StringValue(r.subnet.VpcId)},
			"availability-zone": {aws.StringValue(r.subnet.AvailabilityZone)},
			"state":             {aws.StringValue(r.subnet.State)},
		}, r.subnet.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.Subnets = append(output.Subnets, awsutil.CopyOf(r.subnet).(*ec2.Subnet))
		}
	}
	return output, nil
}

func (e *EC2) ModifySubnetAttributeWithContext(_ aws.Context, in *ec2.ModifySubnetAttributeInput, _ ...request.Option) (*ec2.ModifySubnetAttributeOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "ModifySubnetAttribute"); err != nil {
		return nil, err
	}
	r, ok := c.subnets[aws.StringValue(in.SubnetId)]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidSubnetID.NotFound", aws.StringValue(in.SubnetId))
	}
	if in.MapPublicIpOnLaunch != nil {
		r.subnet.MapPublicIpOnLaunch = aws.Bool(aws.BoolValue(in.MapPublicIpOnLaunch.Value))
	}
	return &ec2.ModifySubnetAttributeOutput{}, nil
}

func (c *Cloud) subnetDependency(subnetId string) string {
	for id, r := range c.instances {
		if aws.StringValue(r.instance.SubnetId) == subnetId && !isTerminated(r.instance) {
			return id
		}
	}
	for id, r := range c.natGateways {
		if aws.StringValue(r.nat.SubnetId) == subnetId && aws.StringValue(r.nat.State) != ec2.NatGatewayStateDeleted {
			return id
		}
	}
	for id, r := range c.vpcAttachments {
		if isGoneAttachment(r.attachment.State) {
			continue
		}
		for _, attached := range r.attachment.SubnetIds {
			if aws.StringValue(attached) == subnetId {
				return id
			}
		}
	}
	for arn, r := range c.loadBalancers {
		for _, zone := range r.lb.AvailabilityZones {
			if aws.StringValue(zone.SubnetId) == subnetId {
				return arn
			}
		}
	}
	return ""
}

func (e *EC2) DeleteSubnetWithContext(_ aws.Context, in *ec2.DeleteSubnetInput, _ ...request.Option) (*ec2.DeleteSubnetOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteSubnet"); err != nil {
		return nil, err
	}
	subnetId := aws.StringValue(in.SubnetId)
	r, ok := c.subnets[subnetId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidSubnetID.NotFound", subnetId)
	}
	if dependency := c.subnetDependency(subnetId); dependency != "" {
		return nil, apiError("DependencyViolation", "the subnet '%s' has dependencies and cannot be deleted (%s)", subnetId, dependency)
	}

	for _, acl := range c.networkAcls {
		acl.acl.Associations = removeAclAssociations(acl.acl.Associations, subnetId)
	}
	for _, rt := range c.routeTables {
		var kept []*ec2.RouteTableAssociation
		for _, association := range rt.table.Associations {
			if aws.StringValue(association.SubnetId) != subnetId {
				kept = append(kept, association)
			}
		}
		rt.table.Associations = kept
	}
	delete(c.subnets, subnetId)
	return &ec2.DeleteSubnetOutput{}, nil
}

// nextPrivateIp hands out addresses from the subnet's range, skipping the
// first four which AWS reserves.
func (r *subnetRecord) nextPrivateIp() string {
	_, subnetNet, err := net.ParseCIDR(aws.StringValue(r.subnet.CidrBlock))
	if err != nil {
		return ""
	}
	r.ipSeq++
	ip := make(net.IP, 4)
	copy(ip, subnetNet.IP.To4())
	offset := 3 + r.ipSeq
	ip[2] += byte(offset / 256)
	ip[3] += byte(offset % 256)
	return ip.String()
}
