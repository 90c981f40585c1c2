package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
)

type internetGatewayRecord struct {
	region string
	igw    *ec2.InternetGateway
}

type addressRecord struct {
	region  string
	address *ec2.Address
}

type natGatewayRecord struct {
	region string
	nat    *ec2.NatGateway
}

type routeTableRecord struct {
	region string
	table  *ec2.RouteTable
}

func isMain(table *ec2.RouteTable) bool {
	for _, association := range table.Associations {
		if aws.BoolValue(association.Main) {
			return true
		}
	}
	return false
}

func (e *EC2) CreateInternetGatewayWithContext(_ aws.Context, in *ec2.CreateInternetGatewayInput, _ ...request.Option) (*ec2.CreateInternetGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateInternetGateway"); err != nil {
		return nil, err
	}
	igwId := c.nextId("igw")
	igw := &ec2.InternetGateway{
		InternetGatewayId: aws.String(igwId),
		OwnerId:           aws.String(c.AccountId),
		Tags:              tagsFromSpecs(in.TagSpecifications),
	}
	c.internetGateways[igwId] = &internetGatewayRecord{region: e.region, igw: igw}
	return &ec2.CreateInternetGatewayOutput{InternetGateway: awsutil.CopyOf(igw).(*ec2.InternetGateway)}, nil
}

func (e *EC2) AttachInternetGatewayWithContext(_ aws.Context, in *ec2.AttachInternetGatewayInput, _ ...request.Option) (*ec2.AttachInternetGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AttachInternetGateway"); err != nil {
		return nil, err
	}
	r, ok := c.internetGateways[aws.StringValue(in.InternetGatewayId)]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidInternetGatewayID.NotFound", aws.StringValue(in.InternetGatewayId))
	}
	if vpc, ok := c.vpcs[aws.StringValue(in.VpcId)]; !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}
	if len(r.igw.Attachments) > 0 {
		return nil, apiError("Resource.AlreadyAssociated", "%s is already attached", aws.StringValue(in.InternetGatewayId))
	}
	r.igw.Attachments = []*ec2.InternetGatewayAttachment{{
		VpcId: in.VpcId,
		State: aws.String(ec2.AttachmentStatusAttached),
	}}
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (e *EC2) DescribeInternetGatewaysWithContext(_ aws.Context, in *ec2.DescribeInternetGatewaysInput, _ ...request.Option) (*ec2.DescribeInternetGatewaysOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeInternetGateways"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.InternetGatewayIds, c.internetGateways); ok {
		return nil, notFound("InvalidInternetGatewayID.NotFound", id)
	}

	output := &ec2.DescribeInternetGatewaysOutput{}
	for _, id := range sortedKeys(c.internetGateways) {
		r := c.internetGateways[id]
		if r.region != e.region || !wanted(in.InternetGatewayIds, id) {
			continue
		}
		var vpcIds []string
		for _, attachment := range r.igw.Attachments {
			vpcIds = append(vpcIds, aws.StringValue(attachment.VpcId))
		}
		ok, err := matchFilters(in.Filters, attrs{
			"internet-gateway-id": {id},
			"attachment.vpc-id":   vpcIds,
		}, r.igw.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.InternetGateways = append(output.InternetGateways, awsutil.CopyOf(r.igw).(*ec2.InternetGateway))
		}
	}
	return output, nil
}

func (e *EC2) DetachInternetGatewayWithContext(_ aws.Context, in *ec2.DetachInternetGatewayInput, _ ...request.Option) (*ec2.DetachInternetGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DetachInternetGateway"); err != nil {
		return nil, err
	}
	igwId := aws.StringValue(in.InternetGatewayId)
	r, ok := c.internetGateways[igwId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidInternetGatewayID.NotFound", igwId)
	}
	if len(r.igw.Attachments) == 0 || aws.StringValue(r.igw.Attachments[0].VpcId) != aws.StringValue(in.VpcId) {
		return nil, apiError("Gateway.NotAttached", "%s is not attached to %s", igwId, aws.StringValue(in.VpcId))
	}
	// public addresses mapped through the gateway block the detach
	for id, nat := range c.natGateways {
		if aws.StringValue(nat.nat.VpcId) == aws.StringValue(in.VpcId) && aws.StringValue(nat.nat.State) != ec2.NatGatewayStateDeleted {
			return nil, apiError("DependencyViolation", "network vpc has some mapped public address(es) (%s)", id)
		}
	}
	r.igw.Attachments = nil
	return &ec2.DetachInternetGatewayOutput{}, nil
}

func (e *EC2) DeleteInternetGatewayWithContext(_ aws.Context, in *ec2.DeleteInternetGatewayInput, _ ...request.Option) (*ec2.DeleteInternetGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteInternetGateway"); err != nil {
		return nil, err
	}
	igwId := aws.StringValue(in.InternetGatewayId)
	r, ok := c.internetGateways[igwId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidInternetGatewayID.NotFound", igwId)
	}
	if len(r.igw.Attachments) > 0 {
		return nil, apiError("DependencyViolation", "the internet gateway '%s' is still attached", igwId)
	}
	delete(c.internetGateways, igwId)
	return &ec2.DeleteInternetGatewayOutput{}, nil
}

func (e *EC2) AllocateAddressWithContext(_ aws.Context, in *ec2.AllocateAddressInput, _ ...request.Option) (*ec2.AllocateAddressOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AllocateAddress"); err != nil {
		return nil, err
	}
	allocationId := c.nextId("eipalloc")
	address := &ec2.Address{
		AllocationId: aws.String(allocationId),
		PublicIp:     aws.String(fmt.Sprintf("198.51.100.%d", c.seq%250+1)),
		Domain:       aws.String(ec2.DomainTypeVpc),
		Tags:         tagsFromSpecs(in.TagSpecifications),
	}
	c.addresses[allocationId] = &addressRecord{region: e.region, address: address}
	return &ec2.AllocateAddressOutput{
		AllocationId: address.AllocationId,
		PublicIp:     address.PublicIp,
		Domain:       address.Domain,
	}, nil
}

func (e *EC2) DescribeAddressesWithContext(_ aws.Context, in *ec2.DescribeAddressesInput, _ ...request.Option) (*ec2.DescribeAddressesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeAddresses"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.AllocationIds, c.addresses); ok {
		return nil, notFound("InvalidAllocationID.NotFound", id)
	}

	output := &ec2.DescribeAddressesOutput{}
	for _, id := range sortedKeys(c.addresses) {
		r := c.addresses[id]
		if r.region != e.region || !wanted(in.AllocationIds, id) {
			continue
		}
		ok, err := matchFilters(in.Filters, attrs{
			"allocation-id": {id},
			"domain":        {aws.StringValue(r.address.Domain)},
			"public-ip":     {aws.StringValue(r.address.PublicIp)},
		}, r.address.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.Addresses = append(output.Addresses, awsutil.CopyOf(r.address).(*ec2.Address))
		}
	}
	return output, nil
}

func (e *EC2) ReleaseAddressWithContext(_ aws.Context, in *ec2.ReleaseAddressInput, _ ...request.Option) (*ec2.ReleaseAddressOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "ReleaseAddress"); err != nil {
		return nil, err
	}
	allocationId := aws.StringValue(in.AllocationId)
	r, ok := c.addresses[allocationId]
	if !ok || r.region != e.region {
		return nil, notFound("InvalidAllocationID.NotFound", allocationId)
	}
	if r.address.AssociationId != nil {
		return nil, apiError("InvalidIPAddress.InUse", "address %s is in use", allocationId)
	}
	delete(c.addresses, allocationId)
	return &ec2.ReleaseAddressOutput{}, nil
}

func (e *EC2) CreateNatGatewayWithContext(_ aws.Context, in *ec2.CreateNatGatewayInput, _ ...request.Option) (*ec2.CreateNatGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateNatGateway"); err != nil {
		return nil, err
	}
	subnet, ok := c.subnets[aws.StringValue(in.SubnetId)]
	if !ok || subnet.region != e.region {
		return nil, notFound("InvalidSubnetID.NotFound", aws.StringValue(in.SubnetId))
	}
	address, ok := c.addresses[aws.StringValue(in.AllocationId)]
	if !ok || address.region != e.region {
		return nil, notFound("InvalidAllocationID.NotFound", aws.StringValue(in.AllocationId))
	}
	if address.address.AssociationId != nil {
		return nil, apiError("Resource.AlreadyAssociated", "address %s is already associated", aws.StringValue(in.AllocationId))
	}

	natId := c.nextId("nat")
	address.address.AssociationId = aws.String(c.nextId("eipassoc"))
	nat := &ec2.NatGateway{
		NatGatewayId: aws.String(natId),
		SubnetId:     in.SubnetId,
		VpcId:        subnet.subnet.VpcId,
		State:        aws.String(ec2.NatGatewayStateAvailable),
		NatGatewayAddresses: []*ec2.NatGatewayAddress{{
			AllocationId: in.AllocationId,
			PublicIp:     address.address.PublicIp,
			PrivateIp:    aws.String(subnet.nextPrivateIp()),
		}},
		Tags: tagsFromSpecs(in.TagSpecifications),
	}
	c.natGateways[natId] = &natGatewayRecord{region: e.region, nat: nat}
	return &ec2.CreateNatGatewayOutput{NatGateway: awsutil.CopyOf(nat).(*ec2.NatGateway)}, nil
}

func (e *EC2) DescribeNatGatewaysWithContext(_ aws.Context, in *ec2.DescribeNatGatewaysInput, _ ...request.Option) (*ec2.DescribeNatGatewaysOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeNatGateways"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.NatGatewayIds, c.natGateways); ok {
		return nil, notFound("NatGatewayNotFound", id)
	}

	output := &ec2.DescribeNatGatewaysOutput{}
	for _, id := range sortedKeys(c.natGateways) {
		r := c.natGateways[id]
		if r.region != e.region || !wanted(in.NatGatewayIds, id) {
			continue
		}
		ok, err := matchFilters(in.Filter, attrs{
			"nat-gateway-id": {id},
			"vpc-id":         {aws.StringValue(r.nat.VpcId)},
			"subnet-id":      {aws.StringValue(r.nat.SubnetId)},
			"state":          {aws.StringValue(r.nat.State)},
		}, r.nat.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.NatGateways = append(output.NatGateways, awsutil.CopyOf(r.nat).(*ec2.NatGateway))
		}
	}
	return output, nil
}

// DeleteNatGateway releases the address association at once and keeps the
// gateway around in the deleted state, as AWS does for a while.
func (e *EC2) DeleteNatGatewayWithContext(_ aws.Context, in *ec2.DeleteNatGatewayInput, _ ...request.Option) (*ec2.DeleteNatGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteNatGateway"); err != nil {
		return nil, err
	}
	natId := aws.StringValue(in.NatGatewayId)
	r, ok := c.natGateways[natId]
	if !ok || r.region != e.region || aws.StringValue(r.nat.State) == ec2.NatGatewayStateDeleted {
		return nil, notFound("NatGatewayNotFound", natId)
	}
	r.nat.State = aws.String(ec2.NatGatewayStateDeleted)
	for _, natAddress := range r.nat.NatGatewayAddresses {
		if address, ok := c.addresses[aws.StringValue(natAddress.AllocationId)]; ok {
			address.address.AssociationId = nil
		}
	}
	return &ec2.DeleteNatGatewayOutput{NatGatewayId: in.NatGatewayId}, nil
}

func (e *EC2) CreateRouteTableWithContext(_ aws.Context, in *ec2.CreateRouteTableInput, _ ...request.Option) (*ec2.CreateRouteTableOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateRouteTable"); err != nil {
		return nil, err
	}
	vpc, ok := c.vpcs[aws.StringValue(in.VpcId)]
	if !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}
	rtbId := c.nextId("rtb")
	table := &ec2.RouteTable{
		RouteTableId: aws.String(rtbId),
		VpcId:        in.VpcId,
		Routes:       []*ec2.Route{localRoute(vpc.vpc.CidrBlock)},
		Tags:         tagsFromSpecs(in.TagSpecifications),
	}
	c.routeTables[rtbId] = &routeTableRecord{region: e.region, table: table}
	return &ec2.CreateRouteTableOutput{RouteTable: awsutil.CopyOf(table).(*ec2.RouteTable)}, nil
}

func (e *EC2) DescribeRouteTablesWithContext(_ aws.Context, in *ec2.DescribeRouteTablesInput, _ ...request.Option) (*ec2.DescribeRouteTablesOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeRouteTables"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.RouteTableIds, c.routeTables); ok {
		return nil, notFound("InvalidRouteTableID.NotFound", id)
	}

	output := &ec2.DescribeRouteTablesOutput{}
	for _, id := range sortedKeys(c.routeTables) {
		r := c.routeTables[id]
		if r.region != e.region || !wanted(in.RouteTableIds, id) {
			continue
		}
		var subnetIds []string
		for _, association := range r.table.Associations {
			if association.SubnetId != nil {
				subnetIds = append(subnetIds, *association.SubnetId)
			}
		}
		ok, err := matchFilters(in.Filters, attrs{
			"route-table-id":        {id},
			"vpc-id":                {aws.StringValue(r.table.VpcId)},
			"association.main":      boolAttr(isMain(r.table)),
			"association.subnet-id": subnetIds,
		}, r.table.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.RouteTables = append(output.RouteTables, awsutil.CopyOf(r.table).(*ec2.RouteTable))
		}
	}
	return output, nil
}

func (e *EC2) CreateTagsWithContext(_ aws.Context, in *ec2.CreateTagsInput, _ ...request.Option) (*ec2.CreateTagsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTags"); err != nil {
		return nil, err
	}
	for _, id := range aws.StringValueSlice(in.Resources) {
		switch {
		case c.routeTables[id] != nil:
			c.routeTables[id].table.Tags = setTags(c.routeTables[id].table.Tags, in.Tags)
		case c.vpcs[id] != nil:
			c.vpcs[id].vpc.Tags = setTags(c.vpcs[id].vpc.Tags, in.Tags)
		case c.subnets[id] != nil:
			c.subnets[id].subnet.Tags = setTags(c.subnets[id].subnet.Tags, in.Tags)
		case c.securityGroups[id] != nil:
			c.securityGroups[id].group.Tags = setTags(c.securityGroups[id].group.Tags, in.Tags)
		case c.instances[id] != nil:
			c.instances[id].instance.Tags = setTags(c.instances[id].instance.Tags, in.Tags)
		default:
			return nil, apiError("InvalidID", "the id '%s' is not taggable here", id)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (c *Cloud) routeTable(region, rtbId string) (*routeTableRecord, error) {
	r, ok := c.routeTables[rtbId]
	if !ok || r.region != region {
		return nil, notFound("InvalidRouteTableID.NotFound", rtbId)
	}
	return r, nil
}

func (e *EC2) CreateRouteWithContext(_ aws.Context, in *ec2.CreateRouteInput, _ ...request.Option) (*ec2.CreateRouteOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateRoute"); err != nil {
		return nil, err
	}
	r, err := c.routeTable(e.region, aws.StringValue(in.RouteTableId))
	if err != nil {
		return nil, err
	}
	for _, route := range r.table.Routes {
		if aws.StringValue(route.DestinationCidrBlock) == aws.StringValue(in.DestinationCidrBlock) {
			return nil, apiError("RouteAlreadyExists", "the route identified by %s already exists", aws.StringValue(in.DestinationCidrBlock))
		}
	}
	switch {
	case in.GatewayId != nil:
		if _, ok := c.internetGateways[*in.GatewayId]; !ok {
			return nil, notFound("InvalidInternetGatewayID.NotFound", *in.GatewayId)
		}
	case in.NatGatewayId != nil:
		if _, ok := c.natGateways[*in.NatGatewayId]; !ok {
			return nil, notFound("InvalidNatGatewayID.NotFound", *in.NatGatewayId)
		}
	case in.TransitGatewayId != nil:
		if _, ok := c.transitGateways[*in.TransitGatewayId]; !ok {
			return nil, notFound("InvalidTransitGatewayID.NotFound", *in.TransitGatewayId)
		}
	case in.VpcPeeringConnectionId != nil:
		if _, ok := c.vpcPeerings[*in.VpcPeeringConnectionId]; !ok {
			return nil, notFound("InvalidVpcPeeringConnectionID.NotFound", *in.VpcPeeringConnectionId)
		}
	default:
		return nil, apiError("MissingParameter", "a route target is required")
	}
	r.table.Routes = append(r.table.Routes, &ec2.Route{
		DestinationCidrBlock:   in.DestinationCidrBlock,
		GatewayId:              in.GatewayId,
		NatGatewayId:           in.NatGatewayId,
		TransitGatewayId:       in.TransitGatewayId,
		VpcPeeringConnectionId: in.VpcPeeringConnectionId,
		State:                  aws.String(ec2.RouteStateActive),
		Origin:                 aws.String(ec2.RouteOriginCreateRoute),
	})
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (e *EC2) DeleteRouteWithContext(_ aws.Context, in *ec2.DeleteRouteInput, _ ...request.Option) (*ec2.DeleteRouteOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteRoute"); err != nil {
		return nil, err
	}
	r, err := c.routeTable(e.region, aws.StringValue(in.RouteTableId))
	if err != nil {
		return nil, err
	}
	for i, route := range r.table.Routes {
		if aws.StringValue(route.DestinationCidrBlock) == aws.StringValue(in.DestinationCidrBlock) && aws.StringValue(route.GatewayId) != "local" {
			r.table.Routes = append(r.table.Routes[:i], r.table.Routes[i+1:]...)
			return &ec2.DeleteRouteOutput{}, nil
		}
	}
	return nil, notFound("InvalidRoute.NotFound", aws.StringValue(in.DestinationCidrBlock))
}

func (e *EC2) AssociateRouteTableWithContext(_ aws.Context, in *ec2.AssociateRouteTableInput, _ ...request.Option) (*ec2.AssociateRouteTableOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AssociateRouteTable"); err != nil {
		return nil, err
	}
	r, err := c.routeTable(e.region, aws.StringValue(in.RouteTableId))
	if err != nil {
		return nil, err
	}
	subnetId := aws.StringValue(in.SubnetId)
	if _, ok := c.subnets[subnetId]; !ok {
		return nil, notFound("InvalidSubnetID.NotFound", subnetId)
	}
	for _, other := range c.routeTables {
		for _, association := range other.table.Associations {
			if aws.StringValue(association.SubnetId) == subnetId {
				return nil, apiError("Resource.AlreadyAssociated", "the subnet '%s' is already associated with %s", subnetId, aws.StringValue(other.table.RouteTableId))
			}
		}
	}
	associationId := c.nextId("rtbassoc")
	r.table.Associations = append(r.table.Associations, &ec2.RouteTableAssociation{
		RouteTableAssociationId: aws.String(associationId),
		RouteTableId:            in.RouteTableId,
		SubnetId:                in.SubnetId,
		Main:                    aws.Bool(false),
	})
	return &ec2.AssociateRouteTableOutput{AssociationId: aws.String(associationId)}, nil
}

func (e *EC2) DisassociateRouteTableWithContext(_ aws.Context, in *ec2.DisassociateRouteTableInput, _ ...request.Option) (*ec2.DisassociateRouteTableOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DisassociateRouteTable"); err != nil {
		return nil, err
	}
	associationId := aws.StringValue(in.AssociationId)
	for _, r := range c.routeTables {
		for i, association := range r.table.Associations {
			if aws.StringValue(association.RouteTableAssociationId) != associationId {
				continue
			}
			if aws.BoolValue(association.Main) {
				return nil, apiError("InvalidParameterValue", "cannot disassociate the main route table association %s", associationId)
			}
			r.table.Associations = append(r.table.Associations[:i], r.table.Associations[i+1:]...)
			return &ec2.DisassociateRouteTableOutput{}, nil
		}
	}
	return nil, notFound("InvalidAssociationID.NotFound", associationId)
}

func (e *EC2) DeleteRouteTableWithContext(_ aws.Context, in *ec2.DeleteRouteTableInput, _ ...request.Option) (*ec2.DeleteRouteTableOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteRouteTable"); err != nil {
		return nil, err
	}
	rtbId := aws.StringValue(in.RouteTableId)
	r, err := c.routeTable(e.region, rtbId)
	if err != nil {
		return nil, err
	}
	if len(r.table.Associations) > 0 {
		return nil, apiError("DependencyViolation", "the route table '%s' has dependencies and cannot be deleted", rtbId)
	}
	delete(c.routeTables, rtbId)
	return &ec2.DeleteRouteTableOutput{}, nil
}
