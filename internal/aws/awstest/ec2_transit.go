package awstest

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
)

type transitGatewayRecord struct {
	region string
	tgw    *ec2.TransitGateway
}

func (r *transitGatewayRecord) advance() {
	switch aws.StringValue(r.tgw.State) {
	case ec2.TransitGatewayStatePending:
		r.tgw.State = aws.String(ec2.TransitGatewayStateAvailable)
	case ec2.TransitGatewayStateDeleting:
		r.tgw.State = aws.String(ec2.TransitGatewayStateDeleted)
	}
}

type vpcAttachmentRecord struct {
	region     string
	attachment *ec2.TransitGatewayVpcAttachment
}

func (r *vpcAttachmentRecord) advance() {
	r.attachment.State = advanceAttachment(r.attachment.State)
}

// peeringAttachmentRecord is visible from the requester and the accepter region.
type peeringAttachmentRecord struct {
	region     string
	peerRegion string
	attachment *ec2.TransitGatewayPeeringAttachment
}

func (r *peeringAttachmentRecord) advance() {
	r.attachment.State = advanceAttachment(r.attachment.State)
}

func (r *peeringAttachmentRecord) visibleFrom(region string) bool {
	return r.region == region || r.peerRegion == region
}

func advanceAttachment(state *string) *string {
	switch aws.StringValue(state) {
	case ec2.TransitGatewayAttachmentStateInitiatingRequest:
		return aws.String(ec2.TransitGatewayAttachmentStatePendingAcceptance)
	case ec2.TransitGatewayAttachmentStatePending:
		return aws.String(ec2.TransitGatewayAttachmentStateAvailable)
	case ec2.TransitGatewayAttachmentStateDeleting:
		return aws.String(ec2.TransitGatewayAttachmentStateDeleted)
	}
	return state
}

func isGoneAttachment(state *string) bool {
	switch aws.StringValue(state) {
	case ec2.TransitGatewayAttachmentStateDeleted, ec2.TransitGatewayAttachmentStateFailed, ec2.TransitGatewayAttachmentStateRejected:
		return true
	}
	return false
}

// vpcPeeringRecord is visible from the requester and the accepter region.
type vpcPeeringRecord struct {
	region     string
	peerRegion string
	peering    *ec2.VpcPeeringConnection
}

func (r *vpcPeeringRecord) advance() {
	next := map[string]string{
		ec2.VpcPeeringConnectionStateReasonCodeInitiatingRequest: ec2.VpcPeeringConnectionStateReasonCodePendingAcceptance,
		ec2.VpcPeeringConnectionStateReasonCodeProvisioning:      ec2.VpcPeeringConnectionStateReasonCodeActive,
		ec2.VpcPeeringConnectionStateReasonCodeDeleting:          ec2.VpcPeeringConnectionStateReasonCodeDeleted,
	}
	if state, ok := next[aws.StringValue(r.peering.Status.Code)]; ok {
		r.peering.Status = &ec2.VpcPeeringConnectionStateReason{Code: aws.String(state)}
	}
}

func (r *vpcPeeringRecord) visibleFrom(region string) bool {
	return r.region == region || r.peerRegion == region
}

func peeringInvolves(p *ec2.VpcPeeringConnection, vpcId string) bool {
	return aws.StringValue(p.RequesterVpcInfo.VpcId) == vpcId || aws.StringValue(p.AccepterVpcInfo.VpcId) == vpcId
}

func isLivePeering(p *ec2.VpcPeeringConnection) bool {
	switch aws.StringValue(p.Status.Code) {
	case ec2.VpcPeeringConnectionStateReasonCodeDeleted,
		ec2.VpcPeeringConnectionStateReasonCodeRejected,
		ec2.VpcPeeringConnectionStateReasonCodeFailed,
		ec2.VpcPeeringConnectionStateReasonCodeExpired:
		return false
	}
	return true
}

func (c *Cloud) transitGateway(region, tgwId string) (*transitGatewayRecord, error) {
	r, ok := c.transitGateways[tgwId]
	if !ok || r.region != region || aws.StringValue(r.tgw.State) == ec2.TransitGatewayStateDeleted {
		return nil, notFound("InvalidTransitGatewayID.NotFound", tgwId)
	}
	return r, nil
}

func (e *EC2) CreateTransitGatewayWithContext(_ aws.Context, in *ec2.CreateTransitGatewayInput, _ ...request.Option) (*ec2.CreateTransitGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTransitGateway"); err != nil {
		return nil, err
	}
	tgwId := c.nextId("tgw")
	rtbId := c.nextId("tgw-rtb")
	options := &ec2.TransitGatewayOptions{AmazonSideAsn: aws.Int64(64512)}
	if in.Options != nil {
		if in.Options.AmazonSideAsn != nil {
			options.AmazonSideAsn = in.Options.AmazonSideAsn
		}
		options.DefaultRouteTableAssociation = in.Options.DefaultRouteTableAssociation
		options.DefaultRouteTablePropagation = in.Options.DefaultRouteTablePropagation
	}
	options.AssociationDefaultRouteTableId = aws.String(rtbId)
	options.PropagationDefaultRouteTableId = aws.String(rtbId)

	tgw := &ec2.TransitGateway{
		TransitGatewayId: aws.String(tgwId),
		Description:      in.Description,
		OwnerId:          aws.String(c.AccountId),
		State:            aws.String(ec2.TransitGatewayStatePending),
		Options:          options,
		Tags:             tagsFromSpecs(in.TagSpecifications),
	}
	c.transitGateways[tgwId] = &transitGatewayRecord{region: e.region, tgw: tgw}
	return &ec2.CreateTransitGatewayOutput{TransitGateway: awsutil.CopyOf(tgw).(*ec2.TransitGateway)}, nil
}

func (e *EC2) DescribeTransitGatewaysWithContext(_ aws.Context, in *ec2.DescribeTransitGatewaysInput, _ ...request.Option) (*ec2.DescribeTransitGatewaysOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeTransitGateways"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.TransitGatewayIds, c.transitGateways); ok {
		return nil, notFound("InvalidTransitGatewayID.NotFound", id)
	}

	output := &ec2.DescribeTransitGatewaysOutput{}
	for _, id := range sortedKeys(c.transitGateways) {
		r := c.transitGateways[id]
		if r.region != e.region || !wanted(in.TransitGatewayIds, id) {
			continue
		}
		r.advance()
		ok, err := matchFilters(in.Filters, attrs{
			"transit-gateway-id": {id},
			"state":              {aws.StringValue(r.tgw.State)},
		}, r.tgw.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.TransitGateways = append(output.TransitGateways, awsutil.CopyOf(r.tgw).(*ec2.TransitGateway))
		}
	}
	return output, nil
}

func (c *Cloud) transitGatewayDependency(tgwId string) string {
	for id, r := range c.vpcAttachments {
		if aws.StringValue(r.attachment.TransitGatewayId) == tgwId && !isGoneAttachment(r.attachment.State) {
			return id
		}
	}
	for id, r := range c.peeringAttachments {
		if isGoneAttachment(r.attachment.State) {
			continue
		}
		if aws.StringValue(r.attachment.RequesterTgwInfo.TransitGatewayId) == tgwId || aws.StringValue(r.attachment.AccepterTgwInfo.TransitGatewayId) == tgwId {
			return id
		}
	}
	return ""
}

func (e *EC2) DeleteTransitGatewayWithContext(_ aws.Context, in *ec2.DeleteTransitGatewayInput, _ ...request.Option) (*ec2.DeleteTransitGatewayOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteTransitGateway"); err != nil {
		return nil, err
	}
	tgwId := aws.StringValue(in.TransitGatewayId)
	r, err := c.transitGateway(e.region, tgwId)
	if err != nil {
		return nil, err
	}
	if dependency := c.transitGatewayDependency(tgwId); dependency != "" {
		return nil, apiError("IncorrectState", "transit gateway %s has non-deleted attachment %s", tgwId, dependency)
	}
	if aws.StringValue(r.tgw.State) != ec2.TransitGatewayStateDeleting {
		r.tgw.State = aws.String(ec2.TransitGatewayStateDeleting)
		delete(c.tgwRoutes, aws.StringValue(r.tgw.Options.AssociationDefaultRouteTableId))
	}
	return &ec2.DeleteTransitGatewayOutput{TransitGateway: awsutil.CopyOf(r.tgw).(*ec2.TransitGateway)}, nil
}

func (e *EC2) CreateTransitGatewayVpcAttachmentWithContext(_ aws.Context, in *ec2.CreateTransitGatewayVpcAttachmentInput, _ ...request.Option) (*ec2.CreateTransitGatewayVpcAttachmentOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTransitGatewayVpcAttachment"); err != nil {
		return nil, err
	}
	tgw, err := c.transitGateway(e.region, aws.StringValue(in.TransitGatewayId))
	if err != nil {
		return nil, err
	}
	if aws.StringValue(tgw.tgw.State) != ec2.TransitGatewayStateAvailable {
		return nil, apiError("IncorrectState", "transit gateway %s is %s", aws.StringValue(in.TransitGatewayId), aws.StringValue(tgw.tgw.State))
	}
	vpcId := aws.StringValue(in.VpcId)
	if vpc, ok := c.vpcs[vpcId]; !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", vpcId)
	}
	if len(in.SubnetIds) == 0 {
		return nil, apiError("MissingParameter", "at least one subnet is required")
	}
	zones := map[string]bool{}
	for _, subnetId := range aws.StringValueSlice(in.SubnetIds) {
		subnet, ok := c.subnets[subnetId]
		if !ok || aws.StringValue(subnet.subnet.VpcId) != vpcId {
			return nil, notFound("InvalidSubnetID.NotFound", subnetId)
		}
		zone := aws.StringValue(subnet.subnet.AvailabilityZone)
		if zones[zone] {
			return nil, apiError("DuplicateSubnetsInSameZone", "duplicate subnets for the same availability zone %s", zone)
		}
		zones[zone] = true
	}
	for _, r := range c.vpcAttachments {
		if aws.StringValue(r.attachment.VpcId) == vpcId && aws.StringValue(r.attachment.TransitGatewayId) == aws.StringValue(in.TransitGatewayId) && !isGoneAttachment(r.attachment.State) {
			return nil, apiError("DuplicateTransitGatewayAttachment", "%s is already attached to %s", vpcId, aws.StringValue(in.TransitGatewayId))
		}
	}

	attachmentId := c.nextId("tgw-attach")
	attachment := &ec2.TransitGatewayVpcAttachment{
		TransitGatewayAttachmentId: aws.String(attachmentId),
		TransitGatewayId:           in.TransitGatewayId,
		VpcId:                      in.VpcId,
		VpcOwnerId:                 aws.String(c.AccountId),
		SubnetIds:                  in.SubnetIds,
		State:                      aws.String(ec2.TransitGatewayAttachmentStatePending),
		Tags:                       tagsFromSpecs(in.TagSpecifications),
	}
	c.vpcAttachments[attachmentId] = &vpcAttachmentRecord{region: e.region, attachment: attachment}
	return &ec2.CreateTransitGatewayVpcAttachmentOutput{
		TransitGatewayVpcAttachment: awsutil.CopyOf(attachment).(*ec2.TransitGatewayVpcAttachment),
	}, nil
}

func (e *EC2) DescribeTransitGatewayVpcAttachmentsWithContext(_ aws.Context, in *ec2.DescribeTransitGatewayVpcAttachmentsInput, _ ...request.Option) (*ec2.DescribeTransitGatewayVpcAttachmentsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeTransitGatewayVpcAttachments"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.TransitGatewayAttachmentIds, c.vpcAttachments); ok {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", id)
	}

	output := &ec2.DescribeTransitGatewayVpcAttachmentsOutput{}
	for _, id := range sortedKeys(c.vpcAttachments) {
		r := c.vpcAttachments[id]
		if r.region != e.region || !wanted(in.TransitGatewayAttachmentIds, id) {
			continue
		}
		r.advance()
		ok, err := matchFilters(in.Filters, attrs{
			"transit-gateway-attachment-id": {id},
			"transit-gateway-id":            {aws.StringValue(r.attachment.TransitGatewayId)},
			"vpc-id":                        {aws.StringValue(r.attachment.VpcId)},
			"state":                         {aws.StringValue(r.attachment.State)},
		}, r.attachment.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.TransitGatewayVpcAttachments = append(output.TransitGatewayVpcAttachments, awsutil.CopyOf(r.attachment).(*ec2.TransitGatewayVpcAttachment))
		}
	}
	return output, nil
}

func (e *EC2) DeleteTransitGatewayVpcAttachmentWithContext(_ aws.Context, in *ec2.DeleteTransitGatewayVpcAttachmentInput, _ ...request.Option) (*ec2.DeleteTransitGatewayVpcAttachmentOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteTransitGatewayVpcAttachment"); err != nil {
		return nil, err
	}
	attachmentId := aws.StringValue(in.TransitGatewayAttachmentId)
	r, ok := c.vpcAttachments[attachmentId]
	if !ok || r.region != e.region || isGoneAttachment(r.attachment.State) {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", attachmentId)
	}
	if aws.StringValue(r.attachment.State) == ec2.TransitGatewayAttachmentStatePending {
		return nil, apiError("IncorrectState", "attachment %s is pending", attachmentId)
	}
	r.attachment.State = aws.String(ec2.TransitGatewayAttachmentStateDeleting)
	return &ec2.DeleteTransitGatewayVpcAttachmentOutput{
		TransitGatewayVpcAttachment: awsutil.CopyOf(r.attachment).(*ec2.TransitGatewayVpcAttachment),
	}, nil
}

func (e *EC2) CreateTransitGatewayPeeringAttachmentWithContext(_ aws.Context, in *ec2.CreateTransitGatewayPeeringAttachmentInput, _ ...request.Option) (*ec2.CreateTransitGatewayPeeringAttachmentOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTransitGatewayPeeringAttachment"); err != nil {
		return nil, err
	}
	if _, err := c.transitGateway(e.region, aws.StringValue(in.TransitGatewayId)); err != nil {
		return nil, err
	}
	peerRegion := aws.StringValue(in.PeerRegion)
	if _, err := c.transitGateway(peerRegion, aws.StringValue(in.PeerTransitGatewayId)); err != nil {
		return nil, err
	}
	if aws.StringValue(in.PeerAccountId) != c.AccountId {
		return nil, apiError("InvalidParameterValue", "peer account %s is not reachable", aws.StringValue(in.PeerAccountId))
	}

	attachmentId := c.nextId("tgw-attach")
	attachment := &ec2.TransitGatewayPeeringAttachment{
		TransitGatewayAttachmentId: aws.String(attachmentId),
		RequesterTgwInfo: &ec2.PeeringTgwInfo{
			TransitGatewayId: in.TransitGatewayId,
			OwnerId:          aws.String(c.AccountId),
			Region:           aws.String(e.region),
		},
		AccepterTgwInfo: &ec2.PeeringTgwInfo{
			TransitGatewayId: in.PeerTransitGatewayId,
			OwnerId:          in.PeerAccountId,
			Region:           in.PeerRegion,
		},
		State: aws.String(ec2.TransitGatewayAttachmentStateInitiatingRequest),
		Tags:  tagsFromSpecs(in.TagSpecifications),
	}
	c.peeringAttachments[attachmentId] = &peeringAttachmentRecord{region: e.region, peerRegion: peerRegion, attachment: attachment}
	return &ec2.CreateTransitGatewayPeeringAttachmentOutput{
		TransitGatewayPeeringAttachment: awsutil.CopyOf(attachment).(*ec2.TransitGatewayPeeringAttachment),
	}, nil
}

func (e *EC2) AcceptTransitGatewayPeeringAttachmentWithContext(_ aws.Context, in *ec2.AcceptTransitGatewayPeeringAttachmentInput, _ ...request.Option) (*ec2.AcceptTransitGatewayPeeringAttachmentOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AcceptTransitGatewayPeeringAttachment"); err != nil {
		return nil, err
	}
	attachmentId := aws.StringValue(in.TransitGatewayAttachmentId)
	r, ok := c.peeringAttachments[attachmentId]
	if !ok || !r.visibleFrom(e.region) {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", attachmentId)
	}
	if r.peerRegion != e.region {
		return nil, apiError("InvalidParameterValue", "attachment %s must be accepted from %s", attachmentId, r.peerRegion)
	}
	if aws.StringValue(r.attachment.State) != ec2.TransitGatewayAttachmentStatePendingAcceptance {
		return nil, apiError("IncorrectState", "attachment %s is %s", attachmentId, aws.StringValue(r.attachment.State))
	}
	r.attachment.State = aws.String(ec2.TransitGatewayAttachmentStatePending)
	return &ec2.AcceptTransitGatewayPeeringAttachmentOutput{
		TransitGatewayPeeringAttachment: awsutil.CopyOf(r.attachment).(*ec2.TransitGatewayPeeringAttachment),
	}, nil
}

func (e *EC2) DescribeTransitGatewayPeeringAttachmentsWithContext(_ aws.Context, in *ec2.DescribeTransitGatewayPeeringAttachmentsInput, _ ...request.Option) (*ec2.DescribeTransitGatewayPeeringAttachmentsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeTransitGatewayPeeringAttachments"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.TransitGatewayAttachmentIds, c.peeringAttachments); ok {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", id)
	}

	output := &ec2.DescribeTransitGatewayPeeringAttachmentsOutput{}
	for _, id := range sortedKeys(c.peeringAttachments) {
		r := c.peeringAttachments[id]
		if !r.visibleFrom(e.region) || !wanted(in.TransitGatewayAttachmentIds, id) {
			continue
		}
		r.advance()
		ok, err := matchFilters(in.Filters, attrs{
			"transit-gateway-attachment-id": {id},
			"transit-gateway-id": {
				aws.StringValue(r.attachment.RequesterTgwInfo.TransitGatewayId),
				aws.StringValue(r.attachment.AccepterTgwInfo.TransitGatewayId),
			},
			"state": {aws.StringValue(r.attachment.State)},
		}, r.attachment.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.TransitGatewayPeeringAttachments = append(output.TransitGatewayPeeringAttachments, awsutil.CopyOf(r.attachment).(*ec2.TransitGatewayPeeringAttachment))
		}
	}
	return output, nil
}

func (e *EC2) DeleteTransitGatewayPeeringAttachmentWithContext(_ aws.Context, in *ec2.DeleteTransitGatewayPeeringAttachmentInput, _ ...request.Option) (*ec2.DeleteTransitGatewayPeeringAttachmentOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteTransitGatewayPeeringAttachment"); err != nil {
		return nil, err
	}
	attachmentId := aws.StringValue(in.TransitGatewayAttachmentId)
	r, ok := c.peeringAttachments[attachmentId]
	if !ok || !r.visibleFrom(e.region) || isGoneAttachment(r.attachment.State) {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", attachmentId)
	}
	r.attachment.State = aws.String(ec2.TransitGatewayAttachmentStateDeleting)
	return &ec2.DeleteTransitGatewayPeeringAttachmentOutput{
		TransitGatewayPeeringAttachment: awsutil.CopyOf(r.attachment).(*ec2.TransitGatewayPeeringAttachment),
	}, nil
}

func (e *EC2) CreateTransitGatewayRouteWithContext(_ aws.Context, in *ec2.CreateTransitGatewayRouteInput, _ ...request.Option) (*ec2.CreateTransitGatewayRouteOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateTransitGatewayRoute"); err != nil {
		return nil, err
	}
	rtbId := aws.StringValue(in.TransitGatewayRouteTableId)
	var tgwId string
	for id, r := range c.transitGateways {
		if r.region == e.region && aws.StringValue(r.tgw.Options.AssociationDefaultRouteTableId) == rtbId {
			tgwId = id
		}
	}
	if tgwId == "" {
		return nil, notFound("InvalidRouteTableID.NotFound", rtbId)
	}
	attachmentId := aws.StringValue(in.TransitGatewayAttachmentId)
	_, isVpc := c.vpcAttachments[attachmentId]
	_, isPeering := c.peeringAttachments[attachmentId]
	if !isVpc && !isPeering {
		return nil, notFound("InvalidTransitGatewayAttachmentID.NotFound", attachmentId)
	}

	destination := aws.StringValue(in.DestinationCidrBlock)
	for _, existing := range c.tgwRoutes[rtbId] {
		if existing == destination {
			return nil, apiError("RouteAlreadyExists", "route %s already exists in %s", destination, rtbId)
		}
	}
	c.tgwRoutes[rtbId] = append(c.tgwRoutes[rtbId], destination)
	return &ec2.CreateTransitGatewayRouteOutput{Route: &ec2.TransitGatewayRoute{
		DestinationCidrBlock: in.DestinationCidrBlock,
		State:                aws.String(ec2.TransitGatewayRouteStateActive),
		Type:                 aws.String(ec2.TransitGatewayRouteTypeStatic),
	}}, nil
}

// TransitGatewayRoutes lists the static route destinations of a transit gateway.
func (c *Cloud) TransitGatewayRoutes(tgwId string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.transitGateways[tgwId]
	if !ok {
		return nil
	}
	return append([]string(nil), c.tgwRoutes[aws.StringValue(r.tgw.Options.AssociationDefaultRouteTableId)]...)
}

func (e *EC2) CreateVpcPeeringConnectionWithContext(_ aws.Context, in *ec2.CreateVpcPeeringConnectionInput, _ ...request.Option) (*ec2.CreateVpcPeeringConnectionOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateVpcPeeringConnection"); err != nil {
		return nil, err
	}
	peerRegion := aws.StringValue(in.PeerRegion)
	if peerRegion == "" {
		peerRegion = e.region
	}
	vpc, ok := c.vpcs[aws.StringValue(in.VpcId)]
	if !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}
	peer, ok := c.vpcs[aws.StringValue(in.PeerVpcId)]
	if !ok || peer.region != peerRegion {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.PeerVpcId))
	}

	peeringId := c.nextId("pcx")
	peering := &ec2.VpcPeeringConnection{
		VpcPeeringConnectionId: aws.String(peeringId),
		RequesterVpcInfo: &ec2.VpcPeeringConnectionVpcInfo{
			VpcId:     in.VpcId,
			CidrBlock: vpc.vpc.CidrBlock,
			OwnerId:   aws.String(c.AccountId),
			Region:    aws.String(e.region),
		},
		AccepterVpcInfo: &ec2.VpcPeeringConnectionVpcInfo{
			VpcId:     in.PeerVpcId,
			CidrBlock: peer.vpc.CidrBlock,
			OwnerId:   aws.String(c.AccountId),
			Region:    aws.String(peerRegion),
		},
		Status: &ec2.VpcPeeringConnectionStateReason{Code: aws.String(ec2.VpcPeeringConnectionStateReasonCodeInitiatingRequest)},
		Tags:   tagsFromSpecs(in.TagSpecifications),
	}
	c.vpcPeerings[peeringId] = &vpcPeeringRecord{region: e.region, peerRegion: peerRegion, peering: peering}
	return &ec2.CreateVpcPeeringConnectionOutput{VpcPeeringConnection: awsutil.CopyOf(peering).(*ec2.VpcPeeringConnection)}, nil
}

func (e *EC2) AcceptVpcPeeringConnectionWithContext(_ aws.Context, in *ec2.AcceptVpcPeeringConnectionInput, _ ...request.Option) (*ec2.AcceptVpcPeeringConnectionOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AcceptVpcPeeringConnection"); err != nil {
		return nil, err
	}
	peeringId := aws.StringValue(in.VpcPeeringConnectionId)
	r, ok := c.vpcPeerings[peeringId]
	if !ok || !r.visibleFrom(e.region) {
		return nil, notFound("InvalidVpcPeeringConnectionID.NotFound", peeringId)
	}
	if r.peerRegion != e.region {
		return nil, apiError("OperationNotPermitted", "peering %s must be accepted from %s", peeringId, r.peerRegion)
	}
	if aws.StringValue(r.peering.Status.Code) != ec2.VpcPeeringConnectionStateReasonCodePendingAcceptance {
		return nil, apiError("InvalidStateTransition", "peering %s is %s", peeringId, aws.StringValue(r.peering.Status.Code))
	}
	r.peering.Status = &ec2.VpcPeeringConnectionStateReason{Code: aws.String(ec2.VpcPeeringConnectionStateReasonCodeProvisioning)}
	return &ec2.AcceptVpcPeeringConnectionOutput{VpcPeeringConnection: awsutil.CopyOf(r.peering).(*ec2.VpcPeeringConnection)}, nil
}

func (e *EC2) DescribeVpcPeeringConnectionsWithContext(_ aws.Context, in *ec2.DescribeVpcPeeringConnectionsInput, _ ...request.Option) (*ec2.DescribeVpcPeeringConnectionsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeVpcPeeringConnections"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.VpcPeeringConnectionIds, c.vpcPeerings); ok {
		return nil, notFound("InvalidVpcPeeringConnectionID.NotFound", id)
	}

	output := &ec2.DescribeVpcPeeringConnectionsOutput{}
	for _, id := range sortedKeys(c.vpcPeerings) {
		r := c.vpcPeerings[id]
		if !r.visibleFrom(e.region) || !wanted(in.VpcPeeringConnectionIds, id) {
			continue
		}
		r.advance()
		ok, err := matchFilters(in.Filters, attrs{
			"vpc-peering-connection-id": {id},
			"requester-vpc-info.vpc-id": {aws.StringValue(r.peering.RequesterVpcInfo.VpcId)},
			"accepter-vpc-info.vpc-id":  {aws.StringValue(r.peering.AccepterVpcInfo.VpcId)},
			"status-code":               {aws.StringValue(r.peering.Status.Code)},
		}, r.peering.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.VpcPeeringConnections = append(output.VpcPeeringConnections, awsutil.CopyOf(r.peering).(*ec2.VpcPeeringConnection))
		}
	}
	return output, nil
}

func (e *EC2) DeleteVpcPeeringConnectionWithContext(_ aws.Context, in *ec2.DeleteVpcPeeringConnectionInput, _ ...request.Option) (*ec2.DeleteVpcPeeringConnectionOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteVpcPeeringConnection"); err != nil {
		return nil, err
	}
	peeringId := aws.StringValue(in.VpcPeeringConnectionId)
	r, ok := c.vpcPeerings[peeringId]
	if !ok || !r.visibleFrom(e.region) || !isLivePeering(r.peering) {
		return nil, notFound("InvalidVpcPeeringConnectionID.NotFound", peeringId)
	}
	r.peering.Status = &ec2.VpcPeeringConnectionStateReason{Code: aws.String(ec2.VpcPeeringConnectionStateReasonCodeDeleting)}
	return &ec2.DeleteVpcPeeringConnectionOutput{Return: aws.Bool(true)}, nil
}
