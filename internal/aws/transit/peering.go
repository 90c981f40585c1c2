package transit

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

// CreateTransitGatewayPeering requests a peering between two transit gateways,
// accepts it from the accepter region and waits until it is usable.
func CreateTransitGatewayPeering(ctx context.Context, region, tgwId, peerRegion, peerTgwId string, tags lab.Tags, poller lab.Poller) (string, error) {
	accountId, err := common.GetAccountId(ctx, region)
	if err != nil {
		return "", err
	}

	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateTransitGatewayPeeringAttachmentWithContext(ctx, &ec2.CreateTransitGatewayPeeringAttachmentInput{
		TransitGatewayId:     aws.String(tgwId),
		PeerTransitGatewayId: aws.String(peerTgwId),
		PeerAccountId:        aws.String(accountId),
		PeerRegion:           aws.String(peerRegion),
		TagSpecifications:    tags.AsEc2TagSpecifications(ec2.ResourceTypeTransitGatewayAttachment),
	})
	if err != nil {
		return "", errors.Wrapf(err, "peering %s with %s", tgwId, peerTgwId)
	}
	attachmentId := *output.TransitGatewayPeeringAttachment.TransitGatewayAttachmentId
	log.Info().Str("region", region).Msgf("requested transit gateway peering %s (%s <-> %s)", attachmentId, tgwId, peerTgwId)

	err = WaitForAttachmentState(ctx, peerRegion, attachmentId, ec2.TransitGatewayAttachmentStatePendingAcceptance, true, poller)
	if err != nil {
		return attachmentId, err
	}

	peerSvc := connectors.GetAWSSession(peerRegion).EC2
	_, err = peerSvc.AcceptTransitGatewayPeeringAttachmentWithContext(ctx, &ec2.AcceptTransitGatewayPeeringAttachmentInput{
		TransitGatewayAttachmentId: aws.String(attachmentId),
	})
	if err != nil {
		return attachmentId, errors.Wrapf(err, "accepting transit gateway peering %s", attachmentId)
	}

	err = WaitForAttachmentState(ctx, region, attachmentId, ec2.TransitGatewayAttachmentStateAvailable, true, poller)
	return attachmentId, err
}

func getPeeringAttachments(ctx context.Context, region string, filters ...*ec2.Filter) (attachments []*ec2.TransitGatewayPeeringAttachment, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeTransitGatewayPeeringAttachmentsOutput
		output, err = svc.DescribeTransitGatewayPeeringAttachmentsWithContext(ctx, &ec2.DescribeTransitGatewayPeeringAttachmentsInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		for _, attachment := range output.TransitGatewayPeeringAttachments {
			if !common.Contains(attachmentGoneStates, aws.StringValue(attachment.State)) {
				attachments = append(attachments, attachment)
			}
		}
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// GetPeeringAttachments lists live peering attachments of the given transit gateways.
func GetPeeringAttachments(ctx context.Context, region string, tgwIds []string) ([]*ec2.TransitGatewayPeeringAttachment, error) {
	if len(tgwIds) == 0 {
		return nil, nil
	}
	return getPeeringAttachments(ctx, region, common.Filter("transit-gateway-id", tgwIds...))
}

func GetLabPeeringAttachments(ctx context.Context, region string, labName lab.LabName) ([]*ec2.TransitGatewayPeeringAttachment, error) {
	return getPeeringAttachments(ctx, region, common.LabFilter(labName))
}

func DeletePeeringAttachment(ctx context.Context, region string, attachment *ec2.TransitGatewayPeeringAttachment, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	attachmentId := *attachment.TransitGatewayAttachmentId
	if aws.StringValue(attachment.State) != ec2.TransitGatewayAttachmentStateDeleting {
		err := common.DeleteWithRetry(ctx, poller, "deleting peering attachment "+attachmentId, func() error {
			_, err := svc.DeleteTransitGatewayPeeringAttachmentWithContext(ctx, &ec2.DeleteTransitGatewayPeeringAttachmentInput{
				TransitGatewayAttachmentId: attachment.TransitGatewayAttachmentId,
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return WaitForAttachmentState(ctx, region, attachmentId, ec2.TransitGatewayAttachmentStateDeleted, true, poller)
}

// CreateTransitGatewayRoute adds a static route to the transit gateway's
// default route table.
func CreateTransitGatewayRoute(ctx context.Context, region, tgwId, destination, attachmentId string) error {
	tgw, err := GetTransitGateway(ctx, region, tgwId)
	if err != nil {
		return err
	}
	if tgw == nil || tgw.Options == nil || tgw.Options.AssociationDefaultRouteTableId == nil {
		return errors.Errorf("transit gateway %s has no default route table", tgwId)
	}

	svc := connectors.GetAWSSession(region).EC2
	_, err = svc.CreateTransitGatewayRouteWithContext(ctx, &ec2.CreateTransitGatewayRouteInput{
		DestinationCidrBlock:       aws.String(destination),
		TransitGatewayRouteTableId: tgw.Options.AssociationDefaultRouteTableId,
		TransitGatewayAttachmentId: aws.String(attachmentId),
	})
	if err = common.IgnoreAlreadyExists(err); err != nil {
		return errors.Wrapf(err, "adding route %s to %s", destination, tgwId)
	}
	log.Debug().Msgf("route %s via %s added to %s", destination, attachmentId, tgwId)
	return nil
}

// CreateVpcPeering requests a peering between two VPCs, possibly in
// different regions, and accepts it from the accepter side.
func CreateVpcPeering(ctx context.Context, region, vpcId, peerRegion, peerVpcId string, tags lab.Tags, poller lab.Poller) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateVpcPeeringConnectionWithContext(ctx, &ec2.CreateVpcPeeringConnectionInput{
		VpcId:             aws.String(vpcId),
		PeerVpcId:         aws.String(peerVpcId),
		PeerRegion:        aws.String(peerRegion),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeVpcPeeringConnection),
	})
	if err != nil {
		return "", errors.Wrapf(err, "peering %s with %s", vpcId, peerVpcId)
	}
	peeringId := *output.VpcPeeringConnection.VpcPeeringConnectionId
	log.Info().Str("region", region).Msgf("requested vpc peering %s (%s <-> %s)", peeringId, vpcId, peerVpcId)

	err = WaitForVpcPeeringState(ctx, peerRegion, peeringId, ec2.VpcPeeringConnectionStateReasonCodePendingAcceptance, poller)
	if err != nil {
		return peeringId, err
	}

	peerSvc := connectors.GetAWSSession(peerRegion).EC2
	_, err = peerSvc.AcceptVpcPeeringConnectionWithContext(ctx, &ec2.AcceptVpcPeeringConnectionInput{
		VpcPeeringConnectionId: aws.String(peeringId),
	})
	if err != nil {
		return peeringId, errors.Wrapf(err, "accepting vpc peering %s", peeringId)
	}

	err = WaitForVpcPeeringState(ctx, region, peeringId, ec2.VpcPeeringConnectionStateReasonCodeActive, poller)
	return peeringId, err
}

var peeringGoneStates = []string{
	ec2.VpcPeeringConnectionStateReasonCodeDeleted,
	ec2.VpcPeeringConnectionStateReasonCodeRejected,
	ec2.VpcPeeringConnectionStateReasonCodeFailed,
	ec2.VpcPeeringConnectionStateReasonCodeExpired,
}

func peeringState(p *ec2.VpcPeeringConnection) string {
	if p.Status == nil {
		return ""
	}
	return aws.StringValue(p.Status.Code)
}

func WaitForVpcPeeringState(ctx context.Context, region, peeringId, state string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return poller.WaitFor(ctx, "vpc peering "+peeringId+" "+state, func() (bool, error) {
		output, err := svc.DescribeVpcPeeringConnectionsWithContext(ctx, &ec2.DescribeVpcPeeringConnectionsInput{
			VpcPeeringConnectionIds: []*string{aws.String(peeringId)},
		})
		if err != nil {
			if common.IsNotFound(err) {
				return state == ec2.VpcPeeringConnectionStateReasonCodeDeleted, nil
			}
			return false, err
		}
		if len(output.VpcPeeringConnections) == 0 {
			return state == ec2.VpcPeeringConnectionStateReasonCodeDeleted, nil
		}
		current := peeringState(output.VpcPeeringConnections[0])
		if current == state {
			return true, nil
		}
		if common.Contains(peeringGoneStates, current) {
			if state == ec2.VpcPeeringConnectionStateReasonCodeDeleted {
				return true, nil
			}
			return false, errors.Errorf("vpc peering %s is %s", peeringId, current)
		}
		return false, nil
	})
}

func getVpcPeerings(ctx context.Context, region string, filters ...*ec2.Filter) (peerings []*ec2.VpcPeeringConnection, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeVpcPeeringConnectionsOutput
		output, err = svc.DescribeVpcPeeringConnectionsWithContext(ctx, &ec2.DescribeVpcPeeringConnectionsInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		for _, peering := range output.VpcPeeringConnections {
			if !common.Contains(peeringGoneStates, peeringState(peering)) {
				peerings = append(peerings, peering)
			}
		}
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// GetVpcPeerings lists live peerings where any of the VPCs is requester or accepter.
func GetVpcPeerings(ctx context.Context, region string, vpcIds []string) (peerings []*ec2.VpcPeeringConnection, err error) {
	if len(vpcIds) == 0 {
		return
	}
	seen := map[string]bool{}
	for _, filterName := range []string{"requester-vpc-info.vpc-id", "accepter-vpc-info.vpc-id"} {
		var found []*ec2.VpcPeeringConnection
		found, err = getVpcPeerings(ctx, region, common.Filter(filterName, vpcIds...))
		if err != nil {
			return
		}
		for _, peering := range found {
			id := *peering.VpcPeeringConnectionId
			if !seen[id] {
				seen[id] = true
				peerings = append(peerings, peering)
			}
		}
	}
	return
}

func GetLabVpcPeerings(ctx context.Context, region string, labName lab.LabName) ([]*ec2.VpcPeeringConnection, error) {
	return getVpcPeerings(ctx, region, common.LabFilter(labName))
}

func DeleteVpcPeering(ctx context.Context, region string, peering *ec2.VpcPeeringConnection, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	peeringId := *peering.VpcPeeringConnectionId
	if peeringState(peering) != ec2.VpcPeeringConnectionStateReasonCodeDeleting {
		err := common.DeleteWithRetry(ctx, poller, "deleting vpc peering "+peeringId, func() error {
			_, err := svc.DeleteVpcPeeringConnectionWithContext(ctx, &ec2.DeleteVpcPeeringConnectionInput{
				VpcPeeringConnectionId: peering.VpcPeeringConnectionId,
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return WaitForVpcPeeringState(ctx, region, peeringId, ec2.VpcPeeringConnectionStateReasonCodeDeleted, poller)
}
