package transit

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

const DefaultAsn = 64512

// finished attachment states, nothing left to delete or wait for
var attachmentGoneStates = []string{
	ec2.TransitGatewayAttachmentStateDeleted,
	ec2.TransitGatewayAttachmentStateFailed,
	ec2.TransitGatewayAttachmentStateRejected,
}

var liveAttachmentStates = []string{
	ec2.TransitGatewayAttachmentStateInitiating,
	ec2.TransitGatewayAttachmentStateInitiatingRequest,
	ec2.TransitGatewayAttachmentStatePendingAcceptance,
	ec2.TransitGatewayAttachmentStatePending,
	ec2.TransitGatewayAttachmentStateAvailable,
	ec2.TransitGatewayAttachmentStateModifying,
	ec2.TransitGatewayAttachmentStateDeleting,
}

func CreateTransitGateway(ctx context.Context, region string, asn int64, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	if asn == 0 {
		asn = DefaultAsn
	}
	output, err := svc.CreateTransitGatewayWithContext(ctx, &ec2.CreateTransitGatewayInput{
		Description: aws.String(fmt.Sprintf("%s transit gateway for %s", tags[lab.NameTagKey], region)),
		Options: &ec2.TransitGatewayRequestOptions{
			AmazonSideAsn:                aws.Int64(asn),
			DefaultRouteTableAssociation: aws.String(ec2.DefaultRouteTableAssociationValueEnable),
			DefaultRouteTablePropagation: aws.String(ec2.DefaultRouteTablePropagationValueEnable),
		},
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeTransitGateway),
	})
	if err != nil {
		return "", errors.Wrap(err, "creating transit gateway")
	}
	tgwId := *output.TransitGateway.TransitGatewayId
	log.Info().Str("region", region).Msgf("created transit gateway %s (asn %d)", tgwId, asn)
	return tgwId, nil
}

func GetTransitGateway(ctx context.Context, region, tgwId string) (*ec2.TransitGateway, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeTransitGatewaysWithContext(ctx, &ec2.DescribeTransitGatewaysInput{
		TransitGatewayIds: []*string{aws.String(tgwId)},
	})
	if err != nil {
		return nil, err
	}
	if len(output.TransitGateways) == 0 {
		return nil, nil
	}
	return output.TransitGateways[0], nil
}

func waitForTransitGatewayState(ctx context.Context, region, tgwId, state string, poller lab.Poller) error {
	return poller.WaitFor(ctx, "transit gateway "+tgwId+" "+state, func() (bool, error) {
		tgw, err := GetTransitGateway(ctx, region, tgwId)
		if err != nil {
			if common.IsNotFound(err) {
				return state == ec2.TransitGatewayStateDeleted, nil
			}
			return false, err
		}
		if tgw == nil {
			return state == ec2.TransitGatewayStateDeleted, nil
		}
		return aws.StringValue(tgw.State) == state, nil
	})
}

func WaitForTransitGatewayAvailable(ctx context.Context, region, tgwId string, poller lab.Poller) error {
	return waitForTransitGatewayState(ctx, region, tgwId, ec2.TransitGatewayStateAvailable, poller)
}

// GetLabTransitGateways lists the lab's transit gateways that are not deleted.
func GetLabTransitGateways(ctx context.Context, region string, labName lab.LabName) (tgws []*ec2.TransitGateway, err error) {
	return getTransitGateways(ctx, region, common.LabFilter(labName))
}

func getTransitGateways(ctx context.Context, region string, filters ...*ec2.Filter) (tgws []*ec2.TransitGateway, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeTransitGatewaysOutput
		output, err = svc.DescribeTransitGatewaysWithContext(ctx, &ec2.DescribeTransitGatewaysInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		for _, tgw := range output.TransitGateways {
			if aws.StringValue(tgw.State) != ec2.TransitGatewayStateDeleted {
				tgws = append(tgws, tgw)
			}
		}
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// GetOrphanedTransitGateways returns the transit gateways the VPCs are (or
// were) attached to and that no other VPC is attached to.
func GetOrphanedTransitGateways(ctx context.Context, region string, vpcIds []string) (tgws []*ec2.TransitGateway, err error) {
	if len(vpcIds) == 0 {
		return
	}
	attachments, err := getVpcAttachments(ctx, region, common.Filter("vpc-id", vpcIds...))
	if err != nil {
		return
	}

	var candidates []string
	for _, attachment := range attachments {
		tgwId := aws.StringValue(attachment.TransitGatewayId)
		if tgwId != "" && !common.Contains(candidates, tgwId) {
			candidates = append(candidates, tgwId)
		}
	}

	for _, tgwId := range candidates {
		var live []*ec2.TransitGatewayVpcAttachment
		live, err = getVpcAttachments(ctx, region,
			common.Filter("transit-gateway-id", tgwId),
			common.Filter("state", liveAttachmentStates...),
		)
		if err != nil {
			return
		}
		var foreign int
		for _, attachment := range live {
			if !common.Contains(vpcIds, aws.StringValue(attachment.VpcId)) {
				foreign++
			}
		}
		if foreign > 0 {
			log.Debug().Msgf("transit gateway %s is still attached to %d other vpcs, keeping it", tgwId, foreign)
			continue
		}
		var found []*ec2.TransitGateway
		found, err = getTransitGateways(ctx, region, common.Filter("transit-gateway-id", tgwId))
		if err != nil {
			return
		}
		tgws = append(tgws, found...)
	}
	return
}

func DeleteTransitGateway(ctx context.Context, region, tgwId string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	err := common.DeleteWithRetry(ctx, poller, "deleting transit gateway "+tgwId, func() error {
		_, err := svc.DeleteTransitGatewayWithContext(ctx, &ec2.DeleteTransitGatewayInput{
			TransitGatewayId: aws.String(tgwId),
		})
		return err
	})
	if err != nil {
		return err
	}
	return waitForTransitGatewayState(ctx, region, tgwId, ec2.TransitGatewayStateDeleted, poller)
}

func CreateVpcAttachment(ctx context.Context, region, tgwId, vpcId string, subnetIds []string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateTransitGatewayVpcAttachmentWithContext(ctx, &ec2.CreateTransitGatewayVpcAttachmentInput{
		TransitGatewayId:  aws.String(tgwId),
		VpcId:             aws.String(vpcId),
		SubnetIds:         aws.StringSlice(subnetIds),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeTransitGatewayAttachment),
	})
	if err != nil {
		return "", errors.Wrapf(err, "attaching %s to %s", vpcId, tgwId)
	}
	attachmentId := *output.TransitGatewayVpcAttachment.TransitGatewayAttachmentId
	log.Info().Str("region", region).Msgf("attached %s to %s (%s)", vpcId, tgwId, attachmentId)
	return attachmentId, nil
}

func getVpcAttachments(ctx context.Context, region string, filters ...*ec2.Filter) (attachments []*ec2.TransitGatewayVpcAttachment, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeTransitGatewayVpcAttachmentsOutput
		output, err = svc.DescribeTransitGatewayVpcAttachmentsWithContext(ctx, &ec2.DescribeTransitGatewayVpcAttachmentsInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		attachments = append(attachments, output.TransitGatewayVpcAttachments...)
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// GetVpcAttachments lists the transit gateway attachments of the VPCs that still exist.
func GetVpcAttachments(ctx context.Context, region string, vpcIds []string) (attachments []*ec2.TransitGatewayVpcAttachment, err error) {
	if len(vpcIds) == 0 {
		return
	}
	all, err := getVpcAttachments(ctx, region, common.Filter("vpc-id", vpcIds...))
	if err != nil {
		return
	}
	for _, attachment := range all {
		if !common.Contains(attachmentGoneStates, aws.StringValue(attachment.State)) {
			attachments = append(attachments, attachment)
		}
	}
	return
}

func getAttachmentState(ctx context.Context, region, attachmentId string, peering bool) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	ids := []*string{aws.String(attachmentId)}
	if peering {
		output, err := svc.DescribeTransitGatewayPeeringAttachmentsWithContext(ctx, &ec2.DescribeTransitGatewayPeeringAttachmentsInput{
			TransitGatewayAttachmentIds: ids,
		})
		if err != nil || len(output.TransitGatewayPeeringAttachments) == 0 {
			return "", err
		}
		return aws.StringValue(output.TransitGatewayPeeringAttachments[0].State), nil
	}
	output, err := svc.DescribeTransitGatewayVpcAttachmentsWithContext(ctx, &ec2.DescribeTransitGatewayVpcAttachmentsInput{
		TransitGatewayAttachmentIds: ids,
	})
	if err != nil || len(output.TransitGatewayVpcAttachments) == 0 {
		return "", err
	}
	return aws.StringValue(output.TransitGatewayVpcAttachments[0].State), nil
}

// WaitForAttachmentState polls an attachment until it reaches state. An
// absent attachment counts as deleted.
func WaitForAttachmentState(ctx context.Context, region, attachmentId, state string, peering bool, poller lab.Poller) error {
	return poller.WaitFor(ctx, "attachment "+attachmentId+" "+state, func() (bool, error) {
		current, err := getAttachmentState(ctx, region, attachmentId, peering)
		if err != nil {
			if common.IsNotFound(err) {
				return state == ec2.TransitGatewayAttachmentStateDeleted, nil
			}
			return false, err
		}
		if current == "" {
			return state == ec2.TransitGatewayAttachmentStateDeleted, nil
		}
		if current == state {
			return true, nil
		}
		if state != ec2.TransitGatewayAttachmentStateDeleted && common.Contains(attachmentGoneStates, current) {
			return false, errors.Errorf("attachment %s is %s", attachmentId, current)
		}
		return false, nil
	})
}

func DeleteVpcAttachment(ctx context.Context, region string, attachment *ec2.TransitGatewayVpcAttachment, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	attachmentId := *attachment.TransitGatewayAttachmentId
	if aws.StringValue(attachment.State) != ec2.TransitGatewayAttachmentStateDeleting {
		err := common.DeleteWithRetry(ctx, poller, "deleting attachment "+attachmentId, func() error {
			_, err := svc.DeleteTransitGatewayVpcAttachmentWithContext(ctx, &ec2.DeleteTransitGatewayVpcAttachmentInput{
				TransitGatewayAttachmentId: attachment.TransitGatewayAttachmentId,
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return WaitForAttachmentState(ctx, region, attachmentId, ec2.TransitGatewayAttachmentStateDeleted, false, poller)
}
