package network

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

// RouteTarget holds exactly one non-empty next hop.
type RouteTarget struct {
	GatewayId              string
	NatGatewayId           string
	TransitGatewayId       string
	VpcPeeringConnectionId string
}

func (t RouteTarget) String() string {
	for _, id := range []string{t.GatewayId, t.NatGatewayId, t.TransitGatewayId, t.VpcPeeringConnectionId} {
		if id != "" {
			return id
		}
	}
	return "<none>"
}

func CreateRouteTable(ctx context.Context, region, vpcId string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateRouteTableWithContext(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(vpcId),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeRouteTable),
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating route table in %s", vpcId)
	}
	routeTableId := *output.RouteTable.RouteTableId
	log.Info().Str("region", region).Msgf("created route table %s", routeTableId)
	return routeTableId, nil
}

// TagResource tags an existing resource, such as the main route table that
// AWS creates together with the VPC.
func TagResource(ctx context.Context, region, resourceId string, tags lab.Tags) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
		Resources: []*string{aws.String(resourceId)},
		Tags:      tags.AsEc2(),
	})
	return errors.Wrapf(err, "tagging %s", resourceId)
}

// CreateRoute adds a route. An identical existing route is not an error.
func CreateRoute(ctx context.Context, region, routeTableId, destination string, target RouteTarget) error {
	svc := connectors.GetAWSSession(region).EC2
	input := &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableId),
		DestinationCidrBlock: aws.String(destination),
	}
	switch {
	case target.GatewayId != "":
		input.GatewayId = aws.String(target.GatewayId)
	case target.NatGatewayId != "":
		input.NatGatewayId = aws.String(target.NatGatewayId)
	case target.TransitGatewayId != "":
		input.TransitGatewayId = aws.String(target.TransitGatewayId)
	case target.VpcPeeringConnectionId != "":
		input.VpcPeeringConnectionId = aws.String(target.VpcPeeringConnectionId)
	default:
		return errors.Errorf("route %s in %s has no target", destination, routeTableId)
	}

	_, err := svc.CreateRouteWithContext(ctx, input)
	if err = common.IgnoreAlreadyExists(err); err != nil {
		return errors.Wrapf(err, "creating route %s -> %s in %s", destination, target, routeTableId)
	}
	log.Debug().Msgf("route %s -> %s in %s", destination, target, routeTableId)
	return nil
}

func AssociateRouteTable(ctx context.Context, region, routeTableId, subnetId string) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.AssociateRouteTableWithContext(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableId),
		SubnetId:     aws.String(subnetId),
	})
	return errors.Wrapf(common.IgnoreAlreadyExists(err), "associating %s with %s", routeTableId, subnetId)
}

// IsTransitRoute reports routes that point at a transit gateway or a peering connection.
func IsTransitRoute(route *ec2.Route) bool {
	return route.DestinationCidrBlock != nil && (route.TransitGatewayId != nil || route.VpcPeeringConnectionId != nil)
}

func DeleteRoute(ctx context.Context, region, routeTableId, destination string) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.DeleteRouteWithContext(ctx, &ec2.DeleteRouteInput{
		RouteTableId:         aws.String(routeTableId),
		DestinationCidrBlock: aws.String(destination),
	})
	return common.IgnoreNotFound(err)
}

// DeleteRouteTable disassociates every subnet and deletes the table. Main
// route tables are deleted together with their VPC.
func DeleteRouteTable(ctx context.Context, region string, routeTable *ec2.RouteTable, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	routeTableId := *routeTable.RouteTableId
	if common.IsMainRouteTable(routeTable) {
		return errors.Errorf("refusing to delete main route table %s", routeTableId)
	}

	for _, association := range routeTable.Associations {
		if association.SubnetId == nil {
			continue
		}
		_, err := svc.DisassociateRouteTableWithContext(ctx, &ec2.DisassociateRouteTableInput{
			AssociationId: association.RouteTableAssociationId,
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "disassociating %s from %s", routeTableId, *association.SubnetId)
		}
	}

	return common.DeleteWithRetry(ctx, poller, "deleting route table "+routeTableId, func() error {
		_, err := svc.DeleteRouteTableWithContext(ctx, &ec2.DeleteRouteTableInput{
			RouteTableId: routeTable.RouteTableId,
		})
		return err
	})
}
