package cleaner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"go.uber.org/multierr"
	"labctl/internal/aws/common"
	"labctl/internal/aws/network"
	"labctl/internal/aws/transit"
	"labctl/internal/lab"
)

type transitRoute struct {
	routeTableId string
	destination  string
}

// TransitRoutes removes routes through transit gateways or peerings so the
// attachments behind them can go.
type TransitRoutes struct {
	region string
	routes []transitRoute
}

func (t *TransitRoutes) Kind() string {
	return "TransitRoutes"
}

func (t *TransitRoutes) Fetch(ctx context.Context, target lab.Target) error {
	t.region = target.Region
	t.routes = nil

	routeTables, err := common.GetRouteTables(ctx, target.Region, target.VpcIds...)
	if err != nil {
		return err
	}
	for _, routeTable := range routeTables {
		for _, route := range routeTable.Routes {
			if network.IsTransitRoute(route) {
				t.routes = append(t.routes, transitRoute{
					routeTableId: *routeTable.RouteTableId,
					destination:  *route.DestinationCidrBlock,
				})
			}
		}
	}
	return nil
}

func (t *TransitRoutes) Delete(ctx context.Context) (err error) {
	for _, route := range t.routes {
		err = multierr.Append(err, network.DeleteRoute(ctx, t.region, route.routeTableId, route.destination))
	}
	return
}

func (t *TransitRoutes) Print() {
	var names []string
	for _, route := range t.routes {
		names = append(names, fmt.Sprintf("%s %s", route.routeTableId, route.destination))
	}
	printResources(t.Kind(), names)
}

type VpcPeerings struct {
	Poller   lab.Poller
	region   string
	Peerings []*ec2.VpcPeeringConnection
}

func (v *VpcPeerings) Kind() string {
	return "VpcPeerings"
}

func (v *VpcPeerings) Fetch(ctx context.Context, target lab.Target) error {
	v.region = target.Region
	peerings, err := transit.GetVpcPeerings(ctx, target.Region, target.VpcIds)
	if err != nil {
		return err
	}
	if target.LabName != "" {
		labPeerings, err := transit.GetLabVpcPeerings(ctx, target.Region, target.LabName)
		if err != nil {
			return err
		}
		peerings = mergePeerings(peerings, labPeerings)
	}
	v.Peerings = peerings
	return nil
}

func mergePeerings(peerings, more []*ec2.VpcPeeringConnection) []*ec2.VpcPeeringConnection {
	seen := map[string]bool{}
	for _, peering := range peerings {
		seen[*peering.VpcPeeringConnectionId] = true
	}
	for _, peering := range more {
		if !seen[*peering.VpcPeeringConnectionId] {
			seen[*peering.VpcPeeringConnectionId] = true
			peerings = append(peerings, peering)
		}
	}
	return peerings
}

func (v *VpcPeerings) Delete(ctx context.Context) (err error) {
	for _, peering := range v.Peerings {
		err = multierr.Append(err, transit.DeleteVpcPeering(ctx, v.region, peering, v.Poller))
	}
	return
}

func (v *VpcPeerings) Print() {
	var names []string
	for _, peering := range v.Peerings {
		names = append(names, *peering.VpcPeeringConnectionId)
	}
	printResources(v.Kind(), names)
}

// targetTransitGateways returns the lab's transit gateways plus the ones only
// the target VPCs are attached to.
func targetTransitGateways(ctx context.Context, target lab.Target) (tgws []*ec2.TransitGateway, err error) {
	if target.LabName != "" {
		tgws, err = transit.GetLabTransitGateways(ctx, target.Region, target.LabName)
		if err != nil {
			return
		}
	}
	orphaned, err := transit.GetOrphanedTransitGateways(ctx, target.Region, target.VpcIds)
	if err != nil {
		return
	}
	seen := map[string]bool{}
	for _, tgw := range tgws {
		seen[*tgw.TransitGatewayId] = true
	}
	for _, tgw := range orphaned {
		if !seen[*tgw.TransitGatewayId] {
			seen[*tgw.TransitGatewayId] = true
			tgws = append(tgws, tgw)
		}
	}
	return
}

func transitGatewayIds(tgws []*ec2.TransitGateway) (ids []string) {
	for _, tgw := range tgws {
		ids = append(ids, *tgw.TransitGatewayId)
	}
	return
}

// TransitGatewayAttachments deletes peering attachments of the doomed transit
// gateways first, then the VPC attachments.
type TransitGatewayAttachments struct {
	Poller             lab.Poller
	region             string
	PeeringAttachments []*ec2.TransitGatewayPeeringAttachment
	VpcAttachments     []*ec2.TransitGatewayVpcAttachment
}

func (t *TransitGatewayAttachments) Kind() string {
	return "TransitGatewayAttachments"
}

func (t *TransitGatewayAttachments) Fetch(ctx context.Context, target lab.Target) error {
	t.region = target.Region
	t.PeeringAttachments = nil

	tgws, err := targetTransitGateways(ctx, target)
	if err != nil {
		return err
	}
	peeringAttachments, err := transit.GetPeeringAttachments(ctx, target.Region, transitGatewayIds(tgws))
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, attachment := range peeringAttachments {
		seen[*attachment.TransitGatewayAttachmentId] = true
		t.PeeringAttachments = append(t.PeeringAttachments, attachment)
	}
	if target.LabName != "" {
		labAttachments, err := transit.GetLabPeeringAttachments(ctx, target.Region, target.LabName)
		if err != nil {
			return err
		}
		for _, attachment := range labAttachments {
			if !seen[*attachment.TransitGatewayAttachmentId] {
				seen[*attachment.TransitGatewayAttachmentId] = true
				t.PeeringAttachments = append(t.PeeringAttachments, attachment)
			}
		}
	}

	t.VpcAttachments, err = transit.GetVpcAttachments(ctx, target.Region, target.VpcIds)
	return err
}

func (t *TransitGatewayAttachments) Delete(ctx context.Context) (err error) {
	for _, attachment := range t.PeeringAttachments {
		err = multierr.Append(err, transit.DeletePeeringAttachment(ctx, t.region, attachment, t.Poller))
	}
	for _, attachment := range t.VpcAttachments {
		err = multierr.Append(err, transit.DeleteVpcAttachment(ctx, t.region, attachment, t.Poller))
	}
	return
}

func (t *TransitGatewayAttachments) Print() {
	var names []string
	for _, attachment := range t.PeeringAttachments {
		names = append(names, fmt.Sprintf("%s (peering)", *attachment.TransitGatewayAttachmentId))
	}
	for _, attachment := range t.VpcAttachments {
		names = append(names, fmt.Sprintf("%s (%s)", *attachment.TransitGatewayAttachmentId, aws.StringValue(attachment.VpcId)))
	}
	printResources(t.Kind(), names)
}

type TransitGateways struct {
	Poller          lab.Poller
	region          string
	TransitGateways []*ec2.TransitGateway
}

func (t *TransitGateways) Kind() string {
	return "TransitGateways"
}

func (t *TransitGateways) Fetch(ctx context.Context, target lab.Target) (err error) {
	t.region = target.Region
	t.TransitGateways, err = targetTransitGateways(ctx, target)
	return
}

func (t *TransitGateways) Delete(ctx context.Context) (err error) {
	for _, tgw := range t.TransitGateways {
		err = multierr.Append(err, transit.DeleteTransitGateway(ctx, t.region, *tgw.TransitGatewayId, t.Poller))
	}
	return
}

func (t *TransitGateways) Print() {
	printResources(t.Kind(), transitGatewayIds(t.TransitGateways))
}
