package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"go.uber.org/multierr"
	"labctl/internal/aws/common"
	"labctl/internal/aws/network"
	"labctl/internal/lab"
)

// NetworkAcls deletes custom ACLs after moving their subnets back to the default ACL.
type NetworkAcls struct {
	Poller      lab.Poller
	region      string
	NetworkAcls []*ec2.NetworkAcl
}

func (n *NetworkAcls) Kind() string {
	return "NetworkAcls"
}

func (n *NetworkAcls) Fetch(ctx context.Context, target lab.Target) (err error) {
	n.region = target.Region
	n.NetworkAcls, err = network.GetCustomNetworkAcls(ctx, target.Region, target.VpcIds)
	return
}

func (n *NetworkAcls) Delete(ctx context.Context) (err error) {
	for _, acl := range n.NetworkAcls {
		err = multierr.Append(err, network.DeleteNetworkAcl(ctx, n.region, acl, n.Poller))
	}
	return
}

func (n *NetworkAcls) Print() {
	var names []string
	for _, acl := range n.NetworkAcls {
		names = append(names, *acl.NetworkAclId)
	}
	printResources(n.Kind(), names)
}

type SecurityGroups struct {
	Poller         lab.Poller
	region         string
	SecurityGroups []*ec2.SecurityGroup
}

func (s *SecurityGroups) Kind() string {
	return "SecurityGroups"
}

func (s *SecurityGroups) Fetch(ctx context.Context, target lab.Target) (err error) {
	s.region = target.Region
	s.SecurityGroups, err = network.GetSecurityGroups(ctx, target.Region, target.VpcIds)
	return
}

// Delete drops cross references between the groups before deleting any of them.
func (s *SecurityGroups) Delete(ctx context.Context) (err error) {
	for _, group := range s.SecurityGroups {
		err = multierr.Append(err, network.RevokeGroupReferences(ctx, s.region, group))
	}
	for _, group := range s.SecurityGroups {
		err = multierr.Append(err, network.DeleteSecurityGroup(ctx, s.region, *group.GroupId, s.Poller))
	}
	return
}

func (s *SecurityGroups) Print() {
	var names []string
	for _, group := range s.SecurityGroups {
		names = append(names, *group.GroupId+" ("+aws.StringValue(group.GroupName)+")")
	}
	printResources(s.Kind(), names)
}

// NatGateways deletes the gateways and releases their elastic ips, plus any
// lab address left unassociated by an earlier partial run.
type NatGateways struct {
	Poller      lab.Poller
	region      string
	NatGateways []*ec2.NatGateway
	Addresses   []string
}

func (n *NatGateways) Kind() string {
	return "NatGateways"
}

func (n *NatGateways) Fetch(ctx context.Context, target lab.Target) (err error) {
	n.region = target.Region
	n.NatGateways, err = network.GetNatGateways(ctx, target.Region, target.VpcIds)
	if err != nil {
		return
	}
	n.Addresses, err = network.GetUnassociatedLabAddresses(ctx, target.Region, target.LabName)
	return
}

func (n *NatGateways) Delete(ctx context.Context) (err error) {
	for _, natGateway := range n.NatGateways {
		err = multierr.Append(err, network.DeleteNatGateway(ctx, n.region, natGateway, n.Poller))
	}
	for _, allocationId := range n.Addresses {
		err = multierr.Append(err, network.ReleaseAddress(ctx, n.region, allocationId))
	}
	return
}

func (n *NatGateways) Print() {
	var names []string
	for _, natGateway := range n.NatGateways {
		names = append(names, *natGateway.NatGatewayId)
	}
	names = append(names, n.Addresses...)
	printResources(n.Kind(), names)
}

type RouteTables struct {
	Poller      lab.Poller
	region      string
	RouteTables []*ec2.RouteTable
}

func (r *RouteTables) Kind() string {
	return "RouteTables"
}

func (r *RouteTables) Fetch(ctx context.Context, target lab.Target) error {
	r.region = target.Region
	r.RouteTables = nil

	routeTables, err := common.GetRouteTables(ctx, target.Region, target.VpcIds...)
	if err != nil {
		return err
	}
	for _, routeTable := range routeTables {
		if !common.IsMainRouteTable(routeTable) {
			r.RouteTables = append(r.RouteTables, routeTable)
		}
	}
	return nil
}

func (r *RouteTables) Delete(ctx context.Context) (err error) {
	for _, routeTable := range r.RouteTables {
		err = multierr.Append(err, network.DeleteRouteTable(ctx, r.region, routeTable, r.Poller))
	}
	return
}

func (r *RouteTables) Print() {
	var names []string
	for _, routeTable := range r.RouteTables {
		names = append(names, *routeTable.RouteTableId)
	}
	printResources(r.Kind(), names)
}

type InternetGateways struct {
	Poller           lab.Poller
	region           string
	InternetGateways []*ec2.InternetGateway
}

func (i *InternetGateways) Kind() string {
	return "InternetGateways"
}

func (i *InternetGateways) Fetch(ctx context.Context, target lab.Target) (err error) {
	i.region = target.Region
	i.InternetGateways, err = network.GetInternetGateways(ctx, target.Region, target.VpcIds)
	return
}

func (i *InternetGateways) Delete(ctx context.Context) (err error) {
	for _, igw := range i.InternetGateways {
		err = multierr.Append(err, network.DeleteInternetGateway(ctx, i.region, igw, i.Poller))
	}
	return
}

func (i *InternetGateways) Print() {
	var names []string
	for _, igw := range i.InternetGateways {
		names = append(names, *igw.InternetGatewayId)
	}
	printResources(i.Kind(), names)
}

type Subnets struct {
	Poller  lab.Poller
	region  string
	Subnets []*ec2.Subnet
}

func (s *Subnets) Kind() string {
	return "Subnets"
}

func (s *Subnets) Fetch(ctx context.Context, target lab.Target) (err error) {
	s.region = target.Region
	s.Subnets, err = common.GetVpcSubnets(ctx, target.Region, target.VpcIds...)
	return
}

func (s *Subnets) Delete(ctx context.Context) (err error) {
	for _, subnet := range s.Subnets {
		err = multierr.Append(err, network.DeleteSubnet(ctx, s.region, *subnet.SubnetId, s.Poller))
	}
	return
}

func (s *Subnets) Print() {
	var names []string
	for _, subnet := range s.Subnets {
		names = append(names, *subnet.SubnetId)
	}
	printResources(s.Kind(), names)
}

type Vpcs struct {
	Poller lab.Poller
	region string
	VpcIds []string
}

func (v *Vpcs) Kind() string {
	return "Vpcs"
}

// Fetch keeps only the target VPCs that still exist.
func (v *Vpcs) Fetch(ctx context.Context, target lab.Target) (err error) {
	v.region = target.Region
	v.VpcIds, err = network.ExistingVpcIds(ctx, target.Region, target.VpcIds)
	return
}

func (v *Vpcs) Delete(ctx context.Context) (err error) {
	for _, vpcId := range v.VpcIds {
		err = multierr.Append(err, network.DeleteVpc(ctx, v.region, vpcId, v.Poller))
	}
	return
}

func (v *Vpcs) Print() {
	printResources(v.Kind(), v.VpcIds)
}
