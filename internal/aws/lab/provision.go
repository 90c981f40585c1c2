package lab

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"labctl/internal/aws/alb"
	"labctl/internal/aws/common"
	"labctl/internal/aws/compute"
	"labctl/internal/aws/network"
	"labctl/internal/aws/route53"
	"labctl/internal/aws/transit"
	"labctl/internal/aws/waf"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

const (
	defaultListenerPort = 80
	webAclNameMaxLength = 128
)

type Options struct {
	LabName   lab.LabName
	Region    string
	TTL       time.Duration
	Rollback  bool
	Poller    lab.Poller
	ExtraTags lab.Tags
}

type vpcState struct {
	id                string
	region            string
	cidr              string
	mainRouteTableId  string
	internetGatewayId string
	subnets           map[string]string
	natGateways       map[string]string
	securityGroups    map[string]string
	instances         map[string]string
}

type tgwState struct {
	id          string
	region      string
	attachments map[string]string
}

type deferredRoute struct {
	region       string
	routeTableId string
	route        lab.Route
}

type provisioner struct {
	blueprint *lab.Blueprint
	opts      Options
	tags      lab.Tags
	outputs   *lab.Outputs

	zones       map[string][]string
	vpcs        map[string]*vpcState
	tgws        map[string]*tgwState
	tgwPeerings map[string]string
	vpcPeerings map[string]string
	deferred    []deferredRoute

	loadBalancerArn    string
	loadBalancerRegion string
}

// Provision creates every resource of the blueprint in dependency order. On
// failure the records created so far are returned with the error; with
// Rollback set the lab is torn down before returning.
func Provision(ctx context.Context, bp *lab.Blueprint, opts Options) (*lab.Outputs, error) {
	if err := opts.LabName.Validate(); err != nil {
		return nil, err
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}

	var expiresAt time.Time
	if opts.TTL > 0 {
		expiresAt = time.Now().Add(opts.TTL)
	}
	tags := lab.GetCommonResourceTags(opts.LabName, bp.Name, uuid.New().String(), expiresAt)
	if opts.ExtraTags != nil {
		tags = opts.ExtraTags.Clone().Update(tags)
	}

	p := &provisioner{
		blueprint:   bp,
		opts:        opts,
		tags:        tags,
		outputs:     &lab.Outputs{},
		zones:       map[string][]string{},
		vpcs:        map[string]*vpcState{},
		tgws:        map[string]*tgwState{},
		tgwPeerings: map[string]string{},
		vpcPeerings: map[string]string{},
	}

	err := p.run(ctx)
	if err == nil {
		return p.outputs, nil
	}

	err = errors.Wrapf(err, "provisioning lab %s", opts.LabName)
	if !opts.Rollback {
		logging.UserWarning("lab %s is incomplete, run `labctl lab destroy -n %s` to remove it", opts.LabName, opts.LabName)
		return p.outputs, err
	}

	logging.UserWarning("provisioning failed, rolling back lab %s", opts.LabName)
	_, rollbackErr := Teardown(ctx, TeardownOptions{
		LabName: opts.LabName,
		Regions: bp.Regions(opts.Region),
		Poller:  opts.Poller,
	})
	return p.outputs, multierr.Append(err, errors.Wrap(rollbackErr, "rolling back"))
}

func (p *provisioner) resourceTags(name string) lab.Tags {
	return p.tags.WithName(lab.ResourceName(p.opts.LabName, name, 0))
}

func (p *provisioner) region(region string) string {
	return lab.RegionOf(region, p.opts.Region)
}

func (p *provisioner) run(ctx context.Context) error {
	for _, vpc := range p.blueprint.Vpcs {
		logging.UserProgress("Creating vpc %s", vpc.Name)
		if err := p.createVpc(ctx, vpc); err != nil {
			return errors.Wrapf(err, "vpc %s", vpc.Name)
		}
	}

	if lb := p.blueprint.LoadBalancer; lb != nil {
		logging.UserProgress("Creating load balancer %s", lb.Name)
		if err := p.createLoadBalancer(ctx, *lb); err != nil {
			return errors.Wrapf(err, "load balancer %s", lb.Name)
		}
	}

	if webAcl := p.blueprint.WebAcl; webAcl != nil {
		logging.UserProgress("Creating web acl %s", webAcl.Name)
		if err := p.createWebAcl(ctx, *webAcl); err != nil {
			return errors.Wrapf(err, "web acl %s", webAcl.Name)
		}
	}

	for _, tgw := range p.blueprint.TransitGateways {
		logging.UserProgress("Creating transit gateway %s", tgw.Name)
		if err := p.createTransitGateway(ctx, tgw); err != nil {
			return errors.Wrapf(err, "transit gateway %s", tgw.Name)
		}
	}

	for _, peering := range p.blueprint.TransitGatewayPeerings {
		logging.UserProgress("Peering transit gateways %s and %s", peering.Requester, peering.Accepter)
		if err := p.createTransitGatewayPeering(ctx, peering); err != nil {
			return errors.Wrapf(err, "transit gateway peering %s", peering.Name)
		}
	}
	for _, tgw := range p.blueprint.TransitGateways {
		if err := p.createTransitGatewayRoutes(ctx, tgw); err != nil {
			return errors.Wrapf(err, "transit gateway %s routes", tgw.Name)
		}
	}

	for _, peering := range p.blueprint.VpcPeerings {
		logging.UserProgress("Peering vpcs %s and %s", peering.Requester, peering.Accepter)
		if err := p.createVpcPeering(ctx, peering); err != nil {
			return errors.Wrapf(err, "vpc peering %s", peering.Name)
		}
	}

	return p.createDeferredRoutes(ctx)
}

func (p *provisioner) availabilityZones(ctx context.Context, region string) ([]string, error) {
	if zones, ok := p.zones[region]; ok {
		return zones, nil
	}
	zones, err := network.GetAvailabilityZones(ctx, region)
	if err != nil {
		return nil, err
	}
	p.zones[region] = zones
	return zones, nil
}

func (p *provisioner) createVpc(ctx context.Context, vpc lab.Vpc) error {
	region := p.region(vpc.Region)
	vpcId, err := network.CreateVpc(ctx, region, vpc.Cidr, p.resourceTags(vpc.Name))
	if err != nil {
		return err
	}
	state := &vpcState{
		id:             vpcId,
		region:         region,
		cidr:           vpc.Cidr,
		subnets:        map[string]string{},
		natGateways:    map[string]string{},
		securityGroups: map[string]string{},
		instances:      map[string]string{},
	}
	p.vpcs[vpc.Name] = state
	p.outputs.Add(lab.Record{Region: region, Kind: lab.KindVpc, Name: vpc.Name, Id: vpcId})

	if err = network.WaitForVpcAvailable(ctx, region, vpcId, p.opts.Poller); err != nil {
		return err
	}
	if err = network.EnableVpcDns(ctx, region, vpcId); err != nil {
		return err
	}

	state.mainRouteTableId, err = common.GetMainRouteTable(ctx, region, vpcId)
	if err != nil {
		return err
	}
	if err = network.TagResource(ctx, region, state.mainRouteTableId, p.resourceTags(vpc.Name+"-main")); err != nil {
		return err
	}

	if vpc.InternetGateway {
		state.internetGatewayId, err = network.CreateInternetGateway(ctx, region, vpcId, p.resourceTags(vpc.Name+"-igw"))
		if err != nil {
			return err
		}
		p.outputs.Add(lab.Record{Region: region, Kind: lab.KindInternetGateway, Name: vpc.Name + "-igw", Id: state.internetGatewayId})
	}

	steps := []func(context.Context, lab.Vpc, *vpcState) error{
		p.createSubnets,
		p.createNatGateways,
		p.createRouteTables,
		p.createSecurityGroups,
		p.createNetworkAcls,
		p.createInstances,
	}
	for _, step := range steps {
		if err = step(ctx, vpc, state); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createSubnets(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	zones, err := p.availabilityZones(ctx, state.region)
	if err != nil {
		return err
	}
	for _, subnet := range vpc.Subnets {
		zone, err := network.ZoneFor(subnet, zones)
		if err != nil {
			return err
		}
		subnetId, err := network.CreateSubnet(ctx, state.region, state.id, subnet.Cidr, zone, subnet.Public, p.resourceTags(subnet.Name))
		if err != nil {
			return err
		}
		state.subnets[subnet.Name] = subnetId
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindSubnet, Name: subnet.Name, Id: subnetId})
	}
	return nil
}

func (p *provisioner) createNatGateways(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	for _, nat := range vpc.NatGateways {
		allocationId, err := network.AllocateAddress(ctx, state.region, p.resourceTags(nat.Name+"-eip"))
		if err != nil {
			return err
		}
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindElasticIp, Name: nat.Name + "-eip", Id: allocationId})

		natId, err := network.CreateNatGateway(ctx, state.region, state.subnets[nat.Subnet], allocationId, p.resourceTags(nat.Name))
		if err != nil {
			return err
		}
		state.natGateways[nat.Name] = natId
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindNatGateway, Name: nat.Name, Id: natId})
	}
	for _, nat := range vpc.NatGateways {
		if err := network.WaitForNatGatewayAvailable(ctx, state.region, state.natGateways[nat.Name], p.opts.Poller); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createRouteTables(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	for _, routeTable := range vpc.RouteTables {
		var routeTableId string
		var err error
		if routeTable.Main {
			routeTableId = state.mainRouteTableId
			err = network.TagResource(ctx, state.region, routeTableId, p.resourceTags(routeTable.Name))
		} else {
			routeTableId, err = network.CreateRouteTable(ctx, state.region, state.id, p.resourceTags(routeTable.Name))
		}
		if err != nil {
			return err
		}
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindRouteTable, Name: routeTable.Name, Id: routeTableId})

		for _, route := range routeTable.Routes {
			kind, name, err := route.ParseTarget()
			if err != nil {
				return err
			}
			var target network.RouteTarget
			switch kind {
			case lab.TargetInternetGateway:
				target.GatewayId = state.internetGatewayId
			case lab.TargetNat:
				target.NatGatewayId = state.natGateways[name]
			default:
				p.deferred = append(p.deferred, deferredRoute{region: state.region, routeTableId: routeTableId, route: route})
				continue
			}
			if err = network.CreateRoute(ctx, state.region, routeTableId, route.Destination, target); err != nil {
				return err
			}
		}

		for _, subnet := range routeTable.Subnets {
			if err = network.AssociateRouteTable(ctx, state.region, routeTableId, state.subnets[subnet]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *provisioner) createSecurityGroups(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	for _, group := range vpc.SecurityGroups {
		description := group.Description
		if description == "" {
			description = group.Name
		}
		groupName := lab.ResourceName(p.opts.LabName, group.Name, 255)
		groupId, err := network.CreateSecurityGroup(ctx, state.region, state.id, groupName, description, p.resourceTags(group.Name))
		if err != nil {
			return err
		}
		state.securityGroups[group.Name] = groupId
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindSecurityGroup, Name: group.Name, Id: groupId})
	}

	// rules go in once every group exists, they may reference each other
	for _, group := range vpc.SecurityGroups {
		var permissions []*ec2.IpPermission
		for _, rule := range group.Ingress {
			permission, err := network.IngressPermission(rule, state.securityGroups[rule.Source])
			if err != nil {
				return errors.Wrapf(err, "security group %s", group.Name)
			}
			permissions = append(permissions, permission)
		}
		if len(permissions) == 0 {
			continue
		}
		if err := network.AuthorizeIngress(ctx, state.region, state.securityGroups[group.Name], permissions); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createNetworkAcls(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	for _, acl := range vpc.NetworkAcls {
		aclId, err := network.CreateNetworkAcl(ctx, state.region, state.id, p.resourceTags(acl.Name))
		if err != nil {
			return err
		}
		p.outputs.Add(lab.Record{Region: state.region, Kind: lab.KindNetworkAcl, Name: acl.Name, Id: aclId})

		for _, entry := range acl.Entries {
			if err = network.CreateNetworkAclEntry(ctx, state.region, aclId, entry); err != nil {
				return err
			}
		}
		for _, subnet := range acl.Subnets {
			if err = network.AssociateNetworkAcl(ctx, state.region, aclId, state.subnets[subnet]); err != nil {
				return err
			}
		}
	}
	return nil
}

// privateIp resolves an instance created earlier in this lab, in any VPC.
func (p *provisioner) privateIp(name string) (string, error) {
	record, ok := p.outputs.Get(lab.KindInstance, name)
	if !ok || record.PrivateIp == "" {
		return "", errors.Errorf("instance %q has not been created yet", name)
	}
	return record.PrivateIp, nil
}

func (p *provisioner) createInstances(ctx context.Context, vpc lab.Vpc, state *vpcState) error {
	images := map[string]string{}
	for _, instance := range vpc.Instances {
		imageId, ok := images[instance.Image]
		if !ok {
			var err error
			imageId, err = compute.ResolveImageId(ctx, state.region, instance.Image)
			if err != nil {
				return errors.Wrapf(err, "instance %s", instance.Name)
			}
			images[instance.Image] = imageId
		}

		userData, err := lab.RenderUserData(instance, p.privateIp)
		if err != nil {
			return err
		}

		var groupIds []string
		for _, group := range instance.SecurityGroups {
			groupIds = append(groupIds, state.securityGroups[group])
		}

		created, err := compute.RunInstance(ctx, state.region, compute.InstanceParams{
			ImageId:          imageId,
			InstanceType:     instance.Type,
			KeyName:          instance.KeyName,
			SubnetId:         state.subnets[instance.Subnet],
			SecurityGroupIds: groupIds,
			PrivateIp:        instance.PrivateIp,
			UserData:         userData,
		}, p.resourceTags(instance.Name))
		if err != nil {
			return errors.Wrapf(err, "instance %s", instance.Name)
		}
		instanceId := *created.InstanceId
		state.instances[instance.Name] = instanceId

		if instance.Wait {
			logging.UserProgress("Waiting for instance %s to run", instance.Name)
			created, err = compute.WaitForInstanceRunning(ctx, state.region, instanceId, p.opts.Poller)
			if err != nil {
				return err
			}
		}
		p.outputs.Add(lab.Record{
			Region:    state.region,
			Kind:      lab.KindInstance,
			Name:      instance.Name,
			Id:        instanceId,
			PrivateIp: aws.StringValue(created.PrivateIpAddress),
			Endpoint:  aws.StringValue(created.PublicIpAddress),
		})
	}
	return nil
}

func (p *provisioner) createLoadBalancer(ctx context.Context, lb lab.LoadBalancer) error {
	state := p.vpcs[lb.Vpc]
	region := state.region

	targetPort := lb.TargetPort
	if targetPort == 0 {
		targetPort = defaultListenerPort
	}
	port := lb.Port
	if port == 0 {
		port = defaultListenerPort
	}

	targetGroupName := lab.ResourceName(p.opts.LabName, lb.Name+"-tg", alb.MaxNameLength)
	targetGroupArn, err := alb.CreateTargetGroup(ctx, region, alb.TargetGroupParams{
		Name:            targetGroupName,
		VpcId:           state.id,
		Port:            targetPort,
		HealthCheckPath: lb.HealthCheckPath,
	}, p.resourceTags(lb.Name+"-tg"))
	if err != nil {
		return err
	}
	p.outputs.Add(lab.Record{Region: region, Kind: lab.KindTargetGroup, Name: lb.Name + "-tg", Id: targetGroupArn})

	var targets []string
	for _, target := range lb.Targets {
		targets = append(targets, state.instances[target])
	}
	if len(targets) > 0 {
		// targets must be running before they can be registered
		for _, instanceId := range targets {
			if _, err = compute.WaitForInstanceRunning(ctx, region, instanceId, p.opts.Poller); err != nil {
				return err
			}
		}
		if err = alb.RegisterTargets(ctx, region, targetGroupArn, targets, targetPort); err != nil {
			return err
		}
	}

	var subnetIds []string
	for _, subnet := range lb.Subnets {
		subnetIds = append(subnetIds, state.subnets[subnet])
	}
	var groupIds []string
	for _, group := range lb.SecurityGroups {
		groupIds = append(groupIds, state.securityGroups[group])
	}

	tags := p.resourceTags(lb.Name)
	if lb.Dns != nil {
		tags[lab.DnsZoneTagKey] = lb.Dns.ZoneId
		tags[lab.DnsNameTagKey] = lb.Dns.Name
	}
	loadBalancerName := lab.ResourceName(p.opts.LabName, lb.Name, alb.MaxNameLength)
	loadBalancer, err := alb.CreateApplicationLoadBalancer(ctx, region, loadBalancerName, subnetIds, groupIds, tags)
	if err != nil {
		return err
	}
	albArn := *loadBalancer.LoadBalancerArn
	p.loadBalancerArn, p.loadBalancerRegion = albArn, region
	p.outputs.Add(lab.Record{
		Region:   region,
		Kind:     lab.KindLoadBalancer,
		Name:     lb.Name,
		Id:       albArn,
		Endpoint: aws.StringValue(loadBalancer.DNSName),
	})

	if err = alb.WaitForLoadBalancerActive(ctx, region, albArn, p.opts.Poller); err != nil {
		return err
	}
	if err = alb.CreateListener(ctx, region, albArn, targetGroupArn, port, p.resourceTags(lb.Name+"-listener")); err != nil {
		return err
	}

	if lb.Dns != nil {
		if err = route53.CreateApplicationLoadBalancerAliasRecord(ctx, region, loadBalancer, lb.Dns.Name, lb.Dns.ZoneId); err != nil {
			return err
		}
		p.outputs.Add(lab.Record{Region: region, Kind: lab.KindDnsRecord, Name: lb.Dns.Name, Id: lb.Dns.ZoneId, Endpoint: lb.Dns.Name})
	}
	return nil
}

func (p *provisioner) createWebAcl(ctx context.Context, webAcl lab.WebAcl) error {
	if p.loadBalancerArn == "" {
		return errors.New("a web acl needs a load balancer")
	}
	region := p.loadBalancerRegion
	name := lab.ResourceName(p.opts.LabName, webAcl.Name, webAclNameMaxLength)
	webAclArn, err := waf.CreateWebAcl(ctx, region, name, waf.BuildRules(webAcl.ManagedRuleGroups, webAcl.RateLimit), p.resourceTags(webAcl.Name))
	if err != nil {
		return err
	}
	p.outputs.Add(lab.Record{Region: region, Kind: lab.KindWebAcl, Name: webAcl.Name, Id: webAclArn})
	return waf.AssociateWebAcl(ctx, region, webAclArn, p.loadBalancerArn, p.opts.Poller)
}

func (p *provisioner) createTransitGateway(ctx context.Context, tgw lab.TransitGateway) error {
	region := p.region(tgw.Region)
	tgwId, err := transit.CreateTransitGateway(ctx, region, tgw.Asn, p.resourceTags(tgw.Name))
	if err != nil {
		return err
	}
	state := &tgwState{id: tgwId, region: region, attachments: map[string]string{}}
	p.tgws[tgw.Name] = state
	p.outputs.Add(lab.Record{Region: region, Kind: lab.KindTransitGateway, Name: tgw.Name, Id: tgwId})

	if err = transit.WaitForTransitGatewayAvailable(ctx, region, tgwId, p.opts.Poller); err != nil {
		return err
	}

	for _, attachment := range tgw.Attachments {
		vpc := p.vpcs[attachment.Vpc]
		var subnetIds []string
		for _, subnet := range attachment.Subnets {
			subnetIds = append(subnetIds, vpc.subnets[subnet])
		}
		name := tgw.Name + "-" + attachment.Vpc
		attachmentId, err := transit.CreateVpcAttachment(ctx, region, tgwId, vpc.id, subnetIds, p.resourceTags(name))
		if err != nil {
			return err
		}
		state.attachments[attachment.Vpc] = attachmentId
		p.outputs.Add(lab.Record{Region: region, Kind: lab.KindTransitGatewayAttach, Name: name, Id: attachmentId})
	}
	for _, attachmentId := range state.attachments {
		err = transit.WaitForAttachmentState(ctx, region, attachmentId, ec2.TransitGatewayAttachmentStateAvailable, false, p.opts.Poller)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createTransitGatewayPeering(ctx context.Context, peering lab.TransitGatewayPeering) error {
	requester, accepter := p.tgws[peering.Requester], p.tgws[peering.Accepter]
	attachmentId, err := transit.CreateTransitGatewayPeering(ctx, requester.region, requester.id, accepter.region, accepter.id, p.resourceTags(peering.Name), p.opts.Poller)
	if attachmentId != "" {
		p.tgwPeerings[peering.Name] = attachmentId
		p.outputs.Add(lab.Record{Region: requester.region, Kind: lab.KindTransitGatewayPeering, Name: peering.Name, Id: attachmentId})
	}
	return err
}

func (p *provisioner) createTransitGatewayRoutes(ctx context.Context, tgw lab.TransitGateway) error {
	state := p.tgws[tgw.Name]
	for _, route := range tgw.Routes {
		attachmentId, ok := p.tgwPeerings[route.Peering]
		if !ok {
			return errors.Errorf("transit gateway peering %q was not created", route.Peering)
		}
		if err := transit.CreateTransitGatewayRoute(ctx, state.region, state.id, route.Destination, attachmentId); err != nil {
			return err
		}
	}
	return nil
}

func (p *provisioner) createVpcPeering(ctx context.Context, peering lab.VpcPeering) error {
	requester, accepter := p.vpcs[peering.Requester], p.vpcs[peering.Accepter]
	peeringId, err := transit.CreateVpcPeering(ctx, requester.region, requester.id, accepter.region, accepter.id, p.resourceTags(peering.Name), p.opts.Poller)
	if peeringId != "" {
		p.vpcPeerings[peering.Name] = peeringId
		p.outputs.Add(lab.Record{Region: requester.region, Kind: lab.KindVpcPeeringConnection, Name: peering.Name, Id: peeringId})
	}
	if err != nil || !peering.Routes {
		return err
	}

	target := network.RouteTarget{VpcPeeringConnectionId: peeringId}
	if err = network.CreateRoute(ctx, requester.region, requester.mainRouteTableId, accepter.cidr, target); err != nil {
		return err
	}
	return network.CreateRoute(ctx, accepter.region, accepter.mainRouteTableId, requester.cidr, target)
}

func (p *provisioner) createDeferredRoutes(ctx context.Context) error {
	for _, deferred := range p.deferred {
		kind, name, err := deferred.route.ParseTarget()
		if err != nil {
			return err
		}
		var target network.RouteTarget
		switch kind {
		case lab.TargetTransitGateway:
			tgw, ok := p.tgws[name]
			if !ok {
				return errors.Errorf("transit gateway %q was not created", name)
			}
			target.TransitGatewayId = tgw.id
		case lab.TargetPeering:
			peeringId, ok := p.vpcPeerings[name]
			if !ok {
				return errors.Errorf("vpc peering %q was not created", name)
			}
			target.VpcPeeringConnectionId = peeringId
		}
		log.Debug().Msgf("adding deferred route %s via %s", deferred.route.Destination, target)
		if err = network.CreateRoute(ctx, deferred.region, deferred.routeTableId, deferred.route.Destination, target); err != nil {
			return err
		}
	}
	return nil
}
