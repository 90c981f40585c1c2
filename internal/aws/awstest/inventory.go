package awstest

import (
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
)

// Live lists the ids of everything that still exists and is not in a
// terminal state, sorted. Hosted zones themselves are not included, their
// records are.
func (c *Cloud) Live() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	ids = append(ids, sortedKeys(c.vpcs)...)
	ids = append(ids, sortedKeys(c.subnets)...)
	ids = append(ids, sortedKeys(c.internetGateways)...)
	ids = append(ids, sortedKeys(c.addresses)...)
	ids = append(ids, sortedKeys(c.routeTables)...)
	ids = append(ids, sortedKeys(c.securityGroups)...)
	ids = append(ids, sortedKeys(c.networkAcls)...)
	for id, r := range c.natGateways {
		if aws.StringValue(r.nat.State) != ec2.NatGatewayStateDeleted {
			ids = append(ids, id)
		}
	}
	for id, r := range c.instances {
		if !isTerminated(r.instance) {
			ids = append(ids, id)
		}
	}
	for id, r := range c.transitGateways {
		if aws.StringValue(r.tgw.State) != ec2.TransitGatewayStateDeleted {
			ids = append(ids, id)
		}
	}
	for id, r := range c.vpcAttachments {
		if !isGoneAttachment(r.attachment.State) {
			ids = append(ids, id)
		}
	}
	for id, r := range c.peeringAttachments {
		if !isGoneAttachment(r.attachment.State) {
			ids = append(ids, id)
		}
	}
	for id, r := range c.vpcPeerings {
		if isLivePeering(r.peering) {
			ids = append(ids, id)
		}
	}
	ids = append(ids, sortedKeys(c.loadBalancers)...)
	ids = append(ids, sortedKeys(c.targetGroups)...)
	ids = append(ids, sortedKeys(c.listeners)...)
	ids = append(ids, sortedKeys(c.webAcls)...)
	for _, zone := range c.hostedZones {
		ids = append(ids, sortedKeys(zone.records)...)
	}
	sort.Strings(ids)
	return ids
}

// Tags returns the tags of an EC2 resource as a map, nil if it is unknown.
func (c *Cloud) Tags(id string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tags []*ec2.Tag
	switch {
	case c.vpcs[id] != nil:
		tags = c.vpcs[id].vpc.Tags
	case c.subnets[id] != nil:
		tags = c.subnets[id].subnet.Tags
	case c.internetGateways[id] != nil:
		tags = c.internetGateways[id].igw.Tags
	case c.addresses[id] != nil:
		tags = c.addresses[id].address.Tags
	case c.natGateways[id] != nil:
		tags = c.natGateways[id].nat.Tags
	case c.routeTables[id] != nil:
		tags = c.routeTables[id].table.Tags
	case c.securityGroups[id] != nil:
		tags = c.securityGroups[id].group.Tags
	case c.networkAcls[id] != nil:
		tags = c.networkAcls[id].acl.Tags
	case c.instances[id] != nil:
		tags = c.instances[id].instance.Tags
	case c.transitGateways[id] != nil:
		tags = c.transitGateways[id].tgw.Tags
	case c.vpcAttachments[id] != nil:
		tags = c.vpcAttachments[id].attachment.Tags
	case c.peeringAttachments[id] != nil:
		tags = c.peeringAttachments[id].attachment.Tags
	case c.vpcPeerings[id] != nil:
		tags = c.vpcPeerings[id].peering.Tags
	default:
		return nil
	}
	m := map[string]string{}
	for _, tag := range tags {
		m[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	return m
}

// Routes returns the destination and target of every route of a route table.
func (c *Cloud) Routes(rtbId string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routeTables[rtbId]
	if !ok {
		return nil
	}
	routes := map[string]string{}
	for _, route := range r.table.Routes {
		target := route.GatewayId
		for _, t := range []*string{route.NatGatewayId, route.TransitGatewayId, route.VpcPeeringConnectionId} {
			if t != nil {
				target = t
			}
		}
		routes[aws.StringValue(route.DestinationCidrBlock)] = aws.StringValue(target)
	}
	return routes
}
