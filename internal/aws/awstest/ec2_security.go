package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
)

type securityGroupRecord struct {
	region string
	group  *ec2.SecurityGroup
}

type networkAclRecord struct {
	region string
	acl    *ec2.NetworkAcl
}

// splitPermissions breaks permissions down to one source each, so that
// authorize and revoke can compare them.
func splitPermissions(permissions []*ec2.IpPermission) (split []*ec2.IpPermission) {
	for _, p := range permissions {
		for _, r := range p.IpRanges {
			split = append(split, &ec2.IpPermission{
				IpProtocol: p.IpProtocol,
				FromPort:   p.FromPort,
				ToPort:     p.ToPort,
				IpRanges:   []*ec2.IpRange{{CidrIp: r.CidrIp}},
			})
		}
		for _, pair := range p.UserIdGroupPairs {
			split = append(split, &ec2.IpPermission{
				IpProtocol:       p.IpProtocol,
				FromPort:         p.FromPort,
				ToPort:           p.ToPort,
				UserIdGroupPairs: []*ec2.UserIdGroupPair{{GroupId: pair.GroupId}},
			})
		}
	}
	return
}

func permissionKey(p *ec2.IpPermission) string {
	source := ""
	if len(p.IpRanges) > 0 {
		source = aws.StringValue(p.IpRanges[0].CidrIp)
	}
	if len(p.UserIdGroupPairs) > 0 {
		source = aws.StringValue(p.UserIdGroupPairs[0].GroupId)
	}
	return fmt.Sprintf("%s/%d/%d/%s", aws.StringValue(p.IpProtocol), aws.Int64Value(p.FromPort), aws.Int64Value(p.ToPort), source)
}

func indexPermission(permissions []*ec2.IpPermission, p *ec2.IpPermission) int {
	key := permissionKey(p)
	for i, existing := range permissions {
		if permissionKey(existing) == key {
			return i
		}
	}
	return -1
}

func referencesGroup(permissions []*ec2.IpPermission, groupId string) bool {
	for _, p := range permissions {
		for _, pair := range p.UserIdGroupPairs {
			if aws.StringValue(pair.GroupId) == groupId {
				return true
			}
		}
	}
	return false
}

func (c *Cloud) securityGroup(region, groupId string) (*securityGroupRecord, error) {
	r, ok := c.securityGroups[groupId]
	if !ok || r.region != region {
		return nil, notFound("InvalidGroup.NotFound", groupId)
	}
	return r, nil
}

func (e *EC2) CreateSecurityGroupWithContext(_ aws.Context, in *ec2.CreateSecurityGroupInput, _ ...request.Option) (*ec2.CreateSecurityGroupOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateSecurityGroup"); err != nil {
		return nil, err
	}
	vpcId := aws.StringValue(in.VpcId)
	if vpc, ok := c.vpcs[vpcId]; !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", vpcId)
	}
	for _, r := range c.securityGroups {
		if aws.StringValue(r.group.VpcId) == vpcId && aws.StringValue(r.group.GroupName) == aws.StringValue(in.GroupName) {
			return nil, apiError("InvalidGroup.Duplicate", "the security group '%s' already exists for vpc '%s'", aws.StringValue(in.GroupName), vpcId)
		}
	}

	groupId := c.nextId("sg")
	c.securityGroups[groupId] = &securityGroupRecord{region: e.region, group: &ec2.SecurityGroup{
		GroupId:     aws.String(groupId),
		GroupName:   in.GroupName,
		Description: in.Description,
		VpcId:       in.VpcId,
		OwnerId:     aws.String(c.AccountId),
		IpPermissionsEgress: []*ec2.IpPermission{{
			IpProtocol: aws.String("-1"),
			IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
		Tags: tagsFromSpecs(in.TagSpecifications),
	}}
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(groupId)}, nil
}

func (e *EC2) AuthorizeSecurityGroupIngressWithContext(_ aws.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...request.Option) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "AuthorizeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	r, err := c.securityGroup(e.region, aws.StringValue(in.GroupId))
	if err != nil {
		return nil, err
	}
	permissions := splitPermissions(in.IpPermissions)
	for _, p := range permissions {
		for _, pair := range p.UserIdGroupPairs {
			if _, err := c.securityGroup(e.region, aws.StringValue(pair.GroupId)); err != nil {
				return nil, err
			}
		}
		if indexPermission(r.group.IpPermissions, p) >= 0 {
			return nil, apiError("InvalidPermission.Duplicate", "the specified rule %s already exists", permissionKey(p))
		}
	}
	r.group.IpPermissions = append(r.group.IpPermissions, permissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func revoke(existing []*ec2.IpPermission, permissions []*ec2.IpPermission) ([]*ec2.IpPermission, error) {
	existing = append([]*ec2.IpPermission(nil), existing...)
	for _, p := range splitPermissions(permissions) {
		i := indexPermission(existing, p)
		if i < 0 {
			return nil, apiError("InvalidPermission.NotFound", "the specified rule %s does not exist", permissionKey(p))
		}
		existing = append(existing[:i], existing[i+1:]...)
	}
	return existing, nil
}

func (e *EC2) RevokeSecurityGroupIngressWithContext(_ aws.Context, in *ec2.RevokeSecurityGroupIngressInput, _ ...request.Option) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "RevokeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	r, err := c.securityGroup(e.region, aws.StringValue(in.GroupId))
	if err != nil {
		return nil, err
	}
	kept, err := revoke(r.group.IpPermissions, in.IpPermissions)
	if err != nil {
		return nil, err
	}
	r.group.IpPermissions = kept
	return &ec2.RevokeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func (e *EC2) RevokeSecurityGroupEgressWithContext(_ aws.Context, in *ec2.RevokeSecurityGroupEgressInput, _ ...request.Option) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "RevokeSecurityGroupEgress"); err != nil {
		return nil, err
	}
	r, err := c.securityGroup(e.region, aws.StringValue(in.GroupId))
	if err != nil {
		return nil, err
	}
	kept, err := revoke(r.group.IpPermissionsEgress, in.IpPermissions)
	if err != nil {
		return nil, err
	}
	r.group.IpPermissionsEgress = kept
	return &ec2.RevokeSecurityGroupEgressOutput{Return: aws.Bool(true)}, nil
}

func (e *EC2) DescribeSecurityGroupsWithContext(_ aws.Context, in *ec2.DescribeSecurityGroupsInput, _ ...request.Option) (*ec2.DescribeSecurityGroupsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeSecurityGroups"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.GroupIds, c.securityGroups); ok {
		return nil, notFound("InvalidGroup.NotFound", id)
	}

	output := &ec2.DescribeSecurityGroupsOutput{}
	for _, id := range sortedKeys(c.securityGroups) {
		r := c.securityGroups[id]
		if r.region != e.region || !wanted(in.GroupIds, id) {
			continue
		}
		ok, err := matchFilters(in.Filters, attrs{
			"group-id":   {id},
			"group-name": {aws.StringValue(r.group.GroupName)},
			"vpc-id":     {aws.StringValue(r.group.VpcId)},
		}, r.group.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.SecurityGroups = append(output.SecurityGroups, awsutil.CopyOf(r.group).(*ec2.SecurityGroup))
		}
	}
	return output, nil
}

func (c *Cloud) securityGroupDependency(groupId string) string {
	for id, r := range c.securityGroups {
		if id != groupId && (referencesGroup(r.group.IpPermissions, groupId) || referencesGroup(r.group.IpPermissionsEgress, groupId)) {
			return id
		}
	}
	for id, r := range c.instances {
		if isTerminated(r.instance) {
			continue
		}
		for _, group := range r.instance.SecurityGroups {
			if aws.StringValue(group.GroupId) == groupId {
				return id
			}
		}
	}
	for arn, r := range c.loadBalancers {
		for _, group := range r.lb.SecurityGroups {
			if aws.StringValue(group) == groupId {
				return arn
			}
		}
	}
	return ""
}

func (e *EC2) DeleteSecurityGroupWithContext(_ aws.Context, in *ec2.DeleteSecurityGroupInput, _ ...request.Option) (*ec2.DeleteSecurityGroupOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteSecurityGroup"); err != nil {
		return nil, err
	}
	groupId := aws.StringValue(in.GroupId)
	r, err := c.securityGroup(e.region, groupId)
	if err != nil {
		return nil, err
	}
	if aws.StringValue(r.group.GroupName) == "default" {
		return nil, apiError("CannotDelete", "the default security group %s cannot be deleted", groupId)
	}
	if dependency := c.securityGroupDependency(groupId); dependency != "" {
		return nil, apiError("DependencyViolation", "resource %s has a dependent object (%s)", groupId, dependency)
	}
	delete(c.securityGroups, groupId)
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func removeAclAssociations(associations []*ec2.NetworkAclAssociation, subnetId string) (kept []*ec2.NetworkAclAssociation) {
	for _, association := range associations {
		if aws.StringValue(association.SubnetId) != subnetId {
			kept = append(kept, association)
		}
	}
	return
}

func (c *Cloud) networkAcl(region, aclId string) (*networkAclRecord, error) {
	r, ok := c.networkAcls[aclId]
	if !ok || r.region != region {
		return nil, notFound("InvalidNetworkAclID.NotFound", aclId)
	}
	return r, nil
}

func (e *EC2) CreateNetworkAclWithContext(_ aws.Context, in *ec2.CreateNetworkAclInput, _ ...request.Option) (*ec2.CreateNetworkAclOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateNetworkAcl"); err != nil {
		return nil, err
	}
	if vpc, ok := c.vpcs[aws.StringValue(in.VpcId)]; !ok || vpc.region != e.region {
		return nil, notFound("InvalidVpcID.NotFound", aws.StringValue(in.VpcId))
	}
	aclId := c.nextId("acl")
	acl := &ec2.NetworkAcl{
		NetworkAclId: aws.String(aclId),
		VpcId:        in.VpcId,
		IsDefault:    aws.Bool(false),
		OwnerId:      aws.String(c.AccountId),
		Tags:         tagsFromSpecs(in.TagSpecifications),
	}
	c.networkAcls[aclId] = &networkAclRecord{region: e.region, acl: acl}
	return &ec2.CreateNetworkAclOutput{NetworkAcl: awsutil.CopyOf(acl).(*ec2.NetworkAcl)}, nil
}

func (e *EC2) CreateNetworkAclEntryWithContext(_ aws.Context, in *ec2.CreateNetworkAclEntryInput, _ ...request.Option) (*ec2.CreateNetworkAclEntryOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "CreateNetworkAclEntry"); err != nil {
		return nil, err
	}
	r, err := c.networkAcl(e.region, aws.StringValue(in.NetworkAclId))
	if err != nil {
		return nil, err
	}
	for _, entry := range r.acl.Entries {
		if aws.Int64Value(entry.RuleNumber) == aws.Int64Value(in.RuleNumber) && aws.BoolValue(entry.Egress) == aws.BoolValue(in.Egress) {
			return nil, apiError("NetworkAclEntryAlreadyExists", "the network acl entry identified by %d already exists", aws.Int64Value(in.RuleNumber))
		}
	}
	r.acl.Entries = append(r.acl.Entries, &ec2.NetworkAclEntry{
		RuleNumber:   in.RuleNumber,
		Protocol:     in.Protocol,
		RuleAction:   in.RuleAction,
		Egress:       in.Egress,
		CidrBlock:    in.CidrBlock,
		PortRange:    in.PortRange,
		IcmpTypeCode: in.IcmpTypeCode,
	})
	return &ec2.CreateNetworkAclEntryOutput{}, nil
}

func (e *EC2) DescribeNetworkAclsWithContext(_ aws.Context, in *ec2.DescribeNetworkAclsInput, _ ...request.Option) (*ec2.DescribeNetworkAclsOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DescribeNetworkAcls"); err != nil {
		return nil, err
	}
	if id, ok := missing(in.NetworkAclIds, c.networkAcls); ok {
		return nil, notFound("InvalidNetworkAclID.NotFound", id)
	}

	output := &ec2.DescribeNetworkAclsOutput{}
	for _, id := range sortedKeys(c.networkAcls) {
		r := c.networkAcls[id]
		if r.region != e.region || !wanted(in.NetworkAclIds, id) {
			continue
		}
		var subnetIds []string
		for _, association := range r.acl.Associations {
			subnetIds = append(subnetIds, aws.StringValue(association.SubnetId))
		}
		ok, err := matchFilters(in.Filters, attrs{
			"network-acl-id":        {id},
			"vpc-id":                {aws.StringValue(r.acl.VpcId)},
			"default":               boolAttr(aws.BoolValue(r.acl.IsDefault)),
			"association.subnet-id": subnetIds,
		}, r.acl.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			output.NetworkAcls = append(output.NetworkAcls, awsutil.CopyOf(r.acl).(*ec2.NetworkAcl))
		}
	}
	return output, nil
}

func (e *EC2) ReplaceNetworkAclAssociationWithContext(_ aws.Context, in *ec2.ReplaceNetworkAclAssociationInput, _ ...request.Option) (*ec2.ReplaceNetworkAclAssociationOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "ReplaceNetworkAclAssociation"); err != nil {
		return nil, err
	}
	target, err := c.networkAcl(e.region, aws.StringValue(in.NetworkAclId))
	if err != nil {
		return nil, err
	}
	associationId := aws.StringValue(in.AssociationId)
	for _, r := range c.networkAcls {
		if r.region != e.region {
			continue
		}
		for _, association := range r.acl.Associations {
			if aws.StringValue(association.NetworkAclAssociationId) != associationId {
				continue
			}
			if aws.StringValue(target.acl.VpcId) != aws.StringValue(r.acl.VpcId) {
				return nil, apiError("InvalidParameterValue", "network acl %s belongs to another vpc", aws.StringValue(in.NetworkAclId))
			}
			subnetId := aws.StringValue(association.SubnetId)
			r.acl.Associations = removeAclAssociations(r.acl.Associations, subnetId)
			newId := c.nextId("aclassoc")
			target.acl.Associations = append(target.acl.Associations, &ec2.NetworkAclAssociation{
				NetworkAclAssociationId: aws.String(newId),
				NetworkAclId:            in.NetworkAclId,
				SubnetId:                aws.String(subnetId),
			})
			return &ec2.ReplaceNetworkAclAssociationOutput{NewAssociationId: aws.String(newId)}, nil
		}
	}
	return nil, notFound("InvalidAssociationID.NotFound", associationId)
}

func (e *EC2) DeleteNetworkAclWithContext(_ aws.Context, in *ec2.DeleteNetworkAclInput, _ ...request.Option) (*ec2.DeleteNetworkAclOutput, error) {
	c := e.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(e.region, "DeleteNetworkAcl"); err != nil {
		return nil, err
	}
	aclId := aws.StringValue(in.NetworkAclId)
	r, err := c.networkAcl(e.region, aclId)
	if err != nil {
		return nil, err
	}
	if aws.BoolValue(r.acl.IsDefault) {
		return nil, apiError("InvalidParameterValue", "cannot delete default network acl %s", aclId)
	}
	if len(r.acl.Associations) > 0 {
		return nil, apiError("DependencyViolation", "the network acl '%s' has dependencies and cannot be deleted", aclId)
	}
	delete(c.networkAcls, aclId)
	return &ec2.DeleteNetworkAclOutput{}, nil
}
