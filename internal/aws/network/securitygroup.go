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

const DefaultSecurityGroupName = "default"

func CreateSecurityGroup(ctx context.Context, region, vpcId, name, description string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	if description == "" {
		description = name
	}
	output, err := svc.CreateSecurityGroupWithContext(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String(description),
		VpcId:             aws.String(vpcId),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeSecurityGroup),
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating security group %s in %s", name, vpcId)
	}
	groupId := *output.GroupId
	log.Info().Str("region", region).Msgf("created security group %s (%s)", groupId, name)
	return groupId, nil
}

// IngressPermission translates a rule. sourceGroupId is used when the rule
// references another group instead of a CIDR.
func IngressPermission(rule lab.Rule, sourceGroupId string) (*ec2.IpPermission, error) {
	protocol, err := lab.SecurityGroupProtocol(rule.Protocol)
	if err != nil {
		return nil, err
	}
	from, to := rule.PortRange()
	permission := &ec2.IpPermission{
		IpProtocol: aws.String(protocol),
		FromPort:   aws.Int64(from),
		ToPort:     aws.Int64(to),
	}
	if sourceGroupId != "" {
		permission.UserIdGroupPairs = []*ec2.UserIdGroupPair{{GroupId: aws.String(sourceGroupId)}}
	} else {
		permission.IpRanges = []*ec2.IpRange{{CidrIp: aws.String(rule.Cidr)}}
	}
	return permission, nil
}

func AuthorizeIngress(ctx context.Context, region, groupId string, permissions []*ec2.IpPermission) error {
	if len(permissions) == 0 {
		return nil
	}
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.AuthorizeSecurityGroupIngressWithContext(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupId),
		IpPermissions: permissions,
	})
	return errors.Wrapf(common.IgnoreAlreadyExists(err), "authorizing ingress on %s", groupId)
}

// GetSecurityGroups lists the VPCs' groups except the undeletable default ones.
func GetSecurityGroups(ctx context.Context, region string, vpcIds []string) (groups []*ec2.SecurityGroup, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeSecurityGroupsOutput
		output, err = svc.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters:   []*ec2.Filter{common.Filter("vpc-id", vpcIds...)},
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		for _, group := range output.SecurityGroups {
			if aws.StringValue(group.GroupName) != DefaultSecurityGroupName {
				groups = append(groups, group)
			}
		}
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

func groupReferences(permissions []*ec2.IpPermission) (refs []*ec2.IpPermission) {
	for _, p := range permissions {
		if len(p.UserIdGroupPairs) > 0 {
			refs = append(refs, &ec2.IpPermission{
				IpProtocol:       p.IpProtocol,
				FromPort:         p.FromPort,
				ToPort:           p.ToPort,
				UserIdGroupPairs: p.UserIdGroupPairs,
			})
		}
	}
	return
}

// RevokeGroupReferences removes every rule that names another security group,
// so that groups referencing each other can be deleted in any order.
func RevokeGroupReferences(ctx context.Context, region string, group *ec2.SecurityGroup) error {
	svc := connectors.GetAWSSession(region).EC2

	if ingress := groupReferences(group.IpPermissions); len(ingress) > 0 {
		_, err := svc.RevokeSecurityGroupIngressWithContext(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       group.GroupId,
			IpPermissions: ingress,
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "revoking ingress references on %s", *group.GroupId)
		}
	}
	if egress := groupReferences(group.IpPermissionsEgress); len(egress) > 0 {
		_, err := svc.RevokeSecurityGroupEgressWithContext(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       group.GroupId,
			IpPermissions: egress,
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "revoking egress references on %s", *group.GroupId)
		}
	}
	return nil
}

func DeleteSecurityGroup(ctx context.Context, region, groupId string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return common.DeleteWithRetry(ctx, poller, "deleting security group "+groupId, func() error {
		_, err := svc.DeleteSecurityGroupWithContext(ctx, &ec2.DeleteSecurityGroupInput{
			GroupId: aws.String(groupId),
		})
		return err
	})
}
