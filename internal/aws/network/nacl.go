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

func CreateNetworkAcl(ctx context.Context, region, vpcId string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateNetworkAclWithContext(ctx, &ec2.CreateNetworkAclInput{
		VpcId:             aws.String(vpcId),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeNetworkAcl),
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating network acl in %s", vpcId)
	}
	aclId := *output.NetworkAcl.NetworkAclId
	log.Info().Str("region", region).Msgf("created network acl %s", aclId)
	return aclId, nil
}

func CreateNetworkAclEntry(ctx context.Context, region, aclId string, entry lab.AclEntry) error {
	svc := connectors.GetAWSSession(region).EC2
	protocol, err := lab.ProtocolNumber(entry.Protocol)
	if err != nil {
		return err
	}
	input := &ec2.CreateNetworkAclEntryInput{
		NetworkAclId: aws.String(aclId),
		RuleNumber:   aws.Int64(entry.Rule),
		Protocol:     aws.String(protocol),
		RuleAction:   aws.String(entry.Action),
		Egress:       aws.Bool(entry.Egress),
		CidrBlock:    aws.String(entry.Cidr),
	}
	switch protocol {
	case "6", "17":
		from, to := entry.PortRange()
		input.PortRange = &ec2.PortRange{From: aws.Int64(from), To: aws.Int64(to)}
	case "1":
		input.IcmpTypeCode = &ec2.IcmpTypeCode{Type: aws.Int64(-1), Code: aws.Int64(-1)}
	}

	_, err = svc.CreateNetworkAclEntryWithContext(ctx, input)
	return errors.Wrapf(common.IgnoreAlreadyExists(err), "creating rule %d on %s", entry.Rule, aclId)
}

func getNetworkAcls(ctx context.Context, region string, filters ...*ec2.Filter) (acls []*ec2.NetworkAcl, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeNetworkAclsOutput
		output, err = svc.DescribeNetworkAclsWithContext(ctx, &ec2.DescribeNetworkAclsInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		acls = append(acls, output.NetworkAcls...)
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// GetCustomNetworkAcls lists the non-default network ACLs of the VPCs.
func GetCustomNetworkAcls(ctx context.Context, region string, vpcIds []string) ([]*ec2.NetworkAcl, error) {
	if len(vpcIds) == 0 {
		return nil, nil
	}
	return getNetworkAcls(ctx, region, common.Filter("vpc-id", vpcIds...), common.Filter("default", "false"))
}

func GetDefaultNetworkAclId(ctx context.Context, region, vpcId string) (string, error) {
	acls, err := getNetworkAcls(ctx, region, common.Filter("vpc-id", vpcId), common.Filter("default", "true"))
	if err != nil {
		return "", err
	}
	if len(acls) == 0 {
		return "", &common.MissingError{Kind: "default network acl", Id: vpcId}
	}
	return *acls[0].NetworkAclId, nil
}

// AssociateNetworkAcl moves a subnet to the given ACL. Every subnet is always
// associated with exactly one ACL, so the existing association is replaced.
func AssociateNetworkAcl(ctx context.Context, region, aclId, subnetId string) error {
	svc := connectors.GetAWSSession(region).EC2
	acls, err := getNetworkAcls(ctx, region, common.Filter("association.subnet-id", subnetId))
	if err != nil {
		return err
	}
	for _, acl := range acls {
		for _, association := range acl.Associations {
			if aws.StringValue(association.SubnetId) != subnetId {
				continue
			}
			_, err = svc.ReplaceNetworkAclAssociationWithContext(ctx, &ec2.ReplaceNetworkAclAssociationInput{
				AssociationId: association.NetworkAclAssociationId,
				NetworkAclId:  aws.String(aclId),
			})
			return errors.Wrapf(err, "associating %s with %s", aclId, subnetId)
		}
	}
	return errors.Errorf("subnet %s has no network acl association", subnetId)
}

// DeleteNetworkAcl hands the ACL's subnets back to the VPC default ACL and deletes it.
func DeleteNetworkAcl(ctx context.Context, region string, acl *ec2.NetworkAcl, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	aclId := *acl.NetworkAclId

	if len(acl.Associations) > 0 {
		defaultAclId, err := GetDefaultNetworkAclId(ctx, region, *acl.VpcId)
		if err != nil {
			return err
		}
		for _, association := range acl.Associations {
			_, err = svc.ReplaceNetworkAclAssociationWithContext(ctx, &ec2.ReplaceNetworkAclAssociationInput{
				AssociationId: association.NetworkAclAssociationId,
				NetworkAclId:  aws.String(defaultAclId),
			})
			if err = common.IgnoreNotFound(err); err != nil {
				return errors.Wrapf(err, "restoring default acl on %s", aws.StringValue(association.SubnetId))
			}
		}
	}

	return common.DeleteWithRetry(ctx, poller, "deleting network acl "+aclId, func() error {
		_, err := svc.DeleteNetworkAclWithContext(ctx, &ec2.DeleteNetworkAclInput{NetworkAclId: acl.NetworkAclId})
		return err
	})
}
