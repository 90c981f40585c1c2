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

func CreateVpc(ctx context.Context, region, cidr string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateVpcWithContext(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(cidr),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeVpc),
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating vpc %s", cidr)
	}
	vpcId := *output.Vpc.VpcId
	log.Info().Str("region", region).Msgf("created vpc %s (%s)", vpcId, cidr)
	return vpcId, nil
}

func WaitForVpcAvailable(ctx context.Context, region, vpcId string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return poller.WaitFor(ctx, "vpc "+vpcId, func() (bool, error) {
		output, err := svc.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{
			VpcIds: []*string{aws.String(vpcId)},
		})
		if err != nil {
			if common.IsNotFound(err) {
				// not visible yet
				return false, nil
			}
			return false, err
		}
		return len(output.Vpcs) > 0 && aws.StringValue(output.Vpcs[0].State) == ec2.VpcStateAvailable, nil
	})
}

// EnableVpcDns turns on DNS resolution and DNS hostnames. The API accepts
// one attribute per call.
func EnableVpcDns(ctx context.Context, region, vpcId string) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.ModifyVpcAttributeWithContext(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            aws.String(vpcId),
		EnableDnsSupport: &ec2.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	if err != nil {
		return errors.Wrapf(err, "enabling dns support on %s", vpcId)
	}
	_, err = svc.ModifyVpcAttributeWithContext(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(vpcId),
		EnableDnsHostnames: &ec2.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	return errors.Wrapf(err, "enabling dns hostnames on %s", vpcId)
}

func DeleteVpc(ctx context.Context, region, vpcId string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return common.DeleteWithRetry(ctx, poller, "deleting vpc "+vpcId, func() error {
		_, err := svc.DeleteVpcWithContext(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(vpcId)})
		return err
	})
}

// ResolveVpcIds finds the VPCs of a lab, or the ones matching a Name tag.
func ResolveVpcIds(ctx context.Context, region string, labName lab.LabName, vpcName string) (vpcIds []string, err error) {
	var filters []*ec2.Filter
	if labName != "" {
		filters = append(filters, common.LabFilter(labName))
	}
	if vpcName != "" {
		filters = append(filters, common.TagFilter(lab.NameTagKey, vpcName))
	}
	if len(filters) == 0 {
		return nil, nil
	}
	vpcs, err := common.GetVpcs(ctx, region, filters...)
	if err != nil {
		return
	}
	for _, vpc := range vpcs {
		vpcIds = append(vpcIds, *vpc.VpcId)
	}
	return
}

// ExistingVpcIds keeps the given VPC ids that exist in the region.
func ExistingVpcIds(ctx context.Context, region string, vpcIds []string) (existing []string, err error) {
	if len(vpcIds) == 0 {
		return
	}
	vpcs, err := common.GetVpcs(ctx, region, common.Filter("vpc-id", vpcIds...))
	if err != nil {
		return
	}
	for _, vpc := range vpcs {
		existing = append(existing, *vpc.VpcId)
	}
	return
}
