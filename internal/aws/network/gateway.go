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

func CreateInternetGateway(ctx context.Context, region, vpcId string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateInternetGatewayWithContext(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeInternetGateway),
	})
	if err != nil {
		return "", errors.Wrap(err, "creating internet gateway")
	}
	igwId := *output.InternetGateway.InternetGatewayId

	_, err = svc.AttachInternetGatewayWithContext(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(igwId),
		VpcId:             aws.String(vpcId),
	})
	if err != nil {
		return igwId, errors.Wrapf(err, "attaching %s to %s", igwId, vpcId)
	}
	log.Info().Str("region", region).Msgf("created internet gateway %s attached to %s", igwId, vpcId)
	return igwId, nil
}

func GetInternetGateways(ctx context.Context, region string, vpcIds []string) ([]*ec2.InternetGateway, error) {
	if len(vpcIds) == 0 {
		return nil, nil
	}
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeInternetGatewaysWithContext(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []*ec2.Filter{common.Filter("attachment.vpc-id", vpcIds...)},
	})
	if err != nil {
		return nil, err
	}
	return output.InternetGateways, nil
}

// GetInternetGatewayId returns the gateway attached to the VPC, or "" when there is none.
func GetInternetGatewayId(ctx context.Context, region, vpcId string) (string, error) {
	gateways, err := GetInternetGateways(ctx, region, []string{vpcId})
	if err != nil || len(gateways) == 0 {
		return "", err
	}
	return *gateways[0].InternetGatewayId, nil
}

func DeleteInternetGateway(ctx context.Context, region string, igw *ec2.InternetGateway, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	igwId := *igw.InternetGatewayId

	for _, attachment := range igw.Attachments {
		err := common.DeleteWithRetry(ctx, poller, "detaching "+igwId, func() error {
			_, err := svc.DetachInternetGatewayWithContext(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: igw.InternetGatewayId,
				VpcId:             attachment.VpcId,
			})
			return err
		})
		if err != nil {
			return err
		}
	}

	_, err := svc.DeleteInternetGatewayWithContext(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: igw.InternetGatewayId,
	})
	return common.IgnoreNotFound(err)
}

func AllocateAddress(ctx context.Context, region string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.AllocateAddressWithContext(ctx, &ec2.AllocateAddressInput{
		Domain:            aws.String(ec2.DomainTypeVpc),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeElasticIp),
	})
	if err != nil {
		return "", errors.Wrap(err, "allocating elastic ip")
	}
	return *output.AllocationId, nil
}

func ReleaseAddress(ctx context.Context, region, allocationId string) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.ReleaseAddressWithContext(ctx, &ec2.ReleaseAddressInput{
		AllocationId: aws.String(allocationId),
	})
	if err == nil {
		log.Info().Str("region", region).Msgf("released elastic ip %s", allocationId)
	}
	return common.IgnoreNotFound(err)
}

// GetUnassociatedLabAddresses lists elastic ips tagged for the lab that nothing uses.
func GetUnassociatedLabAddresses(ctx context.Context, region string, labName lab.LabName) (allocationIds []string, err error) {
	if labName == "" {
		return
	}
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeAddressesWithContext(ctx, &ec2.DescribeAddressesInput{
		Filters: []*ec2.Filter{common.LabFilter(labName)},
	})
	if err != nil {
		return
	}
	for _, address := range output.Addresses {
		if address.AssociationId == nil {
			allocationIds = append(allocationIds, *address.AllocationId)
		}
	}
	return
}

func CreateNatGateway(ctx context.Context, region, subnetId, allocationId string, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.CreateNatGatewayWithContext(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:          aws.String(subnetId),
		AllocationId:      aws.String(allocationId),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeNatgateway),
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating nat gateway in %s", subnetId)
	}
	natId := *output.NatGateway.NatGatewayId
	log.Info().Str("region", region).Msgf("created nat gateway %s in %s", natId, subnetId)
	return natId, nil
}

func waitForNatGatewayState(ctx context.Context, region, natId, state string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return poller.WaitFor(ctx, "nat gateway "+natId+" "+state, func() (bool, error) {
		output, err := svc.DescribeNatGatewaysWithContext(ctx, &ec2.DescribeNatGatewaysInput{
			NatGatewayIds: []*string{aws.String(natId)},
		})
		if err != nil {
			if common.IsNotFound(err) {
				return state == ec2.NatGatewayStateDeleted, nil
			}
			return false, err
		}
		if len(output.NatGateways) == 0 {
			return state == ec2.NatGatewayStateDeleted, nil
		}
		current := aws.StringValue(output.NatGateways[0].State)
		if current == ec2.NatGatewayStateFailed && state != ec2.NatGatewayStateDeleted {
			return false, errors.Errorf("nat gateway %s failed: %s", natId, aws.StringValue(output.NatGateways[0].FailureMessage))
		}
		return current == state, nil
	})
}

func WaitForNatGatewayAvailable(ctx context.Context, region, natId string, poller lab.Poller) error {
	return waitForNatGatewayState(ctx, region, natId, ec2.NatGatewayStateAvailable, poller)
}

// GetNatGateways lists the NAT gateways of the VPCs that are not deleted yet.
func GetNatGateways(ctx context.Context, region string, vpcIds []string) (natGateways []*ec2.NatGateway, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeNatGatewaysOutput
		output, err = svc.DescribeNatGatewaysWithContext(ctx, &ec2.DescribeNatGatewaysInput{
			Filter: []*ec2.Filter{
				common.Filter("vpc-id", vpcIds...),
				common.Filter("state", ec2.NatGatewayStatePending, ec2.NatGatewayStateAvailable, ec2.NatGatewayStateDeleting),
			},
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		natGateways = append(natGateways, output.NatGateways...)
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

// DeleteNatGateway deletes the gateway, waits until it is gone and releases
// the elastic ips it held.
func DeleteNatGateway(ctx context.Context, region string, natGateway *ec2.NatGateway, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	natId := *natGateway.NatGatewayId

	if aws.StringValue(natGateway.State) != ec2.NatGatewayStateDeleting {
		_, err := svc.DeleteNatGatewayWithContext(ctx, &ec2.DeleteNatGatewayInput{
			NatGatewayId: natGateway.NatGatewayId,
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "deleting nat gateway %s", natId)
		}
	}

	err := waitForNatGatewayState(ctx, region, natId, ec2.NatGatewayStateDeleted, poller)
	if err != nil {
		return err
	}
	log.Info().Str("region", region).Msgf("deleted nat gateway %s", natId)

	for _, address := range natGateway.NatGatewayAddresses {
		if address.AllocationId == nil {
			continue
		}
		if err = ReleaseAddress(ctx, region, *address.AllocationId); err != nil {
			return errors.Wrapf(err, "releasing %s of %s", *address.AllocationId, natId)
		}
	}
	return nil
}
