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

func GetAvailabilityZones(ctx context.Context, region string) (zones []string, err error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeAvailabilityZonesWithContext(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []*ec2.Filter{common.Filter("state", "available")},
	})
	if err != nil {
		return
	}
	for _, zone := range output.AvailabilityZones {
		zones = append(zones, *zone.ZoneName)
	}
	return
}

// ZoneFor picks an explicit zone or the zone at index among the available ones.
func ZoneFor(subnet lab.Subnet, zones []string) (string, error) {
	if subnet.Zone != "" {
		return subnet.Zone, nil
	}
	if subnet.ZoneIndex >= len(zones) {
		return "", errors.Errorf("subnet %q wants zone #%d but only %d zones are available", subnet.Name, subnet.ZoneIndex, len(zones))
	}
	return zones[subnet.ZoneIndex], nil
}

func CreateSubnet(ctx context.Context, region, vpcId, cidr, zone string, public bool, tags lab.Tags) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(vpcId),
		CidrBlock:         aws.String(cidr),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeSubnet),
	}
	if zone != "" {
		input.AvailabilityZone = aws.String(zone)
	}
	output, err := svc.CreateSubnetWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrapf(err, "creating subnet %s in %s", cidr, vpcId)
	}
	subnetId := *output.Subnet.SubnetId
	log.Info().Str("region", region).Msgf("created subnet %s (%s, %s)", subnetId, cidr, aws.StringValue(output.Subnet.AvailabilityZone))

	if public {
		_, err = svc.ModifySubnetAttributeWithContext(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(subnetId),
			MapPublicIpOnLaunch: &ec2.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return subnetId, errors.Wrapf(err, "enabling public ips on %s", subnetId)
		}
	}
	return subnetId, nil
}

func DeleteSubnet(ctx context.Context, region, subnetId string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).EC2
	return common.DeleteWithRetry(ctx, poller, "deleting subnet "+subnetId, func() error {
		_, err := svc.DeleteSubnetWithContext(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(subnetId)})
		return err
	})
}
