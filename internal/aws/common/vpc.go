package common

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"labctl/internal/connectors"
)

func GetVpcs(ctx context.Context, region string, filters ...*ec2.Filter) (vpcs []*ec2.Vpc, err error) {
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var vpcsOutput *ec2.DescribeVpcsOutput
		vpcsOutput, err = svc.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return
		}

		vpcs = append(vpcs, vpcsOutput.Vpcs...)
		nextToken = vpcsOutput.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

func GetVpcSubnets(ctx context.Context, region string, vpcIds ...string) (subnets []*ec2.Subnet, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var subnetsOutput *ec2.DescribeSubnetsOutput
		subnetsOutput, err = svc.DescribeSubnetsWithContext(ctx, &ec2.DescribeSubnetsInput{
			Filters:   []*ec2.Filter{Filter("vpc-id", vpcIds...)},
			NextToken: nextToken,
		})
		if err != nil {
			return
		}

		subnets = append(subnets, subnetsOutput.Subnets...)
		nextToken = subnetsOutput.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

func GetRouteTables(ctx context.Context, region string, vpcIds ...string) (routeTables []*ec2.RouteTable, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var routeTablesOutput *ec2.DescribeRouteTablesOutput
		routeTablesOutput, err = svc.DescribeRouteTablesWithContext(ctx, &ec2.DescribeRouteTablesInput{
			Filters:   []*ec2.Filter{Filter("vpc-id", vpcIds...)},
			NextToken: nextToken,
		})
		if err != nil {
			return
		}

		routeTables = append(routeTables, routeTablesOutput.RouteTables...)
		nextToken = routeTablesOutput.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

func IsMainRouteTable(routeTable *ec2.RouteTable) bool {
	for _, a := range routeTable.Associations {
		if aws.BoolValue(a.Main) {
			return true
		}
	}
	return false
}

func GetMainRouteTable(ctx context.Context, region, vpcId string) (string, error) {
	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeRouteTablesWithContext(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []*ec2.Filter{
			Filter("vpc-id", vpcId),
			Filter("association.main", "true"),
		},
	})
	if err != nil {
		return "", err
	}
	if len(output.RouteTables) == 0 {
		return "", &MissingError{Kind: "main route table", Id: vpcId}
	}
	return *output.RouteTables[0].RouteTableId, nil
}

type MissingError struct {
	Kind string
	Id   string
}

func (e *MissingError) Error() string {
	return e.Kind + " of " + e.Id + " not found"
}
