package route53

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/connectors"
)

// Route53 is a global service, its calls go through the lab's default region session.

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

func CreateApplicationLoadBalancerAliasRecord(ctx context.Context, region string, loadBalancer *elbv2.LoadBalancer, dnsAlias, dnsZoneId string) error {
	svc := connectors.GetAWSSession(region).Route53

	_, err := svc.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		ChangeBatch: &route53.ChangeBatch{
			Changes: []*route53.Change{
				{
					Action: aws.String(route53.ChangeActionUpsert),
					ResourceRecordSet: &route53.ResourceRecordSet{
						AliasTarget: &route53.AliasTarget{
							DNSName:              loadBalancer.DNSName,
							EvaluateTargetHealth: aws.Bool(false),
							HostedZoneId:         loadBalancer.CanonicalHostedZoneId,
						},
						Name: aws.String(fqdn(dnsAlias)),
						Type: aws.String(route53.RRTypeA),
					},
				},
			},
		},
		HostedZoneId: &dnsZoneId,
	})

	if err != nil {
		return errors.Wrapf(err, "creating alias %s", dnsAlias)
	}

	log.Debug().Msgf("route53 alias %s was updated successfully", dnsAlias)
	return nil
}

func DeleteRoute53Record(ctx context.Context, region string, recordSet *route53.ResourceRecordSet, dnsZoneId string) error {
	svc := connectors.GetAWSSession(region).Route53

	_, err := svc.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		ChangeBatch: &route53.ChangeBatch{
			Changes: []*route53.Change{
				{
					Action:            aws.String(route53.ChangeActionDelete),
					ResourceRecordSet: recordSet,
				},
			},
		},
		HostedZoneId: &dnsZoneId,
	})

	if err != nil {
		return errors.Wrapf(err, "deleting alias %s", aws.StringValue(recordSet.Name))
	}

	log.Debug().Msgf("route53 alias %s was deleted successfully!", aws.StringValue(recordSet.Name))
	return nil
}

// GetRoute53Record returns the A record of dnsAlias, or nil when there is none.
func GetRoute53Record(ctx context.Context, region, dnsAlias, dnsZoneId string) (recordSet *route53.ResourceRecordSet, err error) {
	svc := connectors.GetAWSSession(region).Route53
	dnsAlias = fqdn(dnsAlias)
	route53Output, err := svc.ListResourceRecordSetsWithContext(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    &dnsZoneId,
		StartRecordType: aws.String(route53.RRTypeA),
		StartRecordName: &dnsAlias,
	})
	if err != nil {
		return
	}
	for _, record := range route53Output.ResourceRecordSets {
		if aws.StringValue(record.Name) == dnsAlias && aws.StringValue(record.Type) == route53.RRTypeA {
			recordSet = record
			break
		}
	}
	return
}
