package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/route53"
	"go.uber.org/multierr"
	"labctl/internal/aws/alb"
	route532 "labctl/internal/aws/route53"
	"labctl/internal/lab"
)

type dnsRecord struct {
	zoneId    string
	recordSet *route53.ResourceRecordSet
}

// DnsRecords removes alias records that point at the VPCs' load balancers.
// The zone and name are read back from the load balancer's tags.
type DnsRecords struct {
	region  string
	records []dnsRecord
}

func (d *DnsRecords) Kind() string {
	return "DnsRecords"
}

func (d *DnsRecords) Fetch(ctx context.Context, target lab.Target) error {
	d.region = target.Region
	d.records = nil

	loadBalancers, err := alb.GetVpcLoadBalancers(ctx, target.Region, target.VpcIds)
	if err != nil {
		return err
	}
	for _, loadBalancer := range loadBalancers {
		zoneId, err := alb.GetResourceTagValue(ctx, target.Region, *loadBalancer.LoadBalancerArn, lab.DnsZoneTagKey)
		if err != nil {
			return err
		}
		name, err := alb.GetResourceTagValue(ctx, target.Region, *loadBalancer.LoadBalancerArn, lab.DnsNameTagKey)
		if err != nil {
			return err
		}
		if zoneId == "" || name == "" {
			continue
		}
		recordSet, err := route532.GetRoute53Record(ctx, target.Region, name, zoneId)
		if err != nil {
			return err
		}
		if recordSet != nil {
			d.records = append(d.records, dnsRecord{zoneId: zoneId, recordSet: recordSet})
		}
	}
	return nil
}

func (d *DnsRecords) Delete(ctx context.Context) (err error) {
	for _, record := range d.records {
		err = multierr.Append(err, route532.DeleteRoute53Record(ctx, d.region, record.recordSet, record.zoneId))
	}
	return
}

func (d *DnsRecords) Print() {
	var names []string
	for _, record := range d.records {
		names = append(names, aws.StringValue(record.recordSet.Name))
	}
	printResources(d.Kind(), names)
}
