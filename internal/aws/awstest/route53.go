package awstest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
)

// Route53 is global: every region's client sees the same zones.
type Route53 struct {
	route53iface.Route53API
	cloud  *Cloud
	region string
}

type hostedZone struct {
	name    string
	records map[string]*route53.ResourceRecordSet
}

func recordKey(name, recordType string) string {
	return name + " " + recordType
}

// AddHostedZone creates a public zone and returns its id.
func (c *Cloud) AddHostedZone(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("Z%012X", c.seq)
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	c.hostedZones[id] = &hostedZone{name: name, records: map[string]*route53.ResourceRecordSet{}}
	return id
}

// Records returns "name type" of every record of the zone.
func (c *Cloud) Records(zoneId string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	zone, ok := c.hostedZones[zoneId]
	if !ok {
		return nil
	}
	return sortedKeys(zone.records)
}

func (r *Route53) ChangeResourceRecordSetsWithContext(_ aws.Context, in *route53.ChangeResourceRecordSetsInput, _ ...request.Option) (*route53.ChangeResourceRecordSetsOutput, error) {
	c := r.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(r.region, "ChangeResourceRecordSets"); err != nil {
		return nil, err
	}
	zoneId := aws.StringValue(in.HostedZoneId)
	zone, ok := c.hostedZones[zoneId]
	if !ok {
		return nil, apiError(route53.ErrCodeNoSuchHostedZone, "no hosted zone found with id %s", zoneId)
	}

	// the batch is validated as a whole before anything is applied
	for _, change := range in.ChangeBatch.Changes {
		set := change.ResourceRecordSet
		name := aws.StringValue(set.Name)
		if !strings.HasSuffix(name, zone.name) {
			return nil, apiError(route53.ErrCodeInvalidChangeBatch, "%s is not in zone %s", name, zone.name)
		}
		key := recordKey(name, aws.StringValue(set.Type))
		_, exists := zone.records[key]
		switch aws.StringValue(change.Action) {
		case route53.ChangeActionCreate:
			if exists {
				return nil, apiError(route53.ErrCodeInvalidChangeBatch, "record %s already exists", key)
			}
		case route53.ChangeActionDelete:
			if !exists {
				return nil, apiError(route53.ErrCodeInvalidChangeBatch, "record %s was not found", key)
			}
		}
	}
	for _, change := range in.ChangeBatch.Changes {
		set := change.ResourceRecordSet
		key := recordKey(aws.StringValue(set.Name), aws.StringValue(set.Type))
		if aws.StringValue(change.Action) == route53.ChangeActionDelete {
			delete(zone.records, key)
		} else {
			zone.records[key] = awsutil.CopyOf(set).(*route53.ResourceRecordSet)
		}
	}
	return &route53.ChangeResourceRecordSetsOutput{ChangeInfo: &route53.ChangeInfo{
		Id:     aws.String(c.nextId("change")),
		Status: aws.String(route53.ChangeStatusInsync),
	}}, nil
}

// ListResourceRecordSets returns the zone's records in name order, starting
// at StartRecordName.
func (r *Route53) ListResourceRecordSetsWithContext(_ aws.Context, in *route53.ListResourceRecordSetsInput, _ ...request.Option) (*route53.ListResourceRecordSetsOutput, error) {
	c := r.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(r.region, "ListResourceRecordSets"); err != nil {
		return nil, err
	}
	zoneId := aws.StringValue(in.HostedZoneId)
	zone, ok := c.hostedZones[zoneId]
	if !ok {
		return nil, apiError(route53.ErrCodeNoSuchHostedZone, "no hosted zone found with id %s", zoneId)
	}

	var sets []*route53.ResourceRecordSet
	for _, set := range zone.records {
		if aws.StringValue(set.Name) >= aws.StringValue(in.StartRecordName) {
			sets = append(sets, awsutil.CopyOf(set).(*route53.ResourceRecordSet))
		}
	}
	sort.Slice(sets, func(i, j int) bool {
		return recordKey(*sets[i].Name, *sets[i].Type) < recordKey(*sets[j].Name, *sets[j].Type)
	})
	return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: sets, IsTruncated: aws.Bool(false)}, nil
}
