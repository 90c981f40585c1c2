package lab

import (
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/wafv2"
)

type Tags map[string]string

const (
	ManagedTagKey   = "labctl.io/managed"
	LabNameTagKey   = "labctl.io/lab_name"
	RunIdTagKey     = "labctl.io/run_id"
	BlueprintTagKey = "labctl.io/blueprint"
	ExpiresAtTagKey = "labctl.io/expires_at"
	DnsZoneTagKey   = "labctl.io/dns_zone"
	DnsNameTagKey   = "labctl.io/dns_name"
	NameTagKey      = "Name"
)

func (t Tags) Update(tags Tags) Tags {
	for k, v := range tags {
		t[k] = v
	}
	return t
}

func (t Tags) Clone() Tags {
	newTags := Tags{}
	for k, v := range t {
		newTags[k] = v
	}
	return newTags
}

// WithName returns a copy of the tags carrying the given Name tag.
func (t Tags) WithName(name string) Tags {
	return t.Clone().Update(Tags{NameTagKey: name})
}

func (t Tags) keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t Tags) AsEc2() []*ec2.Tag {
	var ec2Tags []*ec2.Tag
	for _, key := range t.keys() {
		ec2Tags = append(ec2Tags, &ec2.Tag{
			Key:   aws.String(key),
			Value: aws.String(t[key]),
		})
	}
	return ec2Tags
}

func (t Tags) AsEc2TagSpecifications(resourceType string) []*ec2.TagSpecification {
	return []*ec2.TagSpecification{
		{
			ResourceType: aws.String(resourceType),
			Tags:         t.AsEc2(),
		},
	}
}

func (t Tags) AsElbv2() []*elbv2.Tag {
	var elbTags []*elbv2.Tag
	for _, key := range t.keys() {
		elbTags = append(elbTags, &elbv2.Tag{
			Key:   aws.String(key),
			Value: aws.String(t[key]),
		})
	}
	return elbTags
}

func (t Tags) AsWafv2() []*wafv2.Tag {
	var wafTags []*wafv2.Tag
	for _, key := range t.keys() {
		wafTags = append(wafTags, &wafv2.Tag{
			Key:   aws.String(key),
			Value: aws.String(t[key]),
		})
	}
	return wafTags
}

func TagsFromEc2(ec2Tags []*ec2.Tag) Tags {
	tags := Tags{}
	for _, tag := range ec2Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}
	return tags
}

func GetCommonResourceTags(labName LabName, blueprint, runId string, expiresAt time.Time) Tags {
	tags := Tags{
		ManagedTagKey:   "true",
		LabNameTagKey:   string(labName),
		RunIdTagKey:     runId,
		BlueprintTagKey: blueprint,
	}
	if !expiresAt.IsZero() {
		tags[ExpiresAtTagKey] = expiresAt.UTC().Format(time.RFC3339)
	}
	return tags
}

// ExpiresAt parses the expiry tag, returning false when the lab never expires.
func (t Tags) ExpiresAt() (time.Time, bool) {
	value, ok := t[ExpiresAtTagKey]
	if !ok {
		return time.Time{}, false
	}
	expiresAt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return expiresAt, true
}
