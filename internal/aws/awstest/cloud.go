// Package awstest is an in-memory stand-in for the AWS APIs labctl calls.
// One Cloud holds the state of every region so that cross-region peerings
// behave like the real thing.
package awstest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ec2"
	"labctl/internal/connectors"
)

const DefaultAccountId = "123456789012"

type Cloud struct {
	mu        sync.Mutex
	seq       int
	AccountId string

	calls    []string
	failures map[string]string

	vpcs             map[string]*vpcRecord
	subnets          map[string]*subnetRecord
	internetGateways map[string]*internetGatewayRecord
	addresses        map[string]*addressRecord
	natGateways      map[string]*natGatewayRecord
	routeTables      map[string]*routeTableRecord
	securityGroups   map[string]*securityGroupRecord
	networkAcls      map[string]*networkAclRecord
	instances        map[string]*instanceRecord
	images           []*ec2.Image

	transitGateways    map[string]*transitGatewayRecord
	vpcAttachments     map[string]*vpcAttachmentRecord
	peeringAttachments map[string]*peeringAttachmentRecord
	tgwRoutes          map[string][]string
	vpcPeerings        map[string]*vpcPeeringRecord

	loadBalancers map[string]*loadBalancerRecord
	targetGroups  map[string]*targetGroupRecord
	listeners     map[string]*listenerRecord
	elbTags       map[string]lbTags

	webAcls         map[string]*webAclRecord
	webAclResources map[string]string

	hostedZones map[string]*hostedZone
}

func NewCloud() *Cloud {
	return &Cloud{
		AccountId:          DefaultAccountId,
		failures:           map[string]string{},
		vpcs:               map[string]*vpcRecord{},
		subnets:            map[string]*subnetRecord{},
		internetGateways:   map[string]*internetGatewayRecord{},
		addresses:          map[string]*addressRecord{},
		natGateways:        map[string]*natGatewayRecord{},
		routeTables:        map[string]*routeTableRecord{},
		securityGroups:     map[string]*securityGroupRecord{},
		networkAcls:        map[string]*networkAclRecord{},
		instances:          map[string]*instanceRecord{},
		images:             defaultImages(),
		transitGateways:    map[string]*transitGatewayRecord{},
		vpcAttachments:     map[string]*vpcAttachmentRecord{},
		peeringAttachments: map[string]*peeringAttachmentRecord{},
		tgwRoutes:          map[string][]string{},
		vpcPeerings:        map[string]*vpcPeeringRecord{},
		loadBalancers:      map[string]*loadBalancerRecord{},
		targetGroups:       map[string]*targetGroupRecord{},
		listeners:          map[string]*listenerRecord{},
		elbTags:            map[string]lbTags{},
		webAcls:            map[string]*webAclRecord{},
		webAclResources:    map[string]string{},
		hostedZones:        map[string]*hostedZone{},
	}
}

// Session returns clients bound to one region of the cloud.
func (c *Cloud) Session(region string) *connectors.SAwsSession {
	return &connectors.SAwsSession{
		EC2:     &EC2{cloud: c, region: region},
		ELBV2:   &ELBV2{cloud: c, region: region},
		WAFV2:   &WAFV2{cloud: c, region: region},
		Route53: &Route53{cloud: c, region: region},
		STS:     &STS{cloud: c, region: region},
	}
}

// Install registers the cloud as the AWS backend of the given regions.
func (c *Cloud) Install(regions ...string) {
	for _, region := range regions {
		connectors.SetAWSSession(region, c.Session(region))
	}
}

// Fail makes every later call of the API operation fail with code, in
// every region, until Heal is called.
func (c *Cloud) Fail(operation, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[operation] = code
}

func (c *Cloud) Heal(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, operation)
}

// Calls returns the operations called so far as "region Operation".
func (c *Cloud) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallsWithPrefix keeps the operations whose name starts with one of the prefixes.
func (c *Cloud) CallsWithPrefix(prefixes ...string) (calls []string) {
	for _, call := range c.Calls() {
		_, operation, _ := strings.Cut(call, " ")
		for _, prefix := range prefixes {
			if strings.HasPrefix(operation, prefix) {
				calls = append(calls, operation)
				break
			}
		}
	}
	return
}

// call records the operation and returns the injected failure, if any.
// The cloud lock must be held.
func (c *Cloud) call(region, operation string) error {
	c.calls = append(c.calls, region+" "+operation)
	if code, ok := c.failures[operation]; ok {
		return awserr.New(code, "injected failure of "+operation, nil)
	}
	return nil
}

func (c *Cloud) nextId(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%017x", prefix, c.seq)
}

func notFound(code, id string) error {
	return awserr.New(code, fmt.Sprintf("the id '%s' does not exist", id), nil)
}

func apiError(code, format string, args ...interface{}) error {
	return awserr.New(code, fmt.Sprintf(format, args...), nil)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tagsFromSpecs(specs []*ec2.TagSpecification) (tags []*ec2.Tag) {
	for _, spec := range specs {
		for _, tag := range spec.Tags {
			tags = append(tags, &ec2.Tag{Key: tag.Key, Value: tag.Value})
		}
	}
	return
}

func setTags(tags []*ec2.Tag, more []*ec2.Tag) []*ec2.Tag {
	for _, tag := range more {
		replaced := false
		for _, existing := range tags {
			if aws.StringValue(existing.Key) == aws.StringValue(tag.Key) {
				existing.Value = tag.Value
				replaced = true
			}
		}
		if !replaced {
			tags = append(tags, &ec2.Tag{Key: tag.Key, Value: tag.Value})
		}
	}
	return tags
}

// attrs are the filterable attributes of a resource, tags excluded.
type attrs map[string][]string

func globMatch(pattern, value string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	return regexp.MustCompile(expr).MatchString(value)
}

// matchFilters applies EC2 filter semantics: every filter must match, a
// filter matches when any of its values matches any attribute value.
func matchFilters(filters []*ec2.Filter, a attrs, tags []*ec2.Tag) (bool, error) {
	for _, filter := range filters {
		name := aws.StringValue(filter.Name)
		var values []string
		if key, ok := strings.CutPrefix(name, "tag:"); ok {
			for _, tag := range tags {
				if aws.StringValue(tag.Key) == key {
					values = append(values, aws.StringValue(tag.Value))
				}
			}
		} else {
			var known bool
			values, known = a[name]
			if !known {
				return false, apiError("InvalidParameterValue", "unsupported filter name %q", name)
			}
		}

		matched := false
		for _, want := range aws.StringValueSlice(filter.Values) {
			for _, have := range values {
				if globMatch(want, have) {
					matched = true
				}
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func boolAttr(b bool) []string {
	if b {
		return []string{"true"}
	}
	return []string{"false"}
}

func wanted(ids []*string, id string) bool {
	if len(ids) == 0 {
		return true
	}
	for _, want := range ids {
		if aws.StringValue(want) == id {
			return true
		}
	}
	return false
}

// missing returns the first requested id that is not known.
func missing[V any](ids []*string, m map[string]V) (string, bool) {
	for _, id := range ids {
		if _, ok := m[aws.StringValue(id)]; !ok {
			return aws.StringValue(id), true
		}
	}
	return "", false
}
