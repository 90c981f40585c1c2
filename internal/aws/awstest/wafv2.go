package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awsutil"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/wafv2"
	"github.com/aws/aws-sdk-go/service/wafv2/wafv2iface"
)

type WAFV2 struct {
	wafv2iface.WAFV2API
	cloud  *Cloud
	region string
}

// webAclRecord refuses its first association with an unavailable-entity
// error, like a web ACL that has just been created.
type webAclRecord struct {
	region     string
	acl        *wafv2.WebACL
	lockToken  string
	tags       []*wafv2.Tag
	associable bool
}

func (r *webAclRecord) summary() *wafv2.WebACLSummary {
	return &wafv2.WebACLSummary{
		ARN:         r.acl.ARN,
		Id:          r.acl.Id,
		Name:        r.acl.Name,
		Description: r.acl.Description,
		LockToken:   aws.String(r.lockToken),
	}
}

func (w *WAFV2) nonexistent(what string) error {
	return apiError(wafv2.ErrCodeWAFNonexistentItemException, "%s does not exist", what)
}

func (c *Cloud) webAclByArn(region, arn string) *webAclRecord {
	r, ok := c.webAcls[arn]
	if !ok || r.region != region {
		return nil
	}
	return r
}

func (c *Cloud) webAclById(region, name, id string) *webAclRecord {
	for _, r := range c.webAcls {
		if r.region == region && aws.StringValue(r.acl.Name) == name && aws.StringValue(r.acl.Id) == id {
			return r
		}
	}
	return nil
}

func (w *WAFV2) CreateWebACLWithContext(_ aws.Context, in *wafv2.CreateWebACLInput, _ ...request.Option) (*wafv2.CreateWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "CreateWebACL"); err != nil {
		return nil, err
	}
	if aws.StringValue(in.Scope) != wafv2.ScopeRegional {
		return nil, apiError(wafv2.ErrCodeWAFInvalidParameterException, "only the REGIONAL scope is supported")
	}
	name := aws.StringValue(in.Name)
	if len(name) == 0 || len(name) > 128 {
		return nil, apiError(wafv2.ErrCodeWAFInvalidParameterException, "invalid web acl name %q", name)
	}
	for _, r := range c.webAcls {
		if r.region == w.region && aws.StringValue(r.acl.Name) == name {
			return nil, apiError(wafv2.ErrCodeWAFDuplicateItemException, "web acl %s already exists", name)
		}
	}

	c.seq++
	id := fmt.Sprintf("%08x-0000-4000-8000-%012x", c.seq, c.seq)
	arn := fmt.Sprintf("arn:aws:wafv2:%s:%s:regional/webacl/%s/%s", w.region, c.AccountId, name, id)
	r := &webAclRecord{
		region: w.region,
		acl: &wafv2.WebACL{
			ARN:              aws.String(arn),
			Id:               aws.String(id),
			Name:             in.Name,
			Description:      in.Description,
			DefaultAction:    in.DefaultAction,
			Rules:            in.Rules,
			VisibilityConfig: in.VisibilityConfig,
		},
		lockToken: c.nextId("lock"),
	}
	for _, tag := range in.Tags {
		r.tags = append(r.tags, &wafv2.Tag{Key: tag.Key, Value: tag.Value})
	}
	c.webAcls[arn] = r
	return &wafv2.CreateWebACLOutput{Summary: r.summary()}, nil
}

// WebAclRules returns the rules of a web ACL.
func (c *Cloud) WebAclRules(arn string) []*wafv2.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.webAcls[arn]; ok {
		return awsutil.CopyOf(r.acl).(*wafv2.WebACL).Rules
	}
	return nil
}

func (w *WAFV2) AssociateWebACLWithContext(_ aws.Context, in *wafv2.AssociateWebACLInput, _ ...request.Option) (*wafv2.AssociateWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "AssociateWebACL"); err != nil {
		return nil, err
	}
	r := c.webAclByArn(w.region, aws.StringValue(in.WebACLArn))
	if r == nil {
		return nil, w.nonexistent(aws.StringValue(in.WebACLArn))
	}
	resourceArn := aws.StringValue(in.ResourceArn)
	if lb, ok := c.loadBalancers[resourceArn]; !ok || lb.region != w.region {
		return nil, w.nonexistent(resourceArn)
	}
	if !r.associable {
		r.associable = true
		return nil, apiError(wafv2.ErrCodeWAFUnavailableEntityException, "web acl %s is not available yet", aws.StringValue(r.acl.Name))
	}
	c.webAclResources[resourceArn] = aws.StringValue(in.WebACLArn)
	r.lockToken = c.nextId("lock")
	return &wafv2.AssociateWebACLOutput{}, nil
}

func (w *WAFV2) DisassociateWebACLWithContext(_ aws.Context, in *wafv2.DisassociateWebACLInput, _ ...request.Option) (*wafv2.DisassociateWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "DisassociateWebACL"); err != nil {
		return nil, err
	}
	resourceArn := aws.StringValue(in.ResourceArn)
	if aclArn, ok := c.webAclResources[resourceArn]; ok {
		if r := c.webAcls[aclArn]; r != nil {
			r.lockToken = c.nextId("lock")
		}
		delete(c.webAclResources, resourceArn)
	}
	return &wafv2.DisassociateWebACLOutput{}, nil
}

func (w *WAFV2) ListWebACLsWithContext(_ aws.Context, in *wafv2.ListWebACLsInput, _ ...request.Option) (*wafv2.ListWebACLsOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "ListWebACLs"); err != nil {
		return nil, err
	}
	output := &wafv2.ListWebACLsOutput{}
	if aws.StringValue(in.Scope) != wafv2.ScopeRegional {
		return output, nil
	}
	for _, arn := range sortedKeys(c.webAcls) {
		if r := c.webAcls[arn]; r.region == w.region {
			output.WebACLs = append(output.WebACLs, r.summary())
		}
	}
	return output, nil
}

func (w *WAFV2) ListTagsForResourceWithContext(_ aws.Context, in *wafv2.ListTagsForResourceInput, _ ...request.Option) (*wafv2.ListTagsForResourceOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "ListTagsForResource"); err != nil {
		return nil, err
	}
	r := c.webAclByArn(w.region, aws.StringValue(in.ResourceARN))
	if r == nil {
		return nil, w.nonexistent(aws.StringValue(in.ResourceARN))
	}
	info := &wafv2.TagInfoForResource{ResourceARN: in.ResourceARN}
	for _, tag := range r.tags {
		info.TagList = append(info.TagList, &wafv2.Tag{Key: tag.Key, Value: tag.Value})
	}
	return &wafv2.ListTagsForResourceOutput{TagInfoForResource: info}, nil
}

func (w *WAFV2) ListResourcesForWebACLWithContext(_ aws.Context, in *wafv2.ListResourcesForWebACLInput, _ ...request.Option) (*wafv2.ListResourcesForWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "ListResourcesForWebACL"); err != nil {
		return nil, err
	}
	aclArn := aws.StringValue(in.WebACLArn)
	if c.webAclByArn(w.region, aclArn) == nil {
		return nil, w.nonexistent(aclArn)
	}
	output := &wafv2.ListResourcesForWebACLOutput{ResourceArns: []*string{}}
	for _, resourceArn := range sortedKeys(c.webAclResources) {
		if c.webAclResources[resourceArn] == aclArn {
			output.ResourceArns = append(output.ResourceArns, aws.String(resourceArn))
		}
	}
	return output, nil
}

func (w *WAFV2) GetWebACLWithContext(_ aws.Context, in *wafv2.GetWebACLInput, _ ...request.Option) (*wafv2.GetWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "GetWebACL"); err != nil {
		return nil, err
	}
	r := c.webAclById(w.region, aws.StringValue(in.Name), aws.StringValue(in.Id))
	if r == nil {
		return nil, w.nonexistent(aws.StringValue(in.Name))
	}
	return &wafv2.GetWebACLOutput{
		WebACL:    awsutil.CopyOf(r.acl).(*wafv2.WebACL),
		LockToken: aws.String(r.lockToken),
	}, nil
}

func (w *WAFV2) DeleteWebACLWithContext(_ aws.Context, in *wafv2.DeleteWebACLInput, _ ...request.Option) (*wafv2.DeleteWebACLOutput, error) {
	c := w.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(w.region, "DeleteWebACL"); err != nil {
		return nil, err
	}
	r := c.webAclById(w.region, aws.StringValue(in.Name), aws.StringValue(in.Id))
	if r == nil {
		return nil, w.nonexistent(aws.StringValue(in.Name))
	}
	if aws.StringValue(in.LockToken) != r.lockToken {
		return nil, apiError(wafv2.ErrCodeWAFOptimisticLockException, "the lock token of %s is stale", aws.StringValue(in.Name))
	}
	arn := aws.StringValue(r.acl.ARN)
	for _, aclArn := range c.webAclResources {
		if aclArn == arn {
			return nil, apiError(wafv2.ErrCodeWAFAssociatedItemException, "web acl %s is still associated", aws.StringValue(in.Name))
		}
	}
	delete(c.webAcls, arn)
	return &wafv2.DeleteWebACLOutput{}, nil
}
