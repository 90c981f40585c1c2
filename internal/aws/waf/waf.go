package waf

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/wafv2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

const rateLimitRuleName = "RateLimitRule"

var metricNameInvalidChars = regexp.MustCompile(`[^A-Za-z0-9]`)

func metricName(name string) string {
	return metricNameInvalidChars.ReplaceAllString(name, "")
}

func visibility(name string) *wafv2.VisibilityConfig {
	return &wafv2.VisibilityConfig{
		SampledRequestsEnabled:   aws.Bool(true),
		CloudWatchMetricsEnabled: aws.Bool(true),
		MetricName:               aws.String(metricName(name)),
	}
}

// BuildRules turns AWS managed rule group names and an optional per-IP rate
// limit into web ACL rules, evaluated in that order.
func BuildRules(managedRuleGroups []string, rateLimit int64) (rules []*wafv2.Rule) {
	priority := int64(0)
	for _, group := range managedRuleGroups {
		rules = append(rules, &wafv2.Rule{
			Name:     aws.String(group),
			Priority: aws.Int64(priority),
			Statement: &wafv2.Statement{
				ManagedRuleGroupStatement: &wafv2.ManagedRuleGroupStatement{
					VendorName: aws.String("AWS"),
					Name:       aws.String(group),
				},
			},
			OverrideAction:   &wafv2.OverrideAction{None: &wafv2.NoneAction{}},
			VisibilityConfig: visibility(group + "Metric"),
		})
		priority++
	}
	if rateLimit > 0 {
		rules = append(rules, &wafv2.Rule{
			Name:     aws.String(rateLimitRuleName),
			Priority: aws.Int64(priority),
			Statement: &wafv2.Statement{
				RateBasedStatement: &wafv2.RateBasedStatement{
					Limit:            aws.Int64(rateLimit),
					AggregateKeyType: aws.String(wafv2.RateBasedStatementAggregateKeyTypeIp),
				},
			},
			Action:           &wafv2.RuleAction{Block: &wafv2.BlockAction{}},
			VisibilityConfig: visibility("RateLimitMetric"),
		})
	}
	return
}

func CreateWebAcl(ctx context.Context, region, name string, rules []*wafv2.Rule, tags lab.Tags) (arn string, err error) {
	svc := connectors.GetAWSSession(region).WAFV2
	output, err := svc.CreateWebACLWithContext(ctx, &wafv2.CreateWebACLInput{
		Name:             aws.String(name),
		Scope:            aws.String(wafv2.ScopeRegional),
		Description:      aws.String(fmt.Sprintf("web acl of lab %s", tags[lab.LabNameTagKey])),
		DefaultAction:    &wafv2.DefaultAction{Allow: &wafv2.AllowAction{}},
		Rules:            rules,
		VisibilityConfig: visibility(name),
		Tags:             tags.AsWafv2(),
	})
	if err != nil {
		err = errors.Wrapf(err, "creating web acl %s", name)
		return
	}
	arn = *output.Summary.ARN
	log.Info().Str("region", region).Msgf("created web acl %s", name)
	return
}

// AssociateWebAcl attaches the web ACL to a resource. A freshly created web
// ACL is not immediately associable, so unavailable-entity errors are retried.
func AssociateWebAcl(ctx context.Context, region, webAclArn, resourceArn string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).WAFV2
	return poller.WaitFor(ctx, "web acl association", func() (bool, error) {
		_, err := svc.AssociateWebACLWithContext(ctx, &wafv2.AssociateWebACLInput{
			WebACLArn:   aws.String(webAclArn),
			ResourceArn: aws.String(resourceArn),
		})
		if common.HasCode(err, wafv2.ErrCodeWAFUnavailableEntityException) {
			return false, nil
		}
		return err == nil, err
	})
}

func ListWebAcls(ctx context.Context, region string) (webAcls []*wafv2.WebACLSummary, err error) {
	svc := connectors.GetAWSSession(region).WAFV2

	var marker *string
	for {
		var output *wafv2.ListWebACLsOutput
		output, err = svc.ListWebACLsWithContext(ctx, &wafv2.ListWebACLsInput{
			Scope:      aws.String(wafv2.ScopeRegional),
			NextMarker: marker,
		})
		if err != nil {
			return
		}
		webAcls = append(webAcls, output.WebACLs...)
		marker = output.NextMarker
		if marker == nil || len(output.WebACLs) == 0 {
			break
		}
	}
	return
}

func GetWebAclTags(ctx context.Context, region, arn string) (lab.Tags, error) {
	svc := connectors.GetAWSSession(region).WAFV2
	output, err := svc.ListTagsForResourceWithContext(ctx, &wafv2.ListTagsForResourceInput{
		ResourceARN: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	tags := lab.Tags{}
	if output.TagInfoForResource != nil {
		for _, tag := range output.TagInfoForResource.TagList {
			tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
		}
	}
	return tags, nil
}

func GetAssociatedResources(ctx context.Context, region, webAclArn string) ([]string, error) {
	svc := connectors.GetAWSSession(region).WAFV2
	output, err := svc.ListResourcesForWebACLWithContext(ctx, &wafv2.ListResourcesForWebACLInput{
		WebACLArn:    aws.String(webAclArn),
		ResourceType: aws.String(wafv2.ResourceTypeApplicationLoadBalancer),
	})
	if err != nil {
		return nil, err
	}
	return aws.StringValueSlice(output.ResourceArns), nil
}

// DeleteWebAcl disassociates every protected resource and deletes the web
// ACL with a fresh lock token. Deletion is retried while WAF still reports
// the association or a lock conflict.
func DeleteWebAcl(ctx context.Context, region string, webAcl *wafv2.WebACLSummary, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).WAFV2
	name := aws.StringValue(webAcl.Name)

	resources, err := GetAssociatedResources(ctx, region, *webAcl.ARN)
	if err != nil {
		return common.IgnoreNotFound(err)
	}
	for _, resourceArn := range resources {
		_, err = svc.DisassociateWebACLWithContext(ctx, &wafv2.DisassociateWebACLInput{
			ResourceArn: aws.String(resourceArn),
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "disassociating %s from %s", name, resourceArn)
		}
	}

	return common.DeleteWithRetry(ctx, poller, "deleting web acl "+name, func() error {
		current, err := svc.GetWebACLWithContext(ctx, &wafv2.GetWebACLInput{
			Name:  webAcl.Name,
			Id:    webAcl.Id,
			Scope: aws.String(wafv2.ScopeRegional),
		})
		if err != nil {
			return err
		}
		_, err = svc.DeleteWebACLWithContext(ctx, &wafv2.DeleteWebACLInput{
			Name:      webAcl.Name,
			Id:        webAcl.Id,
			Scope:     aws.String(wafv2.ScopeRegional),
			LockToken: current.LockToken,
		})
		return err
	})
}
