package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/wafv2"
	"go.uber.org/multierr"
	"labctl/internal/aws/alb"
	"labctl/internal/aws/common"
	"labctl/internal/aws/waf"
	"labctl/internal/lab"
)

type WebAcls struct {
	Poller  lab.Poller
	region  string
	WebAcls []*wafv2.WebACLSummary
}

func (w *WebAcls) Kind() string {
	return "WebAcls"
}

// Fetch selects web acls tagged for the lab or protecting a load balancer
// inside the target VPCs.
func (w *WebAcls) Fetch(ctx context.Context, target lab.Target) error {
	w.region = target.Region
	w.WebAcls = nil

	webAcls, err := waf.ListWebAcls(ctx, target.Region)
	if err != nil {
		return err
	}
	if len(webAcls) == 0 {
		return nil
	}

	loadBalancers, err := alb.GetVpcLoadBalancers(ctx, target.Region, target.VpcIds)
	if err != nil {
		return err
	}
	var loadBalancerArns []string
	for _, loadBalancer := range loadBalancers {
		loadBalancerArns = append(loadBalancerArns, *loadBalancer.LoadBalancerArn)
	}

	for _, webAcl := range webAcls {
		if target.LabName != "" {
			tags, err := waf.GetWebAclTags(ctx, target.Region, *webAcl.ARN)
			if err != nil {
				return err
			}
			if tags[lab.LabNameTagKey] == string(target.LabName) {
				w.WebAcls = append(w.WebAcls, webAcl)
				continue
			}
		}
		if len(loadBalancerArns) == 0 {
			continue
		}
		resources, err := waf.GetAssociatedResources(ctx, target.Region, *webAcl.ARN)
		if err != nil {
			return err
		}
		for _, resource := range resources {
			if common.Contains(loadBalancerArns, resource) {
				w.WebAcls = append(w.WebAcls, webAcl)
				break
			}
		}
	}
	return nil
}

func (w *WebAcls) Delete(ctx context.Context) (err error) {
	for _, webAcl := range w.WebAcls {
		err = multierr.Append(err, waf.DeleteWebAcl(ctx, w.region, webAcl, w.Poller))
	}
	return
}

func (w *WebAcls) Print() {
	var names []string
	for _, webAcl := range w.WebAcls {
		names = append(names, aws.StringValue(webAcl.Name))
	}
	printResources(w.Kind(), names)
}
