package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go/service/elbv2"
	"go.uber.org/multierr"
	"labctl/internal/aws/alb"
	"labctl/internal/lab"
)

// LoadBalancers deletes each load balancer together with its listeners.
type LoadBalancers struct {
	Poller        lab.Poller
	region        string
	LoadBalancers []*elbv2.LoadBalancer
}

func (l *LoadBalancers) Kind() string {
	return "LoadBalancers"
}

func (l *LoadBalancers) Fetch(ctx context.Context, target lab.Target) (err error) {
	l.region = target.Region
	l.LoadBalancers, err = alb.GetVpcLoadBalancers(ctx, target.Region, target.VpcIds)
	return
}

func (l *LoadBalancers) Delete(ctx context.Context) (err error) {
	for _, loadBalancer := range l.LoadBalancers {
		err = multierr.Append(err, alb.DeleteApplicationLoadBalancer(ctx, l.region, *loadBalancer.LoadBalancerArn, l.Poller))
	}
	return
}

func (l *LoadBalancers) Print() {
	var names []string
	for _, loadBalancer := range l.LoadBalancers {
		names = append(names, *loadBalancer.LoadBalancerName)
	}
	printResources(l.Kind(), names)
}

type TargetGroups struct {
	Poller       lab.Poller
	region       string
	TargetGroups []*elbv2.TargetGroup
}

func (t *TargetGroups) Kind() string {
	return "TargetGroups"
}

func (t *TargetGroups) Fetch(ctx context.Context, target lab.Target) (err error) {
	t.region = target.Region
	t.TargetGroups, err = alb.GetVpcTargetGroups(ctx, target.Region, target.VpcIds)
	return
}

func (t *TargetGroups) Delete(ctx context.Context) (err error) {
	for _, targetGroup := range t.TargetGroups {
		err = multierr.Append(err, alb.DeleteTargetGroup(ctx, t.region, *targetGroup.TargetGroupArn, t.Poller))
	}
	return
}

func (t *TargetGroups) Print() {
	var names []string
	for _, targetGroup := range t.TargetGroups {
		names = append(names, *targetGroup.TargetGroupName)
	}
	printResources(t.Kind(), names)
}
