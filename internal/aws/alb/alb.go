package alb

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

// MaxNameLength is the limit AWS puts on load balancer and target group names.
const MaxNameLength = 32

type TargetGroupParams struct {
	Name            string
	VpcId           string
	Port            int64
	HealthCheckPath string
}

func CreateTargetGroup(ctx context.Context, region string, params TargetGroupParams, tags lab.Tags) (arn string, err error) {
	svc := connectors.GetAWSSession(region).ELBV2
	healthCheckPath := params.HealthCheckPath
	if healthCheckPath == "" {
		healthCheckPath = "/"
	}

	targetOutput, err := svc.CreateTargetGroupWithContext(ctx, &elbv2.CreateTargetGroupInput{
		Name:            aws.String(params.Name),
		Port:            aws.Int64(params.Port),
		Protocol:        aws.String(elbv2.ProtocolEnumHttp),
		VpcId:           aws.String(params.VpcId),
		TargetType:      aws.String(elbv2.TargetTypeEnumInstance),
		HealthCheckPath: aws.String(healthCheckPath),
		Tags:            tags.AsElbv2(),
	})
	if err != nil {
		err = errors.Wrapf(err, "creating target group %s", params.Name)
		return
	}
	arn = *targetOutput.TargetGroups[0].TargetGroupArn
	log.Info().Str("region", region).Msgf("created target group %s", params.Name)
	return
}

func RegisterTargets(ctx context.Context, region, targetGroupArn string, instanceIds []string, port int64) error {
	if len(instanceIds) == 0 {
		return nil
	}
	svc := connectors.GetAWSSession(region).ELBV2
	var targets []*elbv2.TargetDescription
	for _, id := range instanceIds {
		targets = append(targets, &elbv2.TargetDescription{Id: aws.String(id), Port: aws.Int64(port)})
	}
	_, err := svc.RegisterTargetsWithContext(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupArn),
		Targets:        targets,
	})
	return errors.Wrap(err, "registering targets")
}

func CreateApplicationLoadBalancer(ctx context.Context, region, albName string, subnets, securityGroupsIds []string, tags lab.Tags) (*elbv2.LoadBalancer, error) {
	svc := connectors.GetAWSSession(region).ELBV2
	albOutput, err := svc.CreateLoadBalancerWithContext(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(albName),
		Scheme:         aws.String(elbv2.LoadBalancerSchemeEnumInternetFacing),
		Subnets:        aws.StringSlice(subnets),
		Tags:           tags.AsElbv2(),
		SecurityGroups: aws.StringSlice(securityGroupsIds),
		Type:           aws.String(elbv2.LoadBalancerTypeEnumApplication),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating load balancer %s", albName)
	}
	loadBalancer := albOutput.LoadBalancers[0]
	log.Info().Str("region", region).Msgf("created load balancer %s", albName)
	return loadBalancer, nil
}

func WaitForLoadBalancerActive(ctx context.Context, region, arn string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).ELBV2
	return poller.WaitFor(ctx, "load balancer active", func() (bool, error) {
		output, err := svc.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
			LoadBalancerArns: []*string{aws.String(arn)},
		})
		if err != nil {
			return false, err
		}
		if len(output.LoadBalancers) == 0 || output.LoadBalancers[0].State == nil {
			return false, nil
		}
		switch state := aws.StringValue(output.LoadBalancers[0].State.Code); state {
		case elbv2.LoadBalancerStateEnumActive:
			return true, nil
		case elbv2.LoadBalancerStateEnumFailed, elbv2.LoadBalancerStateEnumActiveImpaired:
			return false, errors.Errorf("load balancer is %s", state)
		}
		return false, nil
	})
}

func CreateListener(ctx context.Context, region, albArn, targetArn string, port int64, tags lab.Tags) error {
	svc := connectors.GetAWSSession(region).ELBV2
	_, err := svc.CreateListenerWithContext(ctx, &elbv2.CreateListenerInput{
		DefaultActions: []*elbv2.Action{
			{
				TargetGroupArn: aws.String(targetArn),
				Type:           aws.String(elbv2.ActionTypeEnumForward),
			},
		},
		LoadBalancerArn: aws.String(albArn),
		Port:            aws.Int64(port),
		Protocol:        aws.String(elbv2.ProtocolEnumHttp),
		Tags:            tags.AsElbv2(),
	})

	return errors.Wrap(err, "creating listener")
}

// GetVpcLoadBalancers lists the load balancers placed in any of the VPCs.
func GetVpcLoadBalancers(ctx context.Context, region string, vpcIds []string) (loadBalancers []*elbv2.LoadBalancer, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).ELBV2

	var marker *string
	for {
		var output *elbv2.DescribeLoadBalancersOutput
		output, err = svc.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return
		}
		for _, lb := range output.LoadBalancers {
			if common.Contains(vpcIds, aws.StringValue(lb.VpcId)) {
				loadBalancers = append(loadBalancers, lb)
			}
		}
		marker = output.NextMarker
		if marker == nil {
			break
		}
	}
	return
}

func GetVpcTargetGroups(ctx context.Context, region string, vpcIds []string) (targetGroups []*elbv2.TargetGroup, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).ELBV2

	var marker *string
	for {
		var output *elbv2.DescribeTargetGroupsOutput
		output, err = svc.DescribeTargetGroupsWithContext(ctx, &elbv2.DescribeTargetGroupsInput{Marker: marker})
		if err != nil {
			return
		}
		for _, tg := range output.TargetGroups {
			if common.Contains(vpcIds, aws.StringValue(tg.VpcId)) {
				targetGroups = append(targetGroups, tg)
			}
		}
		marker = output.NextMarker
		if marker == nil {
			break
		}
	}
	return
}

func GetListeners(ctx context.Context, region, albArn string) ([]*elbv2.Listener, error) {
	svc := connectors.GetAWSSession(region).ELBV2
	listenersOutput, err := svc.DescribeListenersWithContext(ctx, &elbv2.DescribeListenersInput{
		LoadBalancerArn: aws.String(albArn),
	})
	if err != nil {
		return nil, common.IgnoreNotFound(err)
	}
	return listenersOutput.Listeners, nil
}

func DeleteListeners(ctx context.Context, region, albArn string) error {
	svc := connectors.GetAWSSession(region).ELBV2
	listeners, err := GetListeners(ctx, region, albArn)
	if err != nil {
		return err
	}

	for _, listener := range listeners {
		_, err = svc.DeleteListenerWithContext(ctx, &elbv2.DeleteListenerInput{
			ListenerArn: listener.ListenerArn,
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrapf(err, "deleting listener %s", *listener.ListenerArn)
		}
	}

	return nil
}

// DeleteApplicationLoadBalancer removes the listeners, then the balancer, and
// waits until it no longer shows up.
func DeleteApplicationLoadBalancer(ctx context.Context, region, albArn string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).ELBV2
	if err := DeleteListeners(ctx, region, albArn); err != nil {
		return err
	}

	_, err := svc.DeleteLoadBalancerWithContext(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(albArn),
	})
	if err = common.IgnoreNotFound(err); err != nil {
		return errors.Wrapf(err, "deleting load balancer %s", albArn)
	}

	return poller.WaitFor(ctx, "load balancer deleted", func() (bool, error) {
		output, err := svc.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
			LoadBalancerArns: []*string{aws.String(albArn)},
		})
		if common.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return len(output.LoadBalancers) == 0, nil
	})
}

func DeleteTargetGroup(ctx context.Context, region, targetGroupArn string, poller lab.Poller) error {
	svc := connectors.GetAWSSession(region).ELBV2
	return common.DeleteWithRetry(ctx, poller, "deleting target group", func() error {
		_, err := svc.DeleteTargetGroupWithContext(ctx, &elbv2.DeleteTargetGroupInput{
			TargetGroupArn: aws.String(targetGroupArn),
		})
		return err
	})
}

func getTagValue(tags *elbv2.DescribeTagsOutput, tagKey string) (tagValue string) {
	for _, tagDesc := range tags.TagDescriptions {
		for _, tag := range tagDesc.Tags {
			if *tag.Key == tagKey {
				tagValue = *tag.Value
				break
			}
		}
		if tagValue != "" {
			break
		}
	}
	return
}

func GetResourceTagValue(ctx context.Context, region, arn, tagKey string) (tagValue string, err error) {
	svc := connectors.GetAWSSession(region).ELBV2
	if arn == "" {
		return
	}
	tags, err := svc.DescribeTagsWithContext(ctx, &elbv2.DescribeTagsInput{
		ResourceArns: []*string{
			&arn,
		},
	})
	if err != nil {
		return
	}

	tagValue = getTagValue(tags, tagKey)
	return
}
