package compute

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

const (
	DefaultInstanceType = "t2.micro"
	terminateBatchSize  = 50
)

type InstanceParams struct {
	ImageId          string
	InstanceType     string
	KeyName          string
	SubnetId         string
	SecurityGroupIds []string
	PrivateIp        string
	UserData         string
}

func RunInstance(ctx context.Context, region string, params InstanceParams, tags lab.Tags) (*ec2.Instance, error) {
	svc := connectors.GetAWSSession(region).EC2
	instanceType := params.InstanceType
	if instanceType == "" {
		instanceType = DefaultInstanceType
	}

	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(params.ImageId),
		InstanceType:      aws.String(instanceType),
		MinCount:          aws.Int64(1),
		MaxCount:          aws.Int64(1),
		SubnetId:          aws.String(params.SubnetId),
		SecurityGroupIds:  aws.StringSlice(params.SecurityGroupIds),
		TagSpecifications: tags.AsEc2TagSpecifications(ec2.ResourceTypeInstance),
	}
	if params.KeyName != "" {
		input.KeyName = aws.String(params.KeyName)
	}
	if params.PrivateIp != "" {
		input.PrivateIpAddress = aws.String(params.PrivateIp)
	}
	if params.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(params.UserData)))
	}

	output, err := svc.RunInstancesWithContext(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "running instance in %s", params.SubnetId)
	}
	instance := output.Instances[0]
	log.Info().Str("region", region).Msgf("launched instance %s (%s)", *instance.InstanceId, instanceType)
	return instance, nil
}

func GetInstances(ctx context.Context, region string, instanceIds []string) (instances []*ec2.Instance, err error) {
	if len(instanceIds) == 0 {
		err = errors.New("instanceIds list must not be empty")
		return
	}
	svc := connectors.GetAWSSession(region).EC2
	describeResponse, err := svc.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(instanceIds),
	})
	if err != nil {
		return
	}
	instances = getEc2InstancesFromDescribeOutput(describeResponse)
	return
}

func getEc2InstancesFromDescribeOutput(describeResponse *ec2.DescribeInstancesOutput) (instances []*ec2.Instance) {
	for _, reservation := range describeResponse.Reservations {
		instances = append(instances, reservation.Instances...)
	}
	return
}

// WaitForInstanceRunning waits for the instance and returns its latest description.
func WaitForInstanceRunning(ctx context.Context, region, instanceId string, poller lab.Poller) (instance *ec2.Instance, err error) {
	err = poller.WaitFor(ctx, "instance "+instanceId+" running", func() (bool, error) {
		instances, err := GetInstances(ctx, region, []string{instanceId})
		if err != nil {
			if common.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if len(instances) == 0 {
			return false, nil
		}
		instance = instances[0]
		switch state := aws.StringValue(instance.State.Name); state {
		case ec2.InstanceStateNameRunning:
			return true, nil
		case ec2.InstanceStateNamePending:
			return false, nil
		default:
			return false, errors.Errorf("instance %s is %s", instanceId, state)
		}
	})
	return
}

// GetVpcInstances lists the instances of the VPCs that are not terminated.
func GetVpcInstances(ctx context.Context, region string, vpcIds []string) (instances []*ec2.Instance, err error) {
	if len(vpcIds) == 0 {
		return
	}
	svc := connectors.GetAWSSession(region).EC2

	var nextToken *string
	for {
		var output *ec2.DescribeInstancesOutput
		output, err = svc.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
			Filters: []*ec2.Filter{
				common.Filter("vpc-id", vpcIds...),
				common.Filter("instance-state-name",
					ec2.InstanceStateNamePending,
					ec2.InstanceStateNameRunning,
					ec2.InstanceStateNameShuttingDown,
					ec2.InstanceStateNameStopping,
					ec2.InstanceStateNameStopped,
				),
			},
			NextToken: nextToken,
		})
		if err != nil {
			return
		}
		instances = append(instances, getEc2InstancesFromDescribeOutput(output)...)
		nextToken = output.NextToken
		if nextToken == nil {
			break
		}
	}
	return
}

func GetInstancesIds(instances []*ec2.Instance) []string {
	var instanceIds []string
	for _, instance := range instances {
		instanceIds = append(instanceIds, *instance.InstanceId)
	}
	return instanceIds
}

var terminationSemaphore = semaphore.NewWeighted(20)

func setDisableInstanceApiTermination(ctx context.Context, region, instanceId string, value bool) error {
	svc := connectors.GetAWSSession(region).EC2
	_, err := svc.ModifyInstanceAttributeWithContext(ctx, &ec2.ModifyInstanceAttributeInput{
		DisableApiTermination: &ec2.AttributeBooleanValue{
			Value: aws.Bool(value),
		},
		InstanceId: aws.String(instanceId),
	})
	return err
}

// SetDisableInstancesApiTermination updates the termination protection of
// instances concurrently, at most 20 calls at a time.
func SetDisableInstancesApiTermination(ctx context.Context, region string, instanceIds []string, value bool) error {
	var wg sync.WaitGroup
	var failedInstances int64

	wg.Add(len(instanceIds))
	for i := range instanceIds {
		go func(i int) {
			defer wg.Done()
			if err := terminationSemaphore.Acquire(ctx, 1); err != nil {
				atomic.AddInt64(&failedInstances, 1)
				return
			}
			defer terminationSemaphore.Release(1)

			err := setDisableInstanceApiTermination(ctx, region, instanceIds[i], value)
			if err != nil && !common.IsNotFound(err) {
				atomic.AddInt64(&failedInstances, 1)
				log.Error().Err(err).Msgf("failed to set DisableApiTermination on %s", instanceIds[i])
			}
		}(i)
	}
	wg.Wait()
	if failedInstances != 0 {
		return errors.Errorf("failed to set DisableApiTermination on %d instances", failedInstances)
	}
	return nil
}

// TerminateInstances lifts termination protection, terminates in batches and
// waits until every instance is terminated.
func TerminateInstances(ctx context.Context, region string, instanceIds []string, poller lab.Poller) error {
	if len(instanceIds) == 0 {
		return nil
	}
	svc := connectors.GetAWSSession(region).EC2

	for _, batch := range common.Chunk(instanceIds, terminateBatchSize) {
		if err := SetDisableInstancesApiTermination(ctx, region, batch, false); err != nil {
			log.Warn().Err(err).Msg("continuing with termination")
		}
		_, err := svc.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: aws.StringSlice(batch),
		})
		if err = common.IgnoreNotFound(err); err != nil {
			return errors.Wrap(err, "terminating instances")
		}
	}

	return poller.WaitFor(ctx, "instances terminated", func() (bool, error) {
		instances, err := GetInstances(ctx, region, instanceIds)
		if err != nil {
			if common.IsNotFound(err) {
				return true, nil
			}
			return false, err
		}
		for _, instance := range instances {
			if aws.StringValue(instance.State.Name) != ec2.InstanceStateNameTerminated {
				return false, nil
			}
		}
		return true, nil
	})
}
