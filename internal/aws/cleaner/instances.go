package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go/service/ec2"
	"labctl/internal/aws/compute"
	"labctl/internal/lab"
)

type Instances struct {
	Poller    lab.Poller
	region    string
	Instances []*ec2.Instance
}

func (i *Instances) Kind() string {
	return "Instances"
}

func (i *Instances) Fetch(ctx context.Context, target lab.Target) (err error) {
	i.region = target.Region
	i.Instances, err = compute.GetVpcInstances(ctx, target.Region, target.VpcIds)
	return
}

func (i *Instances) Delete(ctx context.Context) error {
	instanceIds := compute.GetInstancesIds(i.Instances)
	if len(instanceIds) == 0 {
		return nil
	}
	return compute.TerminateInstances(ctx, i.region, instanceIds, i.Poller)
}

func (i *Instances) Print() {
	printResources(i.Kind(), compute.GetInstancesIds(i.Instances))
}
