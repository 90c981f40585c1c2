package compute

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"labctl/internal/aws/common"
	"labctl/internal/connectors"
	"labctl/internal/lab"
)

// ResolveImageId returns image as is when it is an AMI id, otherwise the
// newest available AMI of the named family.
func ResolveImageId(ctx context.Context, region, image string) (string, error) {
	if image == "" {
		image = lab.DefaultImage
	}
	if lab.IsImageId(image) {
		return image, nil
	}
	family, ok := lab.ImageFamilies[image]
	if !ok {
		return "", errors.Errorf("unknown image %q", image)
	}

	svc := connectors.GetAWSSession(region).EC2
	output, err := svc.DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{
		Owners: []*string{aws.String(family.Owner)},
		Filters: []*ec2.Filter{
			common.Filter("name", family.NamePattern),
			common.Filter("state", ec2.ImageStateAvailable),
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "looking up %s images", image)
	}
	if len(output.Images) == 0 {
		return "", errors.Errorf("no %s image available in %s", image, region)
	}

	images := output.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.StringValue(images[i].CreationDate) > aws.StringValue(images[j].CreationDate)
	})
	return *images[0].ImageId, nil
}
