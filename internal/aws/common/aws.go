package common

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/olekukonko/tablewriter"
	"labctl/internal/connectors"
	"labctl/internal/lab"
	"labctl/internal/logging"
)

func RenderTable(fields []string, data [][]string) {
	table := tablewriter.NewWriter(logging.Output)
	table.SetHeader(fields)
	table.SetRowLine(true)
	table.AppendBulk(data)
	table.Render()
}

func GetAccountId(ctx context.Context, region string) (string, error) {
	svc := connectors.GetAWSSession(region).STS
	result, err := svc.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return *result.Account, nil
}

func Filter(name string, values ...string) *ec2.Filter {
	return &ec2.Filter{
		Name:   aws.String(name),
		Values: aws.StringSlice(values),
	}
}

func TagFilter(key string, values ...string) *ec2.Filter {
	return Filter("tag:"+key, values...)
}

func LabFilter(labName lab.LabName) *ec2.Filter {
	return TagFilter(lab.LabNameTagKey, string(labName))
}

func ManagedFilter() *ec2.Filter {
	return TagFilter(lab.ManagedTagKey, "true")
}

func Chunk(ids []string, size int) (chunks [][]string) {
	for size < len(ids) {
		ids, chunks = ids[size:], append(chunks, ids[:size])
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return
}

func Contains(ids []string, id string) bool {
	for _, item := range ids {
		if item == id {
			return true
		}
	}
	return false
}
