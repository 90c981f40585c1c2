package awstest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
)

type STS struct {
	stsiface.STSAPI
	cloud  *Cloud
	region string
}

func (s *STS) GetCallerIdentityWithContext(_ aws.Context, _ *sts.GetCallerIdentityInput, _ ...request.Option) (*sts.GetCallerIdentityOutput, error) {
	c := s.cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(s.region, "GetCallerIdentity"); err != nil {
		return nil, err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(c.AccountId),
		Arn:     aws.String(fmt.Sprintf("arn:aws:iam::%s:user/labctl", c.AccountId)),
		UserId:  aws.String("AIDAEXAMPLEUSERID"),
	}, nil
}
