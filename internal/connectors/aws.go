package connectors

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	"github.com/aws/aws-sdk-go/service/wafv2"
	"github.com/aws/aws-sdk-go/service/wafv2/wafv2iface"
	"labctl/internal/env"
)

type SAwsSession struct {
	Session *session.Session
	EC2     ec2iface.EC2API
	ELBV2   elbv2iface.ELBV2API
	WAFV2   wafv2iface.WAFV2API
	Route53 route53iface.Route53API
	STS     stsiface.STSAPI
}

var (
	sessionsLock sync.RWMutex
	awsSessions  = map[string]*SAwsSession{}
)

// GetAWSSession returns the cached clients for a region, creating them on
// first use. An empty region means the globally configured one.
func GetAWSSession(region string) *SAwsSession {
	if region == "" {
		region = env.Config.Region
	}

	sessionsLock.RLock()
	awsSession, ok := awsSessions[region]
	sessionsLock.RUnlock()
	if ok {
		return awsSession
	}

	sessionsLock.Lock()
	defer sessionsLock.Unlock()
	if awsSession, ok = awsSessions[region]; ok {
		return awsSession
	}

	sess := newSession(region)
	awsSession = &SAwsSession{
		Session: sess,
		EC2:     ec2.New(sess),
		ELBV2:   elbv2.New(sess),
		WAFV2:   wafv2.New(sess),
		Route53: route53.New(sess),
		STS:     sts.New(sess),
	}
	awsSessions[region] = awsSession
	return awsSession
}

// SetAWSSession installs clients for a region, replacing any cached ones.
func SetAWSSession(region string, awsSession *SAwsSession) {
	sessionsLock.Lock()
	defer sessionsLock.Unlock()
	awsSessions[region] = awsSession
}

func ResetAWSSessions() {
	sessionsLock.Lock()
	defer sessionsLock.Unlock()
	awsSessions = map[string]*SAwsSession{}
}

func newSession(region string) *session.Session {
	config := aws.NewConfig()
	config = config.WithRegion(region)
	config = config.WithCredentialsChainVerboseErrors(true)

	opts := session.Options{
		Config:                  *config,
		Profile:                 env.Config.Profile,
		SharedConfigState:       session.SharedConfigEnable,
		AssumeRoleTokenProvider: stscreds.StdinTokenProvider,
	}

	return session.Must(session.NewSessionWithOptions(opts))
}
