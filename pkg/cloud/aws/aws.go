// Package aws implements the cloud interfaces on EC2, EventBridge and
// Lambda. Shutdown rules invoke a Lambda function that stops or terminates
// the machine named in the rule payload.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

type EventBridgeAPI interface {
	PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
}

type LambdaAPI interface {
	AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
}

// Cloud implements cloud.Compute, cloud.NetworkPolicies and
// cloud.EventScheduler.
type Cloud struct {
	log         *logrus.Entry
	ec2         EC2API
	eventbridge EventBridgeAPI
	lambda      LambdaAPI

	mu           sync.Mutex
	functionARNs map[string]string
	// granted holds the invoke statements known to exist, by function.
	granted map[string]bool
}

var (
	_ cloud.Compute         = &Cloud{}
	_ cloud.NetworkPolicies = &Cloud{}
	_ cloud.EventScheduler  = &Cloud{}
)

// New builds clients from the default credential chain for region.
func New(ctx context.Context, log *logrus.Entry, region string) (*Cloud, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %w", err)
	}
	log.Infof("using aws region %s", cfg.Region)
	return NewFromClients(log, ec2.NewFromConfig(cfg), eventbridge.NewFromConfig(cfg), lambda.NewFromConfig(cfg)), nil
}

func NewFromClients(log *logrus.Entry, ec2Client EC2API, eventsClient EventBridgeAPI, lambdaClient LambdaAPI) *Cloud {
	return &Cloud{
		log:          log,
		ec2:          ec2Client,
		eventbridge:  eventsClient,
		lambda:       lambdaClient,
		functionARNs: map[string]string{},
		granted:      map[string]bool{},
	}
}

func (c *Cloud) Provider() cloud.Provider {
	return cloud.Provider{Compute: c, Network: c, Scheduler: c}
}

// errorCode returns the service error code of err, if any.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// translate maps service error codes onto the cloud sentinel errors.
func translate(err error, codes map[string]error) error {
	if err == nil {
		return nil
	}
	if sentinel, ok := codes[errorCode(err)]; ok {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}
