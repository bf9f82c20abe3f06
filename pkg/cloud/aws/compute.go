package aws

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

var instanceNotFound = map[string]error{
	"InvalidInstanceID.NotFound":  cloud.ErrNotFound,
	"InvalidInstanceID.Malformed": cloud.ErrNotFound,
}

func (c *Cloud) CreateMachine(ctx context.Context, spec cloud.MachineSpec) (*cloud.Machine, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          awssdk.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.MachineType),
		MinCount:         awssdk.Int32(1),
		MaxCount:         awssdk.Int32(1),
		SecurityGroupIds: spec.PolicyIDs,
		UserData:         awssdk.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
	}
	if spec.KeyName != "" {
		input.KeyName = awssdk.String(spec.KeyName)
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags(spec.Tags),
		}}
	}

	out, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(out.Instances) != 1 {
		return nil, fmt.Errorf("expected 1 instance, got %d", len(out.Instances))
	}
	m := machine(out.Instances[0])
	c.log.WithField("machine", m.ID).Infof("instance launched from %s", spec.ImageID)
	return m, nil
}

func (c *Cloud) DescribeMachine(ctx context.Context, id string) (*cloud.Machine, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, translate(err, instanceNotFound)
	}
	for _, r := range out.Reservations {
		for _, i := range r.Instances {
			if awssdk.ToString(i.InstanceId) == id {
				return machine(i), nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s: %w", id, cloud.ErrNotFound)
}

func (c *Cloud) StopMachine(ctx context.Context, id string) error {
	_, err := c.ec2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{id},
	})
	return translate(err, instanceNotFound)
}

func (c *Cloud) TerminateMachine(ctx context.Context, id string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	return translate(err, instanceNotFound)
}

func machine(i types.Instance) *cloud.Machine {
	m := &cloud.Machine{
		ID:    awssdk.ToString(i.InstanceId),
		State: api.MachineStateUnknown,
	}
	if i.State != nil {
		m.State = state(i.State.Name)
	}
	m.PublicAddress = awssdk.ToString(i.PublicDnsName)
	if m.PublicAddress == "" {
		m.PublicAddress = awssdk.ToString(i.PublicIpAddress)
	}
	return m
}

func state(name types.InstanceStateName) api.MachineState {
	switch name {
	case types.InstanceStateNamePending:
		return api.MachineStatePending
	case types.InstanceStateNameRunning:
		return api.MachineStateRunning
	case types.InstanceStateNameStopping:
		return api.MachineStateStopping
	case types.InstanceStateNameStopped:
		return api.MachineStateStopped
	case types.InstanceStateNameShuttingDown:
		return api.MachineStateShuttingDown
	case types.InstanceStateNameTerminated:
		return api.MachineStateTerminated
	}
	return api.MachineStateUnknown
}

func tags(m map[string]string) []types.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: awssdk.String(k), Value: awssdk.String(m[k])})
	}
	return out
}
