package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

func (c *Cloud) ListPolicies(ctx context.Context) ([]api.NetworkPolicy, error) {
	var policies []api.NetworkPolicy
	p := ec2.NewDescribeSecurityGroupsPaginator(c.ec2, &ec2.DescribeSecurityGroupsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, g := range page.SecurityGroups {
			policies = append(policies, policy(g))
		}
	}
	return policies, nil
}

func (c *Cloud) CreatePolicy(ctx context.Context, name, description string) (*api.NetworkPolicy, error) {
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String(name),
		Description: awssdk.String(description),
	})
	if err != nil {
		return nil, err
	}
	return &api.NetworkPolicy{
		ID:          awssdk.ToString(out.GroupId),
		Name:        name,
		Description: description,
	}, nil
}

func (c *Cloud) AuthorizeIngress(ctx context.Context, policyID string, rule api.IngressRule) error {
	_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awssdk.String(policyID),
		IpPermissions: []types.IpPermission{{
			IpProtocol: awssdk.String(rule.Protocol),
			FromPort:   awssdk.Int32(rule.FromPort),
			ToPort:     awssdk.Int32(rule.ToPort),
			IpRanges:   []types.IpRange{{CidrIp: awssdk.String(rule.CIDR)}},
		}},
	})
	return translate(err, map[string]error{
		"InvalidPermission.Duplicate": cloud.ErrRuleExists,
		"InvalidGroup.NotFound":       cloud.ErrNotFound,
	})
}

func policy(g types.SecurityGroup) api.NetworkPolicy {
	p := api.NetworkPolicy{
		ID:          awssdk.ToString(g.GroupId),
		Name:        awssdk.ToString(g.GroupName),
		Description: awssdk.ToString(g.Description),
	}
	for _, perm := range g.IpPermissions {
		for _, r := range perm.IpRanges {
			p.Rules = append(p.Rules, api.IngressRule{
				Protocol: awssdk.ToString(perm.IpProtocol),
				FromPort: awssdk.ToInt32(perm.FromPort),
				ToPort:   awssdk.ToInt32(perm.ToPort),
				CIDR:     awssdk.ToString(r.CidrIp),
			})
		}
	}
	return p
}
