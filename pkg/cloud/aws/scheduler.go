package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

const eventsPrincipal = "events.amazonaws.com"

// CreateOneShotRule creates or updates an enabled EventBridge schedule rule.
// The returned id is the rule ARN.
func (c *Cloud) CreateOneShotRule(ctx context.Context, name, expression string) (string, error) {
	out, err := c.eventbridge.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               awssdk.String(name),
		ScheduleExpression: awssdk.String(expression),
		State:              types.RuleStateEnabled,
	})
	if err != nil {
		return "", err
	}
	return awssdk.ToString(out.RuleArn), nil
}

// GrantInvokePermission lets the rule invoke the target function. One
// statement covers every rule sharing the name prefix up to the first dash
// (rule/shutdown-*), keeping the function policy under its size limit. It
// returns cloud.ErrPermissionExists once the statement is in place.
func (c *Cloud) GrantInvokePermission(ctx context.Context, target, ruleID string) error {
	sourceARN, statementID := ruleFamily(ruleID)
	key := target + "/" + statementID

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.granted[key] {
		return cloud.ErrPermissionExists
	}
	_, err := c.lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: awssdk.String(target),
		StatementId:  awssdk.String(statementID),
		Action:       awssdk.String("lambda:InvokeFunction"),
		Principal:    awssdk.String(eventsPrincipal),
		SourceArn:    awssdk.String(sourceARN),
	})
	err = translate(err, map[string]error{
		"ResourceConflictException": cloud.ErrPermissionExists,
		"ResourceNotFoundException": cloud.ErrNotFound,
	})
	if err == nil || errors.Is(err, cloud.ErrPermissionExists) {
		c.granted[key] = true
	}
	return err
}

func (c *Cloud) SetRuleTarget(ctx context.Context, ruleID, target, targetID string, payload []byte) error {
	arn, err := c.functionARN(ctx, target)
	if err != nil {
		return err
	}
	out, err := c.eventbridge.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: awssdk.String(ruleName(ruleID)),
		Targets: []types.Target{{
			Id:    awssdk.String(targetID),
			Arn:   awssdk.String(arn),
			Input: awssdk.String(string(payload)),
		}},
	})
	if err != nil {
		return err
	}
	if len(out.FailedEntries) > 0 {
		e := out.FailedEntries[0]
		return fmt.Errorf("target %s rejected: %s: %s", targetID, awssdk.ToString(e.ErrorCode), awssdk.ToString(e.ErrorMessage))
	}
	return nil
}

// functionARN resolves a function name to its ARN once per name.
func (c *Cloud) functionARN(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "arn:") {
		return target, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if arn, ok := c.functionARNs[target]; ok {
		return arn, nil
	}
	out, err := c.lambda.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: awssdk.String(target),
	})
	if err != nil {
		return "", fmt.Errorf("resolving function %s: %w", target, translate(err, map[string]error{
			"ResourceNotFoundException": cloud.ErrNotFound,
		}))
	}
	if out.Configuration == nil || out.Configuration.FunctionArn == nil {
		return "", fmt.Errorf("function %s has no arn", target)
	}
	arn := *out.Configuration.FunctionArn
	c.functionARNs[target] = arn
	return arn, nil
}

// ruleFamily returns the wildcard source ARN and statement id shared by
// rules named like the given one.
func ruleFamily(ruleID string) (sourceARN, statementID string) {
	name := ruleName(ruleID)
	prefix := name
	if i := strings.Index(name, "-"); i > 0 {
		prefix = name[:i]
	}
	return strings.TrimSuffix(ruleID, name) + prefix + "-*", "EventBridge-" + prefix
}

// ruleName extracts the rule name from a rule ARN
// (arn:aws:events:<region>:<account>:rule/[<bus>/]<name>).
func ruleName(ruleID string) string {
	if i := strings.LastIndex(ruleID, "/"); i >= 0 {
		return ruleID[i+1:]
	}
	return ruleID
}
