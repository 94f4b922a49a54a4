package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// ELBv2 resources use the ARN as id.

func (p *Provider) createLoadBalancer(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	input := &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:    ptr(strArg(args, "name")),
		Subnets: strSliceArg(args, "subnets"),
	}
	if v := strArg(args, "type"); v != "" {
		input.Type = types.LoadBalancerTypeEnum(v)
	}
	if v := strArg(args, "scheme"); v != "" {
		input.Scheme = types.LoadBalancerSchemeEnum(v)
	}
	if sgs := strSliceArg(args, "security_groups"); len(sgs) > 0 {
		input.SecurityGroups = sgs
	}

	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	lb := resp.LoadBalancers[0]
	arn := *lb.LoadBalancerArn

	attrs := map[string]any{"id": arn, "arn": arn}
	if lb.DNSName != nil {
		attrs["dns_name"] = *lb.DNSName
	}
	return arn, attrs, nil
}

func (p *Provider) readLoadBalancer(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{arn},
	})
	if err != nil {
		if isAPIError(err, "LoadBalancerNotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe load balancer: %w", err)
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, false, nil
	}
	lb := resp.LoadBalancers[0]

	attrs := map[string]any{"id": arn, "arn": arn}
	if lb.DNSName != nil {
		attrs["dns_name"] = *lb.DNSName
	}
	return attrs, true, nil
}

// updateLoadBalancer handles the one mutable argument, security_groups.
func (p *Provider) updateLoadBalancer(ctx context.Context, arn string, args map[string]any) (map[string]any, error) {
	if sgs := strSliceArg(args, "security_groups"); len(sgs) > 0 {
		_, err := p.elbv2Client.SetSecurityGroups(ctx, &elasticloadbalancingv2.SetSecurityGroupsInput{
			LoadBalancerArn: &arn,
			SecurityGroups:  sgs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set load balancer security groups: %w", err)
		}
	}
	attrs, _, err := p.readLoadBalancer(ctx, arn)
	return attrs, err
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: &arn,
	})
	if err != nil {
		if isAPIError(err, "LoadBalancerNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete load balancer: %w", err)
	}
	return nil
}

func (p *Provider) createTargetGroup(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	port, _ := int32Arg(args, "port")
	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:     ptr(strArg(args, "name")),
		Port:     ptr(port),
		Protocol: types.ProtocolEnum(strArg(args, "protocol")),
		VpcId:    ptr(strArg(args, "vpc_id")),
	}
	if v := strArg(args, "target_type"); v != "" {
		input.TargetType = types.TargetTypeEnum(v)
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create target group: %w", err)
	}
	arn := *resp.TargetGroups[0].TargetGroupArn
	return arn, map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) readTargetGroup(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{arn},
	})
	if err != nil {
		if isAPIError(err, "TargetGroupNotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe target group: %w", err)
	}
	if len(resp.TargetGroups) == 0 {
		return nil, false, nil
	}
	return map[string]any{"id": arn, "arn": arn}, true, nil
}

// Every target group argument forces replacement, so update never has
// work to do.
func (p *Provider) updateTargetGroup(ctx context.Context, arn string) (map[string]any, error) {
	return map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: &arn,
	})
	if err != nil {
		if isAPIError(err, "TargetGroupNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete target group: %w", err)
	}
	return nil
}

func (p *Provider) createListener(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	port, _ := int32Arg(args, "port")
	input := &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: ptr(strArg(args, "load_balancer_arn")),
		Port:            ptr(port),
		Protocol:        types.ProtocolEnum(strArg(args, "protocol")),
		DefaultActions:  listenerActions(args),
	}

	resp, err := p.elbv2Client.CreateListener(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create listener: %w", err)
	}
	arn := *resp.Listeners[0].ListenerArn
	return arn, map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) readListener(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeListeners(ctx, &elasticloadbalancingv2.DescribeListenersInput{
		ListenerArns: []string{arn},
	})
	if err != nil {
		if isAPIError(err, "ListenerNotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe listener: %w", err)
	}
	if len(resp.Listeners) == 0 {
		return nil, false, nil
	}
	return map[string]any{"id": arn, "arn": arn}, true, nil
}

func (p *Provider) updateListener(ctx context.Context, arn string, args map[string]any) (map[string]any, error) {
	port, _ := int32Arg(args, "port")
	input := &elasticloadbalancingv2.ModifyListenerInput{
		ListenerArn:    &arn,
		Port:           ptr(port),
		Protocol:       types.ProtocolEnum(strArg(args, "protocol")),
		DefaultActions: listenerActions(args),
	}
	_, err := p.elbv2Client.ModifyListener(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to modify listener: %w", err)
	}
	return map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) deleteListener(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteListener(ctx, &elasticloadbalancingv2.DeleteListenerInput{
		ListenerArn: &arn,
	})
	if err != nil {
		if isAPIError(err, "ListenerNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete listener: %w", err)
	}
	return nil
}

func (p *Provider) createListenerRule(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	priority, _ := int32Arg(args, "priority")
	input := &elasticloadbalancingv2.CreateRuleInput{
		ListenerArn: ptr(strArg(args, "listener_arn")),
		Priority:    ptr(priority),
		Actions:     ruleActions(args),
		Conditions:  ruleConditions(args),
	}

	resp, err := p.elbv2Client.CreateRule(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create listener rule: %w", err)
	}
	arn := *resp.Rules[0].RuleArn
	return arn, map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) readListenerRule(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeRules(ctx, &elasticloadbalancingv2.DescribeRulesInput{
		RuleArns: []string{arn},
	})
	if err != nil {
		if isAPIError(err, "RuleNotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe listener rule: %w", err)
	}
	if len(resp.Rules) == 0 {
		return nil, false, nil
	}
	return map[string]any{"id": arn, "arn": arn}, true, nil
}

func (p *Provider) updateListenerRule(ctx context.Context, arn string, args map[string]any) (map[string]any, error) {
	_, err := p.elbv2Client.ModifyRule(ctx, &elasticloadbalancingv2.ModifyRuleInput{
		RuleArn:    &arn,
		Actions:    ruleActions(args),
		Conditions: ruleConditions(args),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to modify listener rule: %w", err)
	}
	if priority, ok := int32Arg(args, "priority"); ok {
		_, err := p.elbv2Client.SetRulePriorities(ctx, &elasticloadbalancingv2.SetRulePrioritiesInput{
			RulePriorities: []types.RulePriorityPair{{RuleArn: &arn, Priority: ptr(priority)}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set listener rule priority: %w", err)
		}
	}
	return map[string]any{"id": arn, "arn": arn}, nil
}

func (p *Provider) deleteListenerRule(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteRule(ctx, &elasticloadbalancingv2.DeleteRuleInput{
		RuleArn: &arn,
	})
	if err != nil {
		if isAPIError(err, "RuleNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete listener rule: %w", err)
	}
	return nil
}

func ruleActions(args map[string]any) []types.Action {
	var actions []types.Action
	for _, a := range blockList(args, "action") {
		action := types.Action{Type: types.ActionTypeEnum(strArg(a, "type"))}
		if v := strArg(a, "target_group_arn"); v != "" {
			action.TargetGroupArn = &v
		}
		actions = append(actions, action)
	}
	return actions
}

func ruleConditions(args map[string]any) []types.RuleCondition {
	var conditions []types.RuleCondition
	for _, c := range blockList(args, "condition") {
		conditions = append(conditions, types.RuleCondition{
			Field:  ptr(strArg(c, "field")),
			Values: strSliceArg(c, "values"),
		})
	}
	return conditions
}

func listenerActions(args map[string]any) []types.Action {
	var actions []types.Action
	for _, a := range blockList(args, "default_action") {
		action := types.Action{Type: types.ActionTypeEnum(strArg(a, "type"))}
		if v := strArg(a, "target_group_arn"); v != "" {
			action.TargetGroupArn = &v
		}
		actions = append(actions, action)
	}
	return actions
}
