package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
)

// The autoscaling group id is its name; capacity and launch template
// changes apply in place via UpdateAutoScalingGroup.

func (p *Provider) createAutoScalingGroup(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	name := strArg(args, "name")
	minSize, _ := int32Arg(args, "min_size")
	maxSize, _ := int32Arg(args, "max_size")

	input := &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: &name,
		MinSize:              ptr(minSize),
		MaxSize:              ptr(maxSize),
	}
	if desired, ok := int32Arg(args, "desired_capacity"); ok {
		input.DesiredCapacity = ptr(desired)
	}
	if v := strArg(args, "vpc_zone_identifier"); v != "" {
		input.VPCZoneIdentifier = &v
	}
	if arns := strSliceArg(args, "target_group_arns"); len(arns) > 0 {
		input.TargetGroupARNs = arns
	}
	input.LaunchTemplate = launchTemplateSpec(args)

	_, err := p.autoscalingClient.CreateAutoScalingGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create autoscaling group: %w", err)
	}

	attrs, _, err := p.readAutoScalingGroup(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return name, attrs, nil
}

func (p *Provider) readAutoScalingGroup(ctx context.Context, name string) (map[string]any, bool, error) {
	resp, err := p.autoscalingClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to describe autoscaling group %s: %w", name, err)
	}
	if len(resp.AutoScalingGroups) == 0 {
		return nil, false, nil
	}
	group := resp.AutoScalingGroups[0]

	attrs := map[string]any{"id": name}
	if group.AutoScalingGroupARN != nil {
		attrs["arn"] = *group.AutoScalingGroupARN
	}
	return attrs, true, nil
}

func (p *Provider) updateAutoScalingGroup(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	minSize, _ := int32Arg(args, "min_size")
	maxSize, _ := int32Arg(args, "max_size")

	input := &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: &name,
		MinSize:              ptr(minSize),
		MaxSize:              ptr(maxSize),
	}
	if desired, ok := int32Arg(args, "desired_capacity"); ok {
		input.DesiredCapacity = ptr(desired)
	}
	if v := strArg(args, "vpc_zone_identifier"); v != "" {
		input.VPCZoneIdentifier = &v
	}
	input.LaunchTemplate = launchTemplateSpec(args)

	_, err := p.autoscalingClient.UpdateAutoScalingGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update autoscaling group %s: %w", name, err)
	}

	attrs, _, err := p.readAutoScalingGroup(ctx, name)
	return attrs, err
}

func (p *Provider) deleteAutoScalingGroup(ctx context.Context, name string) error {
	_, err := p.autoscalingClient.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: &name,
		ForceDelete:          ptr(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete autoscaling group %s: %w", name, err)
	}
	return nil
}

func launchTemplateSpec(args map[string]any) *types.LaunchTemplateSpecification {
	blocks := blockList(args, "launch_template")
	if len(blocks) == 0 {
		return nil
	}
	block := blocks[0]
	spec := &types.LaunchTemplateSpecification{Version: ptr("$Default")}
	if v := strArg(block, "id"); v != "" {
		spec.LaunchTemplateId = &v
	}
	if v := strArg(block, "name"); v != "" {
		spec.LaunchTemplateName = &v
	}
	if v := strArg(block, "version"); v != "" {
		spec.Version = &v
	}
	return spec
}
