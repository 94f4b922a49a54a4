// Package aws implements the AWS provider: EC2 instances, key pairs,
// security groups, launch templates, autoscaling groups, and the ELBv2
// family, plus the aws_ami data source.
package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/loomworks/loom/internal/provider"
)

type Provider struct {
	region string

	ec2Client         *ec2.Client
	autoscalingClient *autoscaling.Client
	elbv2Client       *elasticloadbalancingv2.Client
}

func New() *Provider {
	return &Provider{}
}

func Factory() provider.Interface { return New() }

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	p.region = "us-east-1"
	if region, ok := settings["region"].(string); ok && region != "" {
		p.region = region
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.autoscalingClient = autoscaling.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	return nil
}

var schemas = map[string]*provider.Schema{
	"aws_instance": {
		Arguments: map[string]*provider.Argument{
			"ami":                    {Required: true, ForceNew: true},
			"instance_type":          {Required: true, ForceNew: true},
			"subnet_id":              {ForceNew: true},
			"key_name":               {ForceNew: true},
			"user_data":              {ForceNew: true},
			"vpc_security_group_ids": {ForceNew: true},
			"tags":                   {},
		},
		Computed: []string{"id", "private_ip", "public_ip"},
	},
	"aws_key_pair": {
		Arguments: map[string]*provider.Argument{
			"key_name":   {Required: true, ForceNew: true},
			"public_key": {Required: true, ForceNew: true},
			"tags":       {ForceNew: true},
		},
		Computed: []string{"id", "fingerprint"},
	},
	"aws_security_group": {
		Arguments: map[string]*provider.Argument{
			"name":        {Required: true, ForceNew: true},
			"description": {ForceNew: true},
			"vpc_id":      {ForceNew: true},
			"ingress":     {},
			"egress":      {},
		},
		Computed: []string{"id"},
	},
	"aws_launch_template": {
		Arguments: map[string]*provider.Argument{
			"name":                   {Required: true, ForceNew: true},
			"image_id":               {Required: true},
			"instance_type":          {Required: true},
			"key_name":               {},
			"user_data":              {},
			"vpc_security_group_ids": {},
		},
		Computed: []string{"id", "latest_version"},
	},
	"aws_autoscaling_group": {
		Arguments: map[string]*provider.Argument{
			"name":                {Required: true, ForceNew: true},
			"min_size":            {Required: true},
			"max_size":            {Required: true},
			"desired_capacity":    {},
			"vpc_zone_identifier": {},
			"launch_template":     {},
			"target_group_arns":   {},
		},
		Computed: []string{"id", "arn"},
	},
	"aws_lb": {
		Arguments: map[string]*provider.Argument{
			"name":            {Required: true, ForceNew: true},
			"type":            {ForceNew: true},
			"scheme":          {ForceNew: true},
			"subnets":         {Required: true, ForceNew: true},
			"security_groups": {},
		},
		Computed: []string{"id", "arn", "dns_name"},
	},
	"aws_lb_target_group": {
		Arguments: map[string]*provider.Argument{
			"name":        {Required: true, ForceNew: true},
			"port":        {Required: true, ForceNew: true},
			"protocol":    {Required: true, ForceNew: true},
			"vpc_id":      {Required: true, ForceNew: true},
			"target_type": {ForceNew: true},
		},
		Computed: []string{"id", "arn"},
	},
	"aws_lb_listener": {
		Arguments: map[string]*provider.Argument{
			"load_balancer_arn": {Required: true, ForceNew: true},
			"port":              {Required: true},
			"protocol":          {Required: true},
			"default_action":    {Required: true},
		},
		Computed: []string{"id", "arn"},
	},
	"aws_lb_listener_rule": {
		Arguments: map[string]*provider.Argument{
			"listener_arn": {Required: true, ForceNew: true},
			"priority":     {Required: true},
			"action":       {Required: true},
			"condition":    {Required: true},
		},
		Computed: []string{"id", "arn"},
	},
	"aws_ami": {
		Arguments: map[string]*provider.Argument{
			"owners":      {Required: true},
			"most_recent": {},
			"filter":      {},
		},
		Computed: []string{"id", "name", "architecture", "creation_date"},
	},
}

func (p *Provider) Schema(typeName string) (*provider.Schema, error) {
	s, ok := schemas[typeName]
	if !ok {
		return nil, fmt.Errorf("unsupported type: %s", typeName)
	}
	return s, nil
}

func (p *Provider) Validate(ctx context.Context, typeName string, args map[string]any) error {
	schema, err := p.Schema(typeName)
	if err != nil {
		return err
	}
	for name := range args {
		if _, ok := schema.Arguments[name]; !ok {
			return fmt.Errorf("unsupported argument %q for %s", name, typeName)
		}
	}
	for name, arg := range schema.Arguments {
		if arg.Required {
			if v, ok := args[name]; !ok || v == nil {
				return fmt.Errorf("missing required argument %q for %s", name, typeName)
			}
		}
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, typeName string, args map[string]any) (string, map[string]any, error) {
	switch typeName {
	case "aws_instance":
		return p.createInstance(ctx, args)
	case "aws_key_pair":
		return p.createKeyPair(ctx, args)
	case "aws_security_group":
		return p.createSecurityGroup(ctx, args)
	case "aws_launch_template":
		return p.createLaunchTemplate(ctx, args)
	case "aws_autoscaling_group":
		return p.createAutoScalingGroup(ctx, args)
	case "aws_lb":
		return p.createLoadBalancer(ctx, args)
	case "aws_lb_target_group":
		return p.createTargetGroup(ctx, args)
	case "aws_lb_listener":
		return p.createListener(ctx, args)
	case "aws_lb_listener_rule":
		return p.createListenerRule(ctx, args)
	default:
		return "", nil, fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *Provider) Read(ctx context.Context, typeName, id string) (map[string]any, bool, error) {
	switch typeName {
	case "aws_instance":
		return p.readInstance(ctx, id)
	case "aws_key_pair":
		return p.readKeyPair(ctx, id)
	case "aws_security_group":
		return p.readSecurityGroup(ctx, id)
	case "aws_launch_template":
		return p.readLaunchTemplate(ctx, id)
	case "aws_autoscaling_group":
		return p.readAutoScalingGroup(ctx, id)
	case "aws_lb":
		return p.readLoadBalancer(ctx, id)
	case "aws_lb_target_group":
		return p.readTargetGroup(ctx, id)
	case "aws_lb_listener":
		return p.readListener(ctx, id)
	case "aws_lb_listener_rule":
		return p.readListenerRule(ctx, id)
	default:
		return nil, false, fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *Provider) Update(ctx context.Context, typeName, id string, args map[string]any) (map[string]any, error) {
	switch typeName {
	case "aws_instance":
		return p.updateInstance(ctx, id, args)
	case "aws_key_pair":
		// Every key pair argument forces replacement.
		return map[string]any{"id": id}, nil
	case "aws_security_group":
		return p.updateSecurityGroup(ctx, id, args)
	case "aws_launch_template":
		return p.updateLaunchTemplate(ctx, id, args)
	case "aws_autoscaling_group":
		return p.updateAutoScalingGroup(ctx, id, args)
	case "aws_lb":
		return p.updateLoadBalancer(ctx, id, args)
	case "aws_lb_target_group":
		return p.updateTargetGroup(ctx, id)
	case "aws_lb_listener":
		return p.updateListener(ctx, id, args)
	case "aws_lb_listener_rule":
		return p.updateListenerRule(ctx, id, args)
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *Provider) Delete(ctx context.Context, typeName, id string) error {
	switch typeName {
	case "aws_instance":
		return p.deleteInstance(ctx, id)
	case "aws_key_pair":
		return p.deleteKeyPair(ctx, id)
	case "aws_security_group":
		return p.deleteSecurityGroup(ctx, id)
	case "aws_launch_template":
		return p.deleteLaunchTemplate(ctx, id)
	case "aws_autoscaling_group":
		return p.deleteAutoScalingGroup(ctx, id)
	case "aws_lb":
		return p.deleteLoadBalancer(ctx, id)
	case "aws_lb_target_group":
		return p.deleteTargetGroup(ctx, id)
	case "aws_lb_listener":
		return p.deleteListener(ctx, id)
	case "aws_lb_listener_rule":
		return p.deleteListenerRule(ctx, id)
	default:
		return fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *Provider) ReadDataSource(ctx context.Context, typeName string, args map[string]any) (map[string]any, error) {
	switch typeName {
	case "aws_ami":
		return p.readAMI(ctx, args)
	default:
		return nil, fmt.Errorf("unsupported data source: %s", typeName)
	}
}
