package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// --- aws_instance ---

func (p *Provider) createInstance(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      ptr(strArg(args, "ami")),
		InstanceType: types.InstanceType(strArg(args, "instance_type")),
		MinCount:     ptr(int32(1)),
		MaxCount:     ptr(int32(1)),
	}
	if v := strArg(args, "subnet_id"); v != "" {
		input.SubnetId = &v
	}
	if v := strArg(args, "key_name"); v != "" {
		input.KeyName = &v
	}
	if v := strArg(args, "user_data"); v != "" {
		input.UserData = &v
	}
	if sgs := strSliceArg(args, "vpc_security_group_ids"); len(sgs) > 0 {
		input.SecurityGroupIds = sgs
	}
	if tags := strMapArg(args, "tags"); len(tags) > 0 {
		input.TagSpecifications = []types.TagSpecification{
			{ResourceType: types.ResourceTypeInstance, Tags: ec2Tags(tags)},
		}
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return "", nil, fmt.Errorf("no instances created")
	}
	id := *resp.Instances[0].InstanceId

	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	}, 5*time.Minute); err != nil {
		return "", nil, fmt.Errorf("failed waiting for instance %s running: %w", id, err)
	}

	attrs, _, err := p.readInstance(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, attrs, nil
}

func (p *Provider) readInstance(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe instance %s: %w", id, err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, false, nil
	}
	instance := resp.Reservations[0].Instances[0]
	if instance.State != nil && instance.State.Name == types.InstanceStateNameTerminated {
		return nil, false, nil
	}

	attrs := map[string]any{"id": id}
	if instance.PrivateIpAddress != nil {
		attrs["private_ip"] = *instance.PrivateIpAddress
	}
	if instance.PublicIpAddress != nil {
		attrs["public_ip"] = *instance.PublicIpAddress
	}
	return attrs, true, nil
}

// updateInstance handles the only mutable instance argument, tags.
func (p *Provider) updateInstance(ctx context.Context, id string, args map[string]any) (map[string]any, error) {
	if tags := strMapArg(args, "tags"); len(tags) > 0 {
		_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{id},
			Tags:      ec2Tags(tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update tags on %s: %w", id, err)
		}
	}
	attrs, _, err := p.readInstance(ctx, id)
	return attrs, err
}

func (p *Provider) deleteInstance(ctx context.Context, id string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", id, err)
	}

	waiter := ec2.NewInstanceTerminatedWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	}, 10*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for instance %s termination: %w", id, err)
	}
	return nil
}

// --- aws_security_group ---

func (p *Provider) createSecurityGroup(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:   ptr(strArg(args, "name")),
		Description: ptr(strArg(args, "description")),
	}
	if *input.Description == "" {
		input.Description = ptr("Managed by loom")
	}
	if v := strArg(args, "vpc_id"); v != "" {
		input.VpcId = &v
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create security group: %w", err)
	}
	id := *resp.GroupId

	if err := p.authorizeRules(ctx, id, args); err != nil {
		return "", nil, err
	}
	return id, map[string]any{"id": id}, nil
}

func (p *Provider) authorizeRules(ctx context.Context, id string, args map[string]any) error {
	if perms := ipPermissions(blockList(args, "ingress")); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &id,
			IpPermissions: perms,
		})
		if err != nil {
			return fmt.Errorf("failed to authorize ingress on %s: %w", id, err)
		}
	}
	if perms := ipPermissions(blockList(args, "egress")); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &id,
			IpPermissions: perms,
		})
		if err != nil {
			return fmt.Errorf("failed to authorize egress on %s: %w", id, err)
		}
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, "InvalidGroup.NotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe security group %s: %w", id, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, false, nil
	}
	return map[string]any{"id": id}, true, nil
}

// updateSecurityGroup reconciles rules by revoking whatever is
// currently attached and authorizing the desired set.
func (p *Provider) updateSecurityGroup(ctx context.Context, id string, args map[string]any) (map[string]any, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security group %s: %w", id, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, fmt.Errorf("security group %s not found", id)
	}
	sg := resp.SecurityGroups[0]

	if len(sg.IpPermissions) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       &id,
			IpPermissions: sg.IpPermissions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to revoke ingress on %s: %w", id, err)
		}
	}
	if len(sg.IpPermissionsEgress) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       &id,
			IpPermissions: sg.IpPermissionsEgress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to revoke egress on %s: %w", id, err)
		}
	}

	if err := p.authorizeRules(ctx, id, args); err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &id})
	if err != nil {
		if isAPIError(err, "InvalidGroup.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete security group %s: %w", id, err)
	}
	return nil
}

func ipPermissions(rules []map[string]any) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		from, _ := int32Arg(rule, "from_port")
		to, _ := int32Arg(rule, "to_port")
		perm := types.IpPermission{
			FromPort:   ptr(from),
			ToPort:     ptr(to),
			IpProtocol: ptr(strArg(rule, "protocol")),
		}
		for _, cidr := range strSliceArg(rule, "cidr_blocks") {
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: ptr(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

// --- aws_launch_template ---

func (p *Provider) createLaunchTemplate(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	input := &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: ptr(strArg(args, "name")),
		LaunchTemplateData: launchTemplateData(args),
	}
	resp, err := p.ec2Client.CreateLaunchTemplate(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create launch template: %w", err)
	}
	lt := resp.LaunchTemplate
	return *lt.LaunchTemplateId, map[string]any{
		"id":             *lt.LaunchTemplateId,
		"latest_version": float64(*lt.LatestVersionNumber),
	}, nil
}

func (p *Provider) readLaunchTemplate(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeLaunchTemplates(ctx, &ec2.DescribeLaunchTemplatesInput{
		LaunchTemplateIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, "InvalidLaunchTemplateId.NotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe launch template %s: %w", id, err)
	}
	if len(resp.LaunchTemplates) == 0 {
		return nil, false, nil
	}
	lt := resp.LaunchTemplates[0]
	return map[string]any{
		"id":             id,
		"latest_version": float64(*lt.LatestVersionNumber),
	}, true, nil
}

// updateLaunchTemplate publishes a new version and makes it the
// default, so groups referencing $Default pick up the change.
func (p *Provider) updateLaunchTemplate(ctx context.Context, id string, args map[string]any) (map[string]any, error) {
	resp, err := p.ec2Client.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
		LaunchTemplateId:   &id,
		LaunchTemplateData: launchTemplateData(args),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create launch template version: %w", err)
	}
	version := *resp.LaunchTemplateVersion.VersionNumber

	_, err = p.ec2Client.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
		LaunchTemplateId: &id,
		DefaultVersion:   ptr(fmt.Sprintf("%d", version)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set default launch template version: %w", err)
	}
	return map[string]any{"id": id, "latest_version": float64(version)}, nil
}

func (p *Provider) deleteLaunchTemplate(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateId: &id,
	})
	if err != nil {
		if isAPIError(err, "InvalidLaunchTemplateId.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete launch template %s: %w", id, err)
	}
	return nil
}

func launchTemplateData(args map[string]any) *types.RequestLaunchTemplateData {
	data := &types.RequestLaunchTemplateData{
		ImageId:      ptr(strArg(args, "image_id")),
		InstanceType: types.InstanceType(strArg(args, "instance_type")),
	}
	if v := strArg(args, "key_name"); v != "" {
		data.KeyName = &v
	}
	if v := strArg(args, "user_data"); v != "" {
		data.UserData = &v
	}
	if sgs := strSliceArg(args, "vpc_security_group_ids"); len(sgs) > 0 {
		data.SecurityGroupIds = sgs
	}
	return data
}

// --- aws_key_pair ---

// Key pairs use the key name as id; every argument forces replacement.

func (p *Provider) createKeyPair(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	name := strArg(args, "key_name")
	input := &ec2.ImportKeyPairInput{
		KeyName:           &name,
		PublicKeyMaterial: []byte(strArg(args, "public_key")),
	}
	if tags := strMapArg(args, "tags"); len(tags) > 0 {
		input.TagSpecifications = []types.TagSpecification{
			{ResourceType: types.ResourceTypeKeyPair, Tags: ec2Tags(tags)},
		}
	}

	resp, err := p.ec2Client.ImportKeyPair(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to import key pair: %w", err)
	}

	attrs := map[string]any{"id": name}
	if resp.KeyFingerprint != nil {
		attrs["fingerprint"] = *resp.KeyFingerprint
	}
	return name, attrs, nil
}

func (p *Provider) readKeyPair(ctx context.Context, name string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{name},
	})
	if err != nil {
		if isAPIError(err, "InvalidKeyPair.NotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe key pair %s: %w", name, err)
	}
	if len(resp.KeyPairs) == 0 {
		return nil, false, nil
	}
	kp := resp.KeyPairs[0]

	attrs := map[string]any{"id": name}
	if kp.KeyFingerprint != nil {
		attrs["fingerprint"] = *kp.KeyFingerprint
	}
	return attrs, true, nil
}

func (p *Provider) deleteKeyPair(ctx context.Context, name string) error {
	_, err := p.ec2Client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: &name})
	if err != nil {
		if isAPIError(err, "InvalidKeyPair.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete key pair %s: %w", name, err)
	}
	return nil
}

// --- data "aws_ami" ---

func (p *Provider) readAMI(ctx context.Context, args map[string]any) (map[string]any, error) {
	input := &ec2.DescribeImagesInput{
		Owners: strSliceArg(args, "owners"),
	}
	for _, f := range blockList(args, "filter") {
		input.Filters = append(input.Filters, types.Filter{
			Name:   ptr(strArg(f, "name")),
			Values: strSliceArg(f, "values"),
		})
	}

	resp, err := p.ec2Client.DescribeImages(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("no AMI matched the given filters")
	}

	images := resp.Images
	if boolArg(args, "most_recent") {
		sort.Slice(images, func(i, j int) bool {
			var a, b string
			if images[i].CreationDate != nil {
				a = *images[i].CreationDate
			}
			if images[j].CreationDate != nil {
				b = *images[j].CreationDate
			}
			return a > b
		})
	} else if len(images) > 1 {
		return nil, fmt.Errorf("%d AMIs matched; narrow the filters or set most_recent", len(images))
	}

	image := images[0]
	attrs := map[string]any{"id": *image.ImageId}
	if image.Name != nil {
		attrs["name"] = *image.Name
	}
	if image.CreationDate != nil {
		attrs["creation_date"] = *image.CreationDate
	}
	attrs["architecture"] = string(image.Architecture)
	return attrs, nil
}

// --- shared ---

func ec2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: ptr(k), Value: ptr(v)})
	}
	return out
}

func isAPIError(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
