package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
	syntypes "github.com/aws/aws-sdk-go-v2/service/synthetics/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
)

const (
	bucketResourceType = "AWS::S3::Bucket"
	canaryResourceType = "AWS::Synthetics::Canary"
)

// Destroy stops the stack's canaries, empties every stack bucket tagged with
// autoDeleteTag and deletes the stack. A missing stack is reported as
// ErrStackNotFound.
func (d *Deployer) Destroy(ctx context.Context, stackName, autoDeleteTag string, wait bool) (*Result, error) {
	ctx, span := tracer.Start(ctx, "deploy.destroy")
	defer span.End()
	span.SetAttributes(attribute.String("stack.name", stackName))

	existing, err := d.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}

	resources, err := d.cfn.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list resources of stack %q: %w", stackName, err)
	}

	// A running canary keeps writing artifacts into the bucket being emptied.
	for _, canary := range physicalIDs(resources.StackResources, canaryResourceType) {
		if err := d.stopCanary(ctx, canary); err != nil {
			return nil, err
		}
	}

	buckets, err := d.autoDeleteBuckets(ctx, resources.StackResources, autoDeleteTag)
	if err != nil {
		return nil, err
	}

	if err := d.emptyBuckets(ctx, buckets); err != nil {
		return nil, err
	}

	stackID := aws.ToString(existing.StackId)
	if err := d.deleteStack(ctx, stackName, stackID); err != nil {
		return nil, err
	}

	if !wait {
		return &Result{StackID: stackID, Status: "DELETE_IN_PROGRESS"}, nil
	}

	// Waiting on the stack id keeps describing a deleted stack possible.
	waiter := cloudformation.NewStackDeleteCompleteWaiter(d.cfn)
	input := &cloudformation.DescribeStacksInput{StackName: aws.String(stackID)}

	err = waiter.Wait(ctx, input, d.maxWait)
	if err != nil && ctx.Err() == nil && len(buckets) > 0 {
		// Objects written between emptying and deletion fail the bucket delete.
		d.logger.WarnContext(ctx, "stack deletion failed, emptying buckets again",
			slog.String("stackName", stackName),
			slog.String("error", err.Error()))

		if err := d.emptyBuckets(ctx, buckets); err != nil {
			return nil, err
		}
		if err := d.deleteStack(ctx, stackName, stackID); err != nil {
			return nil, err
		}
		err = waiter.Wait(ctx, input, d.maxWait)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot wait for stack %q deletion: %w", stackName, err)
	}

	return &Result{StackID: stackID, Status: "DELETE_COMPLETE"}, nil
}

func (d *Deployer) deleteStack(ctx context.Context, stackName, stackID string) error {
	if _, err := d.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	}); err != nil {
		return fmt.Errorf("cannot delete stack %q: %w", stackName, err)
	}

	d.logger.InfoContext(ctx, "stack deletion started",
		slog.String("stackName", stackName),
		slog.String("stackId", stackID))

	return nil
}

// stopCanary stops the named canary and blocks until it is no longer running.
func (d *Deployer) stopCanary(ctx context.Context, name string) error {
	_, err := d.syn.StopCanary(ctx, &synthetics.StopCanaryInput{Name: aws.String(name)})
	if err != nil {
		var apiErr smithy.APIError
		if !errors.As(err, &apiErr) {
			return fmt.Errorf("cannot stop canary %q: %w", name, err)
		}
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return nil
		case "ConflictException":
			// Not running, or already stopping.
		default:
			return fmt.Errorf("cannot stop canary %q: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.maxWait)
	defer cancel()

	for {
		out, err := d.syn.GetCanary(ctx, &synthetics.GetCanaryInput{Name: aws.String(name)})
		if err != nil {
			return fmt.Errorf("cannot read canary %q: %w", name, err)
		}

		var state syntypes.CanaryState
		if out.Canary != nil && out.Canary.Status != nil {
			state = out.Canary.Status.State
		}

		switch state {
		case syntypes.CanaryStateStopping, syntypes.CanaryStateRunning, syntypes.CanaryStateStarting:
		default:
			d.logger.InfoContext(ctx, "canary stopped",
				slog.String("canaryName", name),
				slog.String("state", string(state)))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cannot wait for canary %q to stop: %w", name, ctx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

func physicalIDs(resources []types.StackResource, resourceType string) []string {
	var ids []string
	for _, r := range resources {
		if aws.ToString(r.ResourceType) != resourceType {
			continue
		}
		if id := aws.ToString(r.PhysicalResourceId); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Deployer) autoDeleteBuckets(ctx context.Context, resources []types.StackResource, tag string) ([]string, error) {
	var buckets []string
	for _, bucket := range physicalIDs(resources, bucketResourceType) {
		tagged, err := d.hasTag(ctx, bucket, tag)
		if err != nil {
			return nil, err
		}
		if tagged {
			buckets = append(buckets, bucket)
		}
	}

	return buckets, nil
}

func (d *Deployer) emptyBuckets(ctx context.Context, buckets []string) error {
	for _, bucket := range buckets {
		if err := d.emptyBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) hasTag(ctx context.Context, bucket, tag string) (bool, error) {
	out, err := d.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchTagSet", "NoSuchBucket":
				return false, nil
			}
		}
		return false, fmt.Errorf("cannot read tags of bucket %q: %w", bucket, err)
	}

	for _, t := range out.TagSet {
		if aws.ToString(t.Key) == tag && aws.ToString(t.Value) == "true" {
			return true, nil
		}
	}

	return false, nil
}

// emptyBucket deletes every object version and delete marker in bucket.
func (d *Deployer) emptyBucket(ctx context.Context, bucket string) error {
	input := &s3.ListObjectVersionsInput{Bucket: aws.String(bucket)}
	deleted := 0

	for {
		page, err := d.s3.ListObjectVersions(ctx, input)
		if err != nil {
			return fmt.Errorf("cannot list objects of bucket %q: %w", bucket, err)
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Versions)+len(page.DeleteMarkers))
		for _, v := range page.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}

		if len(objects) > 0 {
			out, err := d.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("cannot delete objects of bucket %q: %w", bucket, err)
			}
			if len(out.Errors) > 0 {
				e := out.Errors[0]
				return fmt.Errorf("cannot delete %s from bucket %q: %s - %s",
					aws.ToString(e.Key), bucket, aws.ToString(e.Code), aws.ToString(e.Message))
			}
			deleted += len(objects)
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}

	d.logger.InfoContext(ctx, "bucket emptied",
		slog.String("bucket", bucket),
		slog.Int("objects", deleted))

	return nil
}
