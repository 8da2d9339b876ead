package deploy

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
)

// CloudFormationAPI defines the CloudFormation operations required to apply
// and tear down a stack.
type CloudFormationAPI interface {
	DescribeStacks(
		ctx context.Context,
		input *cloudformation.DescribeStacksInput,
		optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)

	DescribeStackResources(
		ctx context.Context,
		input *cloudformation.DescribeStackResourcesInput,
		optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error)

	CreateStack(
		ctx context.Context,
		input *cloudformation.CreateStackInput,
		optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)

	UpdateStack(
		ctx context.Context,
		input *cloudformation.UpdateStackInput,
		optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)

	DeleteStack(
		ctx context.Context,
		input *cloudformation.DeleteStackInput,
		optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// S3API defines the S3 operations required for asset upload and bucket emptying.
type S3API interface {
	HeadObject(
		ctx context.Context,
		input *s3.HeadObjectInput,
		optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)

	PutObject(
		ctx context.Context,
		input *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	GetBucketTagging(
		ctx context.Context,
		input *s3.GetBucketTaggingInput,
		optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)

	ListObjectVersions(
		ctx context.Context,
		input *s3.ListObjectVersionsInput,
		optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)

	DeleteObjects(
		ctx context.Context,
		input *s3.DeleteObjectsInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// STSAPI defines the STS operations required to resolve the target account.
type STSAPI interface {
	GetCallerIdentity(
		ctx context.Context,
		input *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// SyntheticsAPI defines the Synthetics operations required to stop a stack's
// canaries before teardown.
type SyntheticsAPI interface {
	StopCanary(
		ctx context.Context,
		input *synthetics.StopCanaryInput,
		optFns ...func(*synthetics.Options)) (*synthetics.StopCanaryOutput, error)

	GetCanary(
		ctx context.Context,
		input *synthetics.GetCanaryInput,
		optFns ...func(*synthetics.Options)) (*synthetics.GetCanaryOutput, error)
}
