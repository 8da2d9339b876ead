// Package deploy applies a rendered stack template to CloudFormation and tears
// it down again.
package deploy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/asset"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/canary-monitoring-stack/internal/deploy")

const (
	// DefaultMaxWait bounds how long Apply and Destroy wait for a terminal stack status.
	DefaultMaxWait = 30 * time.Minute

	defaultPollInterval = 5 * time.Second
)

var (
	// ErrStackNotFound indicates the stack does not exist.
	ErrStackNotFound = errors.New("stack not found")
)

var capabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
}

// Plan is a rendered template together with the code asset it references.
type Plan struct {
	StackName   string
	Template    []byte
	Asset       *asset.Asset
	AssetBucket string
}

// TemplateHash returns the hex sha256 of the template body.
func (p *Plan) TemplateHash() string {
	sum := sha256.Sum256(p.Template)
	return hex.EncodeToString(sum[:])
}

// Result describes the stack after an operation.
type Result struct {
	StackID   string
	Status    string
	Outputs   map[string]string
	Unchanged bool
}

type Deployer struct {
	cfn          CloudFormationAPI
	s3           S3API
	syn          SyntheticsAPI
	logger       *slog.Logger
	maxWait      time.Duration
	pollInterval time.Duration
}

func NewDeployer(cfn CloudFormationAPI, s3 S3API, syn SyntheticsAPI, logger *slog.Logger) *Deployer {
	return &Deployer{
		cfn:          cfn,
		s3:           s3,
		syn:          syn,
		logger:       logger,
		maxWait:      DefaultMaxWait,
		pollInterval: defaultPollInterval,
	}
}

// Apply uploads the plan's asset, then creates or updates the stack. When
// wait is set it blocks until the stack reaches a terminal status.
func (d *Deployer) Apply(ctx context.Context, plan *Plan, wait bool) (*Result, error) {
	ctx, span := tracer.Start(ctx, "deploy.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("stack.name", plan.StackName),
		attribute.String("template.hash", plan.TemplateHash()),
	)

	if plan.Asset != nil {
		if err := d.uploadAsset(ctx, plan.AssetBucket, plan.Asset); err != nil {
			return nil, err
		}
	}

	existing, err := d.describe(ctx, plan.StackName)
	if err != nil && !errors.Is(err, ErrStackNotFound) {
		return nil, err
	}

	if existing == nil {
		return d.create(ctx, plan, wait)
	}

	// A stack whose first creation rolled back can only be deleted.
	if existing.StackStatus == types.StackStatusRollbackComplete {
		if err := d.replaceRolledBack(ctx, existing); err != nil {
			return nil, err
		}
		return d.create(ctx, plan, wait)
	}

	return d.update(ctx, plan, existing, wait)
}

func (d *Deployer) create(ctx context.Context, plan *Plan, wait bool) (*Result, error) {
	out, err := d.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(plan.StackName),
		TemplateBody: aws.String(string(plan.Template)),
		Capabilities: capabilities,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create stack %q: %w", plan.StackName, err)
	}

	d.logger.InfoContext(ctx, "stack creation started",
		slog.String("stackName", plan.StackName),
		slog.String("stackId", aws.ToString(out.StackId)))

	if !wait {
		return &Result{StackID: aws.ToString(out.StackId), Status: string(types.StackStatusCreateInProgress)}, nil
	}

	waiter := cloudformation.NewStackCreateCompleteWaiter(d.cfn)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: out.StackId}, d.maxWait); err != nil {
		return nil, fmt.Errorf("cannot wait for stack %q creation: %w", plan.StackName, err)
	}

	return d.result(ctx, plan.StackName)
}

func (d *Deployer) replaceRolledBack(ctx context.Context, existing *types.Stack) error {
	stackName := aws.ToString(existing.StackName)
	stackID := aws.ToString(existing.StackId)

	d.logger.WarnContext(ctx, "deleting stack left by failed creation",
		slog.String("stackName", stackName),
		slog.String("stackId", stackID),
		slog.String("status", string(existing.StackStatus)))

	if _, err := d.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	}); err != nil {
		return fmt.Errorf("cannot delete rolled back stack %q: %w", stackName, err)
	}

	waiter := cloudformation.NewStackDeleteCompleteWaiter(d.cfn)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackID)}, d.maxWait); err != nil {
		return fmt.Errorf("cannot wait for rolled back stack %q deletion: %w", stackName, err)
	}

	return nil
}

func (d *Deployer) update(ctx context.Context, plan *Plan, existing *types.Stack, wait bool) (*Result, error) {
	out, err := d.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(plan.StackName),
		TemplateBody: aws.String(string(plan.Template)),
		Capabilities: capabilities,
	})
	if err != nil {
		if isNoUpdates(err) {
			d.logger.InfoContext(ctx, "stack is up to date", slog.String("stackName", plan.StackName))

			res := stackResult(existing)
			res.Unchanged = true
			return res, nil
		}
		return nil, fmt.Errorf("cannot update stack %q: %w", plan.StackName, err)
	}

	d.logger.InfoContext(ctx, "stack update started",
		slog.String("stackName", plan.StackName),
		slog.String("stackId", aws.ToString(out.StackId)))

	if !wait {
		return &Result{StackID: aws.ToString(out.StackId), Status: string(types.StackStatusUpdateInProgress)}, nil
	}

	waiter := cloudformation.NewStackUpdateCompleteWaiter(d.cfn)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: out.StackId}, d.maxWait); err != nil {
		return nil, fmt.Errorf("cannot wait for stack %q update: %w", plan.StackName, err)
	}

	return d.result(ctx, plan.StackName)
}

// Outputs returns the outputs of the named stack keyed by output name.
func (d *Deployer) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	s, err := d.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}
	return stackResult(s).Outputs, nil
}

func (d *Deployer) result(ctx context.Context, stackName string) (*Result, error) {
	s, err := d.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}
	return stackResult(s), nil
}

func (d *Deployer) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	out, err := d.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrStackNotFound, stackName)
		}
		return nil, fmt.Errorf("cannot describe stack %q: %w", stackName, err)
	}

	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, stackName)
	}

	return &out.Stacks[0], nil
}

func (d *Deployer) uploadAsset(ctx context.Context, bucket string, a *asset.Asset) error {
	if bucket == "" {
		return fmt.Errorf("asset bucket is not set")
	}

	_, err := d.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(a.Key()),
	})
	if err == nil {
		d.logger.DebugContext(ctx, "asset already uploaded",
			slog.String("bucket", bucket),
			slog.String("key", a.Key()))
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("cannot check asset %s/%s: %w", bucket, a.Key(), err)
	}

	var body bytes.Buffer
	if err := a.Archive(&body); err != nil {
		return err
	}

	if _, err := d.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(a.Key()),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/zip"),
	}); err != nil {
		return fmt.Errorf("cannot upload asset %s/%s: %w", bucket, a.Key(), err)
	}

	d.logger.InfoContext(ctx, "asset uploaded",
		slog.String("bucket", bucket),
		slog.String("key", a.Key()),
		slog.Int("bytes", body.Len()))

	return nil
}

func stackResult(s *types.Stack) *Result {
	outputs := make(map[string]string, len(s.Outputs))
	for _, o := range s.Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}

	return &Result{
		StackID: aws.ToString(s.StackId),
		Status:  string(s.StackStatus),
		Outputs: outputs,
	}
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	default:
		return false
	}
}
