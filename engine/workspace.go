package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/printworks/tenant-infra/naming"
)

// S3Client defines the S3 operations used by the workspace.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// stackMeta is the durable identity record for a stack, stored at
// {project}/{stack}/stack.json.
type stackMeta struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// resourceState is the per-resource record kept under
// {project}/{stack}/resources/{logical}.json. The physical name is
// minted once, at first creation, and reused on every later run.
type resourceState struct {
	Kind         string         `json:"kind"`
	PhysicalName string         `json:"physicalName,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Workspace is the durable home of stacks, backed by an S3 bucket.
type Workspace struct {
	client S3Client
	bucket string
	runner Runner
	waiter CertificateWaiter
	namer  naming.Namer
	logger *slog.Logger
	now    func() time.Time
}

// WorkspaceOptions carry the collaborators stacks created by the
// workspace will use.
type WorkspaceOptions struct {
	Runner Runner
	Waiter CertificateWaiter
	Namer  naming.Namer
	Logger *slog.Logger
}

// NewWorkspace creates a workspace over the given state bucket.
func NewWorkspace(client S3Client, bucket string, opts WorkspaceOptions) *Workspace {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		client: client,
		bucket: bucket,
		runner: opts.Runner,
		waiter: opts.Waiter,
		namer:  opts.Namer,
		logger: logger,
		now:    time.Now,
	}
}

func stackKey(project, stack string) string {
	return fmt.Sprintf("%s/%s/stack.json", project, stack)
}

func resourcePrefix(project, stack string) string {
	return fmt.Sprintf("%s/%s/resources/", project, stack)
}

func resourceKey(project, stack, logical string) string {
	return resourcePrefix(project, stack) + logical + ".json"
}

// CreateOrSelectStack returns the stack for the given project and name,
// creating its identity record if it does not exist yet. Repeated calls
// with the same arguments return the same stack.
func (w *Workspace) CreateOrSelectStack(ctx context.Context, project, stack string) (*Stack, error) {
	meta, err := w.readStackMeta(ctx, project, stack)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &stackMeta{
			ID:        uuid.NewString(),
			Project:   project,
			Name:      stack,
			CreatedAt: w.now().UTC(),
		}
		if err := w.putJSON(ctx, stackKey(project, stack), meta); err != nil {
			return nil, fmt.Errorf("create stack %s/%s: %w", project, stack, err)
		}
		w.logger.Info("stack created", "project", project, "stack", stack, "stack_id", meta.ID)
	} else {
		w.logger.Info("stack selected", "project", project, "stack", stack, "stack_id", meta.ID)
	}

	return &Stack{
		ws:      w,
		project: project,
		name:    stack,
		config:  map[string]ConfigValue{},
	}, nil
}

// RemoveStack deletes every state object belonging to the stack,
// including its identity record. The stack must already be destroyed.
func (w *Workspace) RemoveStack(ctx context.Context, project, stack string) error {
	prefix := fmt.Sprintf("%s/%s/", project, stack)
	var token *string
	for {
		out, err := w.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(w.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list stack state %s/%s: %w", project, stack, err)
		}
		for _, obj := range out.Contents {
			if _, err := w.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(w.bucket),
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("delete stack state %s: %w", aws.ToString(obj.Key), err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	w.logger.Info("stack removed", "project", project, "stack", stack)
	return nil
}

func (w *Workspace) readStackMeta(ctx context.Context, project, stack string) (*stackMeta, error) {
	var meta stackMeta
	found, err := w.getJSON(ctx, stackKey(project, stack), &meta)
	if err != nil {
		return nil, fmt.Errorf("read stack %s/%s: %w", project, stack, err)
	}
	if !found {
		return nil, nil
	}
	return &meta, nil
}

func (w *Workspace) readResourceState(ctx context.Context, project, stack, logical string) (*resourceState, error) {
	var state resourceState
	found, err := w.getJSON(ctx, resourceKey(project, stack, logical), &state)
	if err != nil {
		return nil, fmt.Errorf("read resource state %s: %w", logical, err)
	}
	if !found {
		return nil, nil
	}
	return &state, nil
}

func (w *Workspace) writeResourceState(ctx context.Context, project, stack, logical string, state *resourceState) error {
	state.UpdatedAt = w.now().UTC()
	if err := w.putJSON(ctx, resourceKey(project, stack, logical), state); err != nil {
		return fmt.Errorf("write resource state %s: %w", logical, err)
	}
	return nil
}

func (w *Workspace) deleteResourceState(ctx context.Context, project, stack, logical string) error {
	if _, err := w.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(resourceKey(project, stack, logical)),
	}); err != nil {
		return fmt.Errorf("delete resource state %s: %w", logical, err)
	}
	return nil
}

// getJSON reads and decodes an object, reporting found=false when the
// key does not exist.
func (w *Workspace) getJSON(ctx context.Context, key string, v any) (bool, error) {
	out, err := w.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (w *Workspace) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

var _ S3Client = (*s3.Client)(nil)
