package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// s3API is the part of the S3 client the remote uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options locates the remote document in a bucket.
type S3Options struct {
	Bucket string
	Key    string
	Region string
	// Endpoint overrides the S3 endpoint (for S3-compatible stores) and
	// switches to path-style addressing.
	Endpoint string
}

// S3Remote stores the remote document as one S3 object. Versions are ETags
// and pushes use conditional writes.
type S3Remote struct {
	client   s3API
	bucket   string
	key      string
	identity Identity
}

// NewS3Remote loads the default AWS configuration and creates a remote.
func NewS3Remote(ctx context.Context, opts S3Options, identity Identity) (*S3Remote, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("S3 bucket and key are required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Remote(client, opts.Bucket, opts.Key, identity), nil
}

func newS3Remote(client s3API, bucket, key string, identity Identity) *S3Remote {
	return &S3Remote{client: client, bucket: bucket, key: key, identity: identity}
}

func (r *S3Remote) get(ctx context.Context, ifNoneMatch string) (*Document, string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	}
	if ifNoneMatch != "" {
		in.IfNoneMatch = aws.String(ifNoneMatch)
	}
	out, err := r.client.GetObject(ctx, in)
	if err != nil {
		return nil, "", err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read s3://%s/%s: %w", r.bucket, r.key, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	return &doc, aws.ToString(out.ETag), nil
}

func (r *S3Remote) Pull(ctx context.Context, knownVersion string) (PullResult, error) {
	doc, etag, err := r.get(ctx, knownVersion)
	switch {
	case isStatus(err, http.StatusNotModified, "NotModified"):
		return PullResult{Version: knownVersion, NoChange: true}, nil
	case isStatus(err, http.StatusNotFound, "NoSuchKey"):
		return PullResult{NoChange: knownVersion == ""}, nil
	case err != nil:
		return PullResult{}, remoteErr("pull", err)
	}

	snap, err := doc.Snapshot()
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	return PullResult{Snapshot: snap, Version: etag}, nil
}

func (r *S3Remote) Push(ctx context.Context, snap *snapshot.Snapshot, opts PushOptions) (PushResult, error) {
	existing, etag, err := r.get(ctx, "")
	switch {
	case isStatus(err, http.StatusNotFound, "NoSuchKey"):
	case err != nil:
		return PushResult{}, remoteErr("push", err)
	default:
		current, err := existing.Snapshot()
		if err != nil {
			return PushResult{}, remoteErr("push", err)
		}
		if current.Equal(snap) {
			return PushResult{Version: etag, Unchanged: true}, nil
		}
	}

	body, err := Encode(NewDocument(snap, r.identity.InstallationID, r.identity.now().Now()))
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	switch {
	case opts.Force:
	case opts.ExpectedVersion == "":
		in.IfNoneMatch = aws.String("*")
	default:
		in.IfMatch = aws.String(opts.ExpectedVersion)
	}

	out, err := r.client.PutObject(ctx, in)
	switch {
	case isStatus(err, http.StatusPreconditionFailed, "PreconditionFailed"),
		isStatus(err, http.StatusConflict, "ConditionalRequestConflict"):
		return PushResult{}, remoteErr("push", ErrRejected)
	case err != nil:
		return PushResult{}, remoteErr("push", err)
	}
	return PushResult{Version: aws.ToString(out.ETag)}, nil
}

// isStatus matches S3 errors by HTTP status or API error code.
func isStatus(err error, status int, code string) bool {
	if err == nil {
		return false
	}
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) && withStatus.HTTPStatusCode() == status {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
