package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

type S3StorageGateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

func NewS3StorageGateway(ctx context.Context, bucket string, ttl time.Duration) (*S3StorageGateway, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3StorageGateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		ttl:     ttl,
	}, nil
}

func (g *S3StorageGateway) PresignGet(ctx context.Context, key models.StorageKey) (ports.PresignedURL, error) {
	// HeadObject first so a dangling key is reported as NotFound here
	// instead of a signed URL that 404s downstream.
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		return ports.PresignedURL{}, classifyStorageErr(key, err)
	}

	out, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(string(key)),
	}, s3.WithPresignExpires(g.ttl))
	if err != nil {
		return ports.PresignedURL{}, &ports.StorageError{Kind: ports.StorageUnavailable, Key: key, Err: err}
	}

	return ports.PresignedURL{URL: out.URL, ExpiresAt: time.Now().Add(g.ttl)}, nil
}

func (g *S3StorageGateway) PresignPut(ctx context.Context, key models.StorageKey) (ports.PresignedURL, error) {
	out, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(string(key)),
	}, s3.WithPresignExpires(g.ttl))
	if err != nil {
		return ports.PresignedURL{}, &ports.StorageError{Kind: ports.StorageUnavailable, Key: key, Err: err}
	}
	return ports.PresignedURL{URL: out.URL, ExpiresAt: time.Now().Add(g.ttl)}, nil
}

func (g *S3StorageGateway) Delete(ctx context.Context, key models.StorageKey) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		return classifyStorageErr(key, err)
	}
	return nil
}

func classifyStorageErr(key models.StorageKey, err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return &ports.StorageError{Kind: ports.StorageNotFound, Key: key, Err: err}
	}
	return &ports.StorageError{Kind: ports.StorageUnavailable, Key: key, Err: err}
}
