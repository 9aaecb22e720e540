package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/usagedeck/usagedeck/internal/config"
)

type s3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Archive(cfg config.ExportS3Config, awsCfg aws.Config) (*s3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("export.s3.bucket must be provided for s3 storage")
	}
	client := s3.NewFromConfig(awsCfg)
	return &s3Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func loadS3Config(ctx context.Context, cfg config.ExportS3Config) (aws.Config, error) {
	opts := []func(*awscfg.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{URL: cfg.Endpoint, Source: aws.EndpointSourceCustom, HostnameImmutable: true}, nil
			}
			return aws.Endpoint{}, fmt.Errorf("unknown endpoint requested")
		})
		opts = append(opts, awscfg.WithEndpointResolverWithOptions(resolver))
	}
	return awscfg.LoadDefaultConfig(ctx, opts...)
}

func (a *s3Archive) Put(ctx context.Context, name string, body io.Reader, contentType string) (Artifact, error) {
	objectKey := a.objectKey(name)
	input := &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &objectKey,
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return Artifact{}, err
	}
	return Artifact{Name: name, ContentType: contentType}, nil
}

func (a *s3Archive) Open(ctx context.Context, name string) (io.ReadCloser, Artifact, error) {
	objectKey := a.objectKey(name)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		var nf *s3types.NoSuchKey
		if strings.Contains(err.Error(), "NoSuchKey") || errors.As(err, &nf) {
			return nil, Artifact{}, ErrNotFound
		}
		return nil, Artifact{}, err
	}
	info := Artifact{
		Name:        name,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	return out.Body, info, nil
}

func (a *s3Archive) Delete(ctx context.Context, name string) error {
	objectKey := a.objectKey(name)
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &objectKey,
	})
	return err
}

func (a *s3Archive) objectKey(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + strings.TrimPrefix(name, "/")
}
