package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

type s3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// s3Provider reads an S3-compatible object store. Besides AWS proper this
// covers MinIO-style gateways in front of a NAS, which is how remote shares
// are mounted into the index.
type s3Provider struct {
	client *s3.Client
	bucket string
	prefix string
	filter extFilter
}

func init() {
	Register(TypeS3, createS3Provider)
}

func createS3Provider(ctx context.Context, args interface{}, opts Options) (Provider, error) {
	config := &s3Config{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	// Static keys when configured, otherwise the default chain (env vars,
	// shared config) so deployments can pass credentials outside the file.
	if config.SecretID != "" && config.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.SecretID, config.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(config.Endpoint)
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "http"
		if config.UseSSL {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Provider{
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
		filter: newExtFilter(opts.Extensions),
	}, nil
}

func (p *s3Provider) Name() string {
	return TypeS3
}

func (p *s3Provider) Root() string {
	if p.prefix == "" {
		return "s3://" + p.bucket
	}
	return "s3://" + p.bucket + "/" + p.prefix
}

func (p *s3Provider) List(ctx context.Context) ([]FileInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
	}
	if p.prefix != "" {
		input.Prefix = aws.String(p.prefix + "/")
	}
	var files []FileInfo
	paginator := s3.NewListObjectsV2Paginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := p.stripPrefix(key)
			if rel == "" || !p.filter.match(rel) {
				continue
			}
			files = append(files, FileInfo{
				Path:    rel,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func (p *s3Provider) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(filePath)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}

func (p *s3Provider) Stat(ctx context.Context, filePath string) (FileInfo, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(filePath)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return FileInfo{}, appErr.ErrNotFound
		}
		return FileInfo{}, err
	}
	return FileInfo{
		Path:    filePath,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func (p *s3Provider) objectKey(filePath string) string {
	filePath = strings.TrimPrefix(filePath, "/")
	if p.prefix == "" {
		return filePath
	}
	return p.prefix + "/" + filePath
}

func (p *s3Provider) stripPrefix(key string) string {
	if p.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, p.prefix+"/")
}
