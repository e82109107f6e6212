package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

type Options struct {
	Endpoint string
	// ExternalEndpoint is the browser-reachable endpoint used for signing.
	ExternalEndpoint string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UsePathStyle     bool
	URLTTL           time.Duration
	// CDNBaseURL serves the public bucket; empty falls back to
	// <external endpoint>/<bucket>.
	CDNBaseURL string
}

// MediaURLs presigns media reads and builds public avatar URLs for MinIO/R2.
type MediaURLs struct {
	presigner *s3.PresignClient
	opts      Options
	log       zerolog.Logger
}

func New(opts Options, log zerolog.Logger) (*MediaURLs, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = 15 * time.Minute
	}
	endpoint := opts.ExternalEndpoint
	if endpoint == "" {
		endpoint = opts.Endpoint
	}
	opts.ExternalEndpoint = endpoint

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)),
	}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
			}, nil
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
	})

	return &MediaURLs{
		presigner: s3.NewPresignClient(client),
		opts:      opts,
		log:       log.With().Str("component", "s3").Logger(),
	}, nil
}

// MediaURL presigns a GET for the object.
func (m *MediaURLs) MediaURL(ctx context.Context, storageKey string) (string, error) {
	req, err := m.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.opts.Bucket),
		Key:    aws.String(storageKey),
	}, s3.WithPresignExpires(m.opts.URLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET %s: %w", storageKey, err)
	}
	return req.URL, nil
}

// PublicURL returns the unsigned URL of an object in the public bucket.
func (m *MediaURLs) PublicURL(storageKey string) string {
	key := strings.TrimPrefix(storageKey, "/")
	if m.opts.CDNBaseURL != "" {
		return strings.TrimSuffix(m.opts.CDNBaseURL, "/") + "/" + key
	}
	return strings.TrimSuffix(m.opts.ExternalEndpoint, "/") + "/" + m.opts.Bucket + "/" + key
}
