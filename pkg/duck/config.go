package duck

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string // S3 access key ID (empty to use the default AWS credential chain)
	SecretAccessKey string // S3 secret access key
	Endpoint        string // S3 endpoint URL ("http://localhost:9000" for MinIO, empty for AWS)
	Region          string // S3 region (e.g., "us-east-1")
	UseSSL          bool   // whether to use SSL/TLS (false for local MinIO, true for AWS)
	URLStyle        string // "path" (MinIO) or "virtual" (AWS S3)
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables.
// Supports both AWS S3 and MinIO.
//
// Environment variables:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID (leave unset to use an IAM role)
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (for MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (defaults to "us-east-1")
//   - S3_USE_SSL ("true"/"false", auto-detected from the endpoint otherwise)
//   - S3_URL_STYLE ("path" or "virtual", auto-detected otherwise)
//
// Returns (nil, nil) when no credentials are set at all, in which case the
// default AWS credential chain applies.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	accessKeyID := os.Getenv("S3_ACCESS_KEY_ID")
	if accessKeyID == "" {
		accessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}

	secretAccessKey := os.Getenv("S3_SECRET_ACCESS_KEY")
	if secretAccessKey == "" {
		secretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	if accessKeyID == "" && secretAccessKey == "" {
		return nil, nil // not configured, the default AWS credential chain applies
	}
	if accessKeyID == "" && secretAccessKey != "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing")
	}

	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}

	region := os.Getenv("S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	isMinIO := endpoint != "" && !strings.Contains(endpoint, "amazonaws.com")

	useSSL := !isMinIO
	urlStyle := "path"
	if useSSLStr := os.Getenv("S3_USE_SSL"); useSSLStr != "" {
		useSSL = useSSLStr == "true" || useSSLStr == "1"
	}
	if urlStyleEnv := os.Getenv("S3_URL_STYLE"); urlStyleEnv != "" {
		urlStyle = urlStyleEnv
	}

	return &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        endpoint,
		Region:          region,
		UseSSL:          useSSL,
		URLStyle:        urlStyle,
	}, nil
}

// PrepareS3Config loads S3 configuration from the environment when any of the
// given URIs uses s3:// storage, and bootstraps the bucket when targeting a
// localhost MinIO. Returns nil when no URI is on S3.
func PrepareS3Config(ctx context.Context, log *slog.Logger, uris ...string) (*S3Config, error) {
	var s3URIs []string
	for _, uri := range uris {
		if strings.HasPrefix(uri, "s3://") {
			s3URIs = append(s3URIs, uri)
		}
	}
	if len(s3URIs) == 0 {
		return nil, nil
	}

	s3Config, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	if s3Config == nil {
		region := os.Getenv("S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		s3Config = &S3Config{
			Region:   region,
			UseSSL:   true,
			URLStyle: "path",
		}
	}

	// MinIO has no credential chain; explicit keys are mandatory.
	isMinIO := s3Config.Endpoint != "" && !strings.Contains(s3Config.Endpoint, "amazonaws.com")
	if isMinIO && (s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", s3Config.Endpoint)
	}

	for _, uri := range s3URIs {
		if err := EnsureMinIOBucket(ctx, log, uri, s3Config); err != nil {
			return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
		}
	}

	return s3Config, nil
}

// EnsureMinIOBucket creates the bucket behind an s3:// URI when the endpoint
// is a localhost MinIO. Skipped for AWS and non-local endpoints.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, storageURI string, s3Config *S3Config) error {
	if s3Config.Endpoint == "" {
		return nil // not MinIO
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(s3Config.Endpoint, "http://"), "https://")
	if !strings.HasPrefix(endpoint, "localhost") && !strings.HasPrefix(endpoint, "127.0.0.1") && !strings.Contains(endpoint, "host.docker.internal") {
		return nil
	}

	if !strings.HasPrefix(storageURI, "s3://") {
		return nil
	}
	path := strings.TrimPrefix(storageURI, "s3://")
	bucketName := strings.SplitN(path, "/", 2)[0]
	if bucketName == "" {
		return nil
	}

	if s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set")
	}
	creds := credentials.NewStaticCredentialsProvider(
		s3Config.AccessKeyID,
		s3Config.SecretAccessKey,
		"",
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s3Config.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpointURL := s3Config.Endpoint
	if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
		endpointURL = "http://" + endpointURL
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpointURL
		o.UsePathStyle = true // required for MinIO
	})

	_, err = s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &bucketName,
	})
	if err == nil {
		return nil
	}

	log.Info("creating MinIO bucket", "bucket", bucketName, "endpoint", s3Config.Endpoint)
	if _, err := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &bucketName,
	}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}

	log.Info("created MinIO bucket", "bucket", bucketName)
	return nil
}
