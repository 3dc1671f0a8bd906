package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Signer issues short-lived download URLs for bundle file names.
type Signer interface {
	SignURL(ctx context.Context, name string) (string, error)
}

// Presigner abstracts the presign operation used by [S3Signer]. The
// [s3.PresignClient] type satisfies this interface.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Signer presigns GetObject requests for bundles stored under an
// optional key prefix.
type S3Signer struct {
	client  Presigner
	bucket  string
	prefix  string
	expires time.Duration
}

// NewS3Signer wraps a presign client. A zero expiry means 15 minutes.
func NewS3Signer(client Presigner, bucket, prefix string, expires time.Duration) *S3Signer {
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	return &S3Signer{client: client, bucket: bucket, prefix: prefix, expires: expires}
}

func (s *S3Signer) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Signer) SignURL(ctx context.Context, name string) (string, error) {
	req, err := s.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return req.URL, nil
}

// S3Config carries the object store settings for the remote fallback.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	URLExpiry       time.Duration
}

// Enabled reports whether the settings are complete enough to sign URLs.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// NewS3Remote builds a signed-URL remote from cfg. It returns a nil Remote
// without error when cfg is not enabled, so missing credentials disable
// the fallback without any network traffic.
func NewS3Remote(ctx context.Context, cfg S3Config, httpClient *http.Client) (Remote, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	signer := NewS3Signer(s3.NewPresignClient(client), cfg.Bucket, cfg.Prefix, cfg.URLExpiry)
	return NewSignedRemote(signer, httpClient), nil
}

// MaxBundleBytes caps the size of a downloaded bundle.
const MaxBundleBytes = 256 << 20

// SignedRemote fetches bundles over URLs issued by a Signer.
type SignedRemote struct {
	signer   Signer
	client   *http.Client
	maxBytes int64
}

// NewSignedRemote returns a Remote using signer. A nil client means
// http.DefaultClient.
func NewSignedRemote(signer Signer, client *http.Client) *SignedRemote {
	if client == nil {
		client = http.DefaultClient
	}
	return &SignedRemote{signer: signer, client: client, maxBytes: MaxBundleBytes}
}

func (r *SignedRemote) Fetch(ctx context.Context, name string) ([]byte, error) {
	url, err := r.signer.SignURL(ctx, name)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("download %s: %w", name, os.ErrNotExist)
	case resp.StatusCode == http.StatusForbidden:
		// S3 answers 403 rather than 404 for a missing key when the signing
		// identity lacks s3:ListBucket. Bad credentials look the same, and
		// retrying helps neither.
		return nil, fmt.Errorf("download %s: forbidden, missing key or no access: %w", name, os.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: unexpected status %s", name, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("download %s: larger than %d bytes", name, r.maxBytes)
	}
	return data, nil
}

// Compile-time interface checks.
var (
	_ Remote    = (*SignedRemote)(nil)
	_ Signer    = (*S3Signer)(nil)
	_ Presigner = (*s3.PresignClient)(nil)
)
