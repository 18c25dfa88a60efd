package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
	// Private keeps objects unreadable without a presigned URL.
	Private bool
}

// Uploader stores generated images in an S3-compatible bucket under
// {prefix}/{userID}/{generationID}.{ext}. Writing the same key overwrites.
type Uploader struct {
	cfg     Config
	client  *s3.Client
	presign *s3.PresignClient
}

func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" && !cfg.Private {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "infographics"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.New(options)
	return &Uploader{
		cfg:     cfg,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Key returns the object key for a generation's image.
func (u *Uploader) Key(userID, generationID, contentType string) string {
	return ObjectKey(u.cfg.Prefix, userID, generationID, contentType)
}

// Put uploads data under key and returns its public URL. In a private bucket
// it returns the s3:// location; readers go through SignedURL.
func (u *Uploader) Put(ctx context.Context, data []byte, contentType, key string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if !u.cfg.Private {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	if u.cfg.Private {
		return "s3://" + u.cfg.Bucket + "/" + key, nil
	}
	return PublicURL(u.cfg.PublicBaseURL, key), nil
}

// Private reports whether objects need a presigned URL to be read.
func (u *Uploader) Private() bool {
	return u.cfg.Private
}

// SignedURL returns a GET URL for key that stays valid for ttl.
func (u *Uploader) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign s3 object: %w", err)
	}
	return req.URL, nil
}

func (u *Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

func ObjectKey(prefix, userID, generationID, contentType string) string {
	prefix = strings.Trim(prefix, "/")
	return path.Join(prefix, userID, generationID+ExtensionFromContentType(contentType))
}

func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + key
}

func ExtensionFromContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
