// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
	// Endpoint overrides the account endpoint (tests, other S3 stores).
	Endpoint string
}

// R2Archiver stores JSON reports in a Cloudflare R2 bucket.
type R2Archiver struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewR2Archiver(ctx context.Context, c R2Config) (*R2Archiver, error) {
	if c.Bucket == "" {
		return nil, errors.New("R2 bucket not set")
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		if c.AccountID == "" {
			return nil, errors.New("R2 account id not set")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
	}
	baseURL := c.CDNBaseURL
	if baseURL == "" {
		baseURL = endpoint + "/" + c.Bucket
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID, c.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Archiver{client: client, bucket: c.Bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Archive uploads body under key and returns its public URL.
func (a *R2Archiver) Archive(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	log.WithFields(log.Fields{"key": key, "bytes": len(body)}).Info("📦 [R2] report archived")
	return fmt.Sprintf("%s/%s", a.baseURL, key), nil
}
