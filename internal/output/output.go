// Package output archives job output that exceeds the inline size limit to
// an S3-compatible bucket, gzip-compressed, grounded on the teacher's
// internal/logstore/r2.go. Unlike that file's incremental chunk-buffering
// (built for a live log stream), dwq's runner captures a job's full output
// before reporting, so this package uploads and fetches in one shot rather
// than buffering/flushing chunks.
package output

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// InlineLimitBytes is the largest output a worker reports inline in a
// completion notification; anything larger is archived and the
// notification carries a reference instead.
const InlineLimitBytes = 64 * 1024

// Config configures an Archive's S3 client.
type Config struct {
	Endpoint        string // empty uses the SDK's default AWS resolution
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

// Archive stores oversized job output in S3.
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an Archive from cfg.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *Archive) key(jobID string) string {
	return fmt.Sprintf("%s/%s/output.log.gz", a.prefix, jobID)
}

// compress gzips output; split out from Put so the compression logic is
// testable without a live S3 client.
func compress(output []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(output); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// Put gzip-compresses output and uploads it under jobID, returning the
// object key a completion notification can reference.
func (a *Archive) Put(ctx context.Context, jobID string, output []byte) (string, error) {
	compressed, err := compress(output)
	if err != nil {
		return "", err
	}

	key := a.key(jobID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("text/plain"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload output: %w", err)
	}
	return key, nil
}

// Get fetches and decompresses the archived output for jobID.
func (a *Archive) Get(ctx context.Context, jobID string) ([]byte, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(jobID)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch output: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decompress(raw)
}

// Delete removes archived output for jobID.
func (a *Archive) Delete(ctx context.Context, jobID string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(jobID)),
	})
	return err
}
