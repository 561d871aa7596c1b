package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

func (d *Downloader) fetchS3(ctx context.Context, location string) (string, error) {
	bucket, key, _ := strings.Cut(location, "/")
	destPath := filepath.Join(d.cacheDir, "s3", bucket, filepath.FromSlash(key))
	if pathutil.PathExists(destPath) {
		return destPath, nil
	}

	client, err := d.getS3Client(ctx)
	if err != nil {
		return "", err
	}

	d.logger.Info("Downloading from S3", zap.String("bucket", bucket), zap.String("key", key))

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := pathutil.EnsureDir(filepath.Dir(destPath)); err != nil {
		return "", err
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write s3 object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to move file: %w", err)
	}

	return destPath, nil
}

func (d *Downloader) getS3Client(ctx context.Context) (*s3.Client, error) {
	if d.s3Client != nil {
		return d.s3Client, nil
	}
	if d.s3Config == nil {
		return nil, fmt.Errorf("s3 config is not set")
	}

	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(d.s3Config.Region),
	}
	if d.s3Config.AccessKey != "" {
		credentialsProvider := credentials.NewStaticCredentialsProvider(d.s3Config.AccessKey, d.s3Config.SecretKey, "")
		opts = append(opts, awsConfig.WithCredentialsProvider(credentialsProvider))
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	d.s3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if d.s3Config.EndpointUrl != "" {
			o.BaseEndpoint = aws.String(d.s3Config.EndpointUrl)
			o.UsePathStyle = true
		}
	})

	return d.s3Client, nil
}
