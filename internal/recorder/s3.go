// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dulton/liveMediaStreamer/internal/config"
)

// S3Archiver envia segmentos commitados para um bucket S3 (ou compatível,
// via endpoint custom).
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver monta o client a partir da configuração. Com access_key
// vazio, usa a credential chain default do SDK.
func NewS3Archiver(ctx context.Context, cfg config.S3Info, logger *slog.Logger) (*S3Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With("component", "s3_archiver"),
	}, nil
}

// Archive implementa Archiver: faz o upload do segmento para o bucket.
func (a *S3Archiver) Archive(ctx context.Context, segmentPath string) error {
	f, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("opening segment for upload: %w", err)
	}
	defer f.Close()

	key := archiveKey(a.prefix, segmentPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading segment %s: %w", key, err)
	}

	a.logger.Info("segment archived", "bucket", a.bucket, "key", key)
	return nil
}

// archiveKey monta a key do objeto: {prefix}/{stream}/{segment}.
func archiveKey(prefix, segmentPath string) string {
	stream := filepath.Base(filepath.Dir(segmentPath))
	name := filepath.Base(segmentPath)
	if prefix == "" {
		return path.Join(stream, name)
	}
	return path.Join(prefix, stream, name)
}
