// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

// S3SinkConfig holds the configuration for an S3 attachment sink. An
// empty Endpoint targets AWS proper; setting one points the sink at an
// S3-compatible store such as MinIO.
type S3SinkConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Sink stores attachments in an S3 bucket under date-prefixed keys.
type S3Sink struct {
	client *s3.S3
	bucket string
}

// NewS3Sink creates an S3 sink.
func NewS3Sink(cfg S3SinkConfig) (*S3Sink, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
				},
			},
		})
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, &StorageError{Sink: "s3", Err: fmt.Errorf("creating aws session: %w", err)}
	}
	return &S3Sink{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (s *S3Sink) Name() string {
	return "s3"
}

// Save uploads data under a generated date-prefixed key.
func (s *S3Sink) Save(ctx context.Context, filename string, data []byte) (string, error) {
	key := objectKey(filename)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", &StorageError{Sink: "s3", Key: key, Err: err}
	}
	return key, nil
}

// Open downloads the object stored under key.
func (s *S3Sink) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, &StorageError{Sink: "s3", Key: key, Err: ErrNotFound}
		}
		return nil, &StorageError{Sink: "s3", Key: key, Err: err}
	}
	return resp.Body, nil
}

// Delete removes the object stored under key.
func (s *S3Sink) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &StorageError{Sink: "s3", Key: key, Err: err}
	}
	return nil
}

// objectKey generates a YYYY/MM/DD/uuid key, keeping the original file
// extension so downloaded objects open with the right application.
func objectKey(filename string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s%s",
		now.Year(), now.Month(), now.Day(),
		uuid.New().String(), filepath.Ext(filepath.Base(filename)))
}
