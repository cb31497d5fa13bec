// Package s3store implements store.Store on an S3-compatible object store.
// Each record is one object; its expiry travels in object metadata and is
// checked on read. Conditional updates use ETag preconditions.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MrEthical07/opentoken/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const expiresMetadataKey = "expires-at"

// Config describes the bucket. Endpoint, AccessKey and SecretKey are only
// needed for S3-compatible servers such as MinIO.
type Config struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// API is the subset of *s3.Client the store needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store is an S3-backed store.Store.
type Store struct {
	api    API
	bucket string
	prefix string
	now    func() time.Time
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Swapper = (*Store)(nil)
)

// New wraps an existing client.
func New(api API, bucket, prefix string) *Store {
	return &Store{api: api, bucket: bucket, prefix: prefix, now: time.Now}
}

// Open loads the default AWS config, applies cfg overrides and builds a client.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", store.ErrUnavailable)
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", store.ErrUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	if store.Expired(expires, s.now()) {
		return s.Delete(ctx, key)
	}
	if _, err := s.api.PutObject(ctx, s.putInput(key, value, expires)); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, err
	}
	obj, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !obj.live {
		return nil, store.ErrNotFound
	}
	return obj.value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// CompareAndSwap writes and deletes with If-Match / If-None-Match so a
// concurrent writer makes the swap report false.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte, expires time.Time) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}

	obj, err := s.load(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	switch {
	case old == nil && obj.live:
		return false, nil
	case old != nil && (!obj.live || !bytes.Equal(obj.value, old)):
		return false, nil
	}

	if next == nil || store.Expired(expires, s.now()) {
		return s.deleteIfMatch(ctx, key, obj.etag)
	}

	in := s.putInput(key, next, expires)
	if obj.etag != "" {
		in.IfMatch = aws.String(obj.etag)
	} else {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return true, nil
}

// deleteIfMatch removes key only while it still carries etag. An empty etag
// means there was nothing to delete.
func (s *Store) deleteIfMatch(ctx context.Context, key, etag string) (bool, error) {
	if etag == "" {
		return true, nil
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.prefix + key),
		IfMatch: aws.String(etag),
	})
	switch {
	case err == nil:
		return true, nil
	case isPreconditionFailed(err), isNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

type object struct {
	value []byte
	etag  string
	live  bool
}

// load returns ErrNotFound only when the object does not exist at all; an
// expired object is returned with live unset so callers can still see its ETag.
func (s *Store) load(ctx context.Context, key string) (object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			return object{}, store.ErrNotFound
		}
		return object{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return object{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	obj := object{value: data, etag: aws.ToString(out.ETag), live: true}
	if raw, ok := out.Metadata[expiresMetadataKey]; ok && raw != "0" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || store.Expired(time.UnixMilli(ms), s.now()) {
			obj.live = false
		}
	}
	return obj, nil
}

func (s *Store) putInput(key string, value []byte, expires time.Time) *s3.PutObjectInput {
	ms := int64(0)
	if !expires.IsZero() {
		ms = expires.UnixMilli()
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{expiresMetadataKey: strconv.FormatInt(ms, 10)},
	}
	if !expires.IsZero() {
		in.Expires = aws.Time(expires)
	}
	return in
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
