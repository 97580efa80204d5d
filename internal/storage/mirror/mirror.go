// Package mirror copies completed downloads to an S3 bucket.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
)

const (
	partSize           = 8 * 1024 * 1024
	defaultContentType = "application/octet-stream"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4a":  "audio/mp4",
	".vtt":  "text/vtt",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
}

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string // S3 compatible endpoint; path-style addressing is used when set
	AccessKeyID     string
	SecretAccessKey string
	// Root is stripped from local paths to build object keys.
	Root string
}

type s3Mirror struct {
	fs  afero.Fs
	up  Uploader
	cfg Config
	log *slog.Logger
}

// NewS3Mirror builds an uploader from cfg. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain.
func NewS3Mirror(ctx context.Context, fs afero.Fs, cfg Config, log *slog.Logger) (*s3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, common.Configuration("mirror bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, common.Configuration("cannot load aws config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	return NewMirror(fs, up, cfg, log), nil
}

func NewMirror(fs afero.Fs, up Uploader, cfg Config, log *slog.Logger) *s3Mirror {
	return &s3Mirror{
		fs:  fs,
		up:  up,
		cfg: cfg,
		log: log.With(slog.String("item", "S3Mirror"), slog.String("bucket", cfg.Bucket)),
	}
}

// Key returns the object key for a local file.
func (m *s3Mirror) Key(localPath string) string {
	rel := localPath
	if m.cfg.Root != "" {
		if r, err := filepath.Rel(m.cfg.Root, localPath); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	return path.Join(strings.Trim(m.cfg.Prefix, "/"), filepath.ToSlash(rel))
}

// TaskCompleted streams the downloaded file to the bucket.
func (m *s3Mirror) TaskCompleted(ctx context.Context, task entity.DownloadTask) error {
	f, err := m.fs.Open(task.DestinationPath)
	if err != nil {
		return common.FileSystem("open file for mirror", err)
	}
	defer f.Close()

	key := m.Key(task.DestinationPath)

	contentType := contentTypeOf(task.DestinationPath)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"task-id": task.TaskID},
	}

	if _, err := m.up.Upload(ctx, input); err != nil {
		return fmt.Errorf("cannot upload %s: %w", key, err)
	}

	m.log.Info("File mirrored", slog.String("task_id", task.TaskID), slog.String("key", key))

	return nil
}

func contentTypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return defaultContentType
}
