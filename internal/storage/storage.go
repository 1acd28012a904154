// Package storage persists ticket photos. The telegram driver keeps the
// Telegram file id as the reference; the s3 driver copies the photo into a
// bucket and returns its URL.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"

	tele "gopkg.in/telebot.v4"
)

const uploadTimeout = 20 * time.Second

// Fetcher downloads a Telegram file. *tele.Bot implements it.
type Fetcher interface {
	File(file *tele.File) (io.ReadCloser, error)
}

// Photos stores a photo by Telegram file id and returns the reference to keep.
type Photos interface {
	Save(ctx context.Context, fileID string) (string, error)
}

// New returns the driver selected by cfg.
func New(cfg coreconfig.StorageConfig, files Fetcher) (Photos, error) {
	switch cfg.Driver {
	case "", coreconfig.StorageTelegram:
		return Telegram{}, nil
	case coreconfig.StorageS3:
		sess, err := session.NewSession(awsConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		return NewS3(s3manager.NewUploader(sess), files, cfg), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func awsConfig(cfg coreconfig.StorageConfig) *aws.Config {
	c := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		c = c.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	return c
}

// Telegram keeps the file id.
type Telegram struct{}

// Save implements Photos.
func (Telegram) Save(_ context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("empty file id")
	}
	return fileID, nil
}

// S3 copies photos into a bucket under prefix/yyyy/mm/.
type S3 struct {
	uploader  s3manageriface.UploaderAPI
	files     Fetcher
	bucket    string
	prefix    string
	publicURL string
	now       func() time.Time
}

// NewS3 builds the s3 driver.
func NewS3(uploader s3manageriface.UploaderAPI, files Fetcher, cfg coreconfig.StorageConfig) *S3 {
	return &S3{
		uploader:  uploader,
		files:     files,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
	}
}

// Save implements Photos.
func (s *S3) Save(ctx context.Context, fileID string) (string, error) {
	start := time.Now()
	body, err := s.files.File(&tele.File{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileID, err)
	}
	defer body.Close()

	key := s.key()
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("image/jpeg"),
		Metadata:    map[string]*string{"Telegram-File-Id": aws.String(fileID)},
	})
	if err != nil {
		logger.LogEvent(ctx, logger.Storage, slog.LevelWarn, "photo.upload_failed",
			slog.String("status", "fail"),
			slog.String("bucket", s.bucket),
			slog.String("key", key),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	ref := s.link(key, out)
	logger.LogEvent(ctx, logger.Storage, slog.LevelInfo, "photo.uploaded",
		slog.String("status", "ok"),
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int64("took_ms", time.Since(start).Milliseconds()),
	)
	return ref, nil
}

func (s *S3) key() string {
	now := s.now().UTC()
	return path.Join(s.prefix, now.Format("2006"), now.Format("01"), uuid.NewString()+".jpg")
}

func (s *S3) link(key string, out *s3manager.UploadOutput) string {
	switch {
	case s.publicURL != "":
		return s.publicURL + "/" + key
	case out != nil && out.Location != "":
		return out.Location
	}
	return "s3://" + s.bucket + "/" + key
}
