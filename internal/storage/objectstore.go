package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ashita-ai/yoho/internal/model"
)

// ObjectConfig selects an S3-compatible bucket for NDJSON exports.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the settings needed to reach the bucket.
func (c ObjectConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("storage: object endpoint is required")
	case strings.Contains(c.Endpoint, "://"):
		return fmt.Errorf("storage: object endpoint must not include a scheme: %q", c.Endpoint)
	case strings.TrimSpace(c.AccessKey) == "":
		return errors.New("storage: object access key is required")
	case strings.TrimSpace(c.SecretKey) == "":
		return errors.New("storage: object secret key is required")
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("storage: object bucket is required")
	}
	return nil
}

// ObjectExporter writes each result as one NDJSON object.
type ObjectExporter struct {
	client *minio.Client
	cfg    ObjectConfig
	logger *slog.Logger
}

// NewObjectExporter connects to the object store and creates the bucket if
// it does not exist.
func NewObjectExporter(ctx context.Context, cfg ObjectConfig, logger *slog.Logger) (*ObjectExporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newObjectTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create object client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("storage: ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &ObjectExporter{client: client, cfg: cfg, logger: logger}, nil
}

// ObjectKey returns "{prefix}/{run}/{loa}/{violence_type}/{export_id}.ndjson".
func ObjectKey(prefix string, scope model.Scope, exportID uuid.UUID) string {
	return path.Join(strings.Trim(prefix, "/"), scope.Run, scope.LoA, scope.ViolenceType, exportID.String()+".ndjson")
}

// Export uploads the records, one JSON object per line in response order.
// The descriptor and result ID travel as object metadata.
func (e *ObjectExporter) Export(ctx context.Context, result model.Result) (ExportReceipt, error) {
	exportID := uuid.New()
	key := ObjectKey(e.cfg.Prefix, result.Descriptor.Scope(), exportID)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range result.Records {
		if err := enc.Encode(r); err != nil {
			return ExportReceipt{}, fmt.Errorf("storage: encode record %d: %w", i, err)
		}
	}
	descriptor, err := json.Marshal(result.Descriptor)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: marshal descriptor: %w", err)
	}

	_, err = e.client.PutObject(ctx, e.cfg.Bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
		UserMetadata: map[string]string{
			"Result-Id":    result.ID.String(),
			"Record-Count": strconv.Itoa(len(result.Records)),
			"Descriptor":   string(descriptor),
		},
	})
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("storage: put object %s: %w", key, err)
	}

	e.logger.Info("storage: exported result", "backend", "object", "export_id", exportID, "key", key, "records", len(result.Records))
	return ExportReceipt{
		ExportID: exportID,
		Records:  len(result.Records),
		Location: "s3://" + e.cfg.Bucket + "/" + key,
	}, nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (e *ObjectExporter) Close() error { return nil }

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newObjectTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
