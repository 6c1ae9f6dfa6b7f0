// Package storage holds report persistence outside the catalog database:
// the S3 report archive and the standalone run report stores.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toolscout/catalogd/internal/domain"
)

// Default timeouts for S3 operations.
const (
	DefaultMetadataTimeout = 10 * time.Second // list, stat, bucket checks
	DefaultDataTimeout     = 60 * time.Second // get, put
)

// S3Config holds connection and timeout settings for the archive bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key, e.g. "catalogd/".
	Prefix string

	MetadataTimeout time.Duration
	DataTimeout     time.Duration
}

// Archive stores a history copy of every run report and quality report.
// Objects are write-once; keys sort by time within each prefix.
type Archive struct {
	client          *minio.Client
	bucket          string
	prefix          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// ArchivedObject describes one archived report.
type ArchivedObject struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// NewArchive connects to the bucket, creating it if missing.
func NewArchive(ctx context.Context, cfg S3Config) (*Archive, error) {
	if cfg.MetadataTimeout == 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	if cfg.DataTimeout == 0 {
		cfg.DataTimeout = DefaultDataTimeout
	}

	// ResponseHeaderTimeout bounds the wait for the first response byte,
	// not the whole transfer.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.MetadataTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &Archive{
		client:          client,
		bucket:          cfg.Bucket,
		prefix:          cfg.Prefix,
		metadataTimeout: cfg.MetadataTimeout,
		dataTimeout:     cfg.DataTimeout,
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.metadataTimeout)
	defer cancel()

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// RunReportKey is the object key for an archived run report.
func RunReportKey(r domain.RunReport) string {
	return path.Join("runs", string(r.Kind), r.Timestamp.UTC().Format("20060102T150405.000Z")+"-"+r.RunID+".json")
}

// QualityReportKey is the object key for an archived quality report.
func QualityReportKey(r *domain.QualityReport) string {
	return path.Join("quality", r.GeneratedAt.UTC().Format("20060102T150405.000Z")+".json")
}

// ArchiveRunReport writes r under runs/<kind>/.
func (a *Archive) ArchiveRunReport(ctx context.Context, r domain.RunReport) error {
	return a.putJSON(ctx, RunReportKey(r), r)
}

// ArchiveQualityReport writes r under quality/.
func (a *Archive) ArchiveQualityReport(ctx context.Context, r *domain.QualityReport) error {
	return a.putJSON(ctx, QualityReportKey(r), r)
}

func (a *Archive) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.dataTimeout)
	defer cancel()

	_, err = a.client.PutObject(ctx, a.bucket, a.prefix+key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// List returns archived objects under prefix (e.g. "runs/discovery/"), oldest first.
func (a *Archive) List(ctx context.Context, prefix string) ([]ArchivedObject, error) {
	ctx, cancel := context.WithTimeout(ctx, a.metadataTimeout)
	defer cancel()

	out := make([]ArchivedObject, 0)
	opts := minio.ListObjectsOptions{Prefix: a.prefix + prefix, Recursive: true}
	for obj := range a.client.ListObjects(ctx, a.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		out = append(out, ArchivedObject{Key: obj.Key[len(a.prefix):], Size: obj.Size, Modified: obj.LastModified})
	}
	return out, nil
}

// ReadRunReport loads an archived run report. It returns domain.ErrNotFound
// when the key does not exist.
func (a *Archive) ReadRunReport(ctx context.Context, key string) (*domain.RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, a.dataTimeout)
	defer cancel()

	obj, err := a.client.GetObject(ctx, a.bucket, a.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	var r domain.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &r, nil
}
