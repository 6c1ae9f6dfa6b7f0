package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toolscout/catalogd/internal/storage"
)

const testBucket = "catalogd-test"

// testArchive returns an Archive connected to a test MinIO instance.
// It skips the test unless S3_ENDPOINT and credentials are set, and empties
// the bucket first.
func testArchive(t *testing.T) *storage.Archive {
	t.Helper()

	endpoint := os.Getenv("S3_ENDPOINT")
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		t.Skip("S3_ENDPOINT/S3_ACCESS_KEY/S3_SECRET_KEY not set, skipping integration test")
	}

	a, err := storage.NewArchive(context.Background(), storage.S3Config{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    testBucket,
		Prefix:    "it/",
	})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	cleanBucket(t, endpoint, accessKey, secretKey)
	return a
}

func cleanBucket(t *testing.T, endpoint, accessKey, secretKey string) {
	t.Helper()

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Fatalf("create minio client for cleanup: %v", err)
	}

	ctx := context.Background()
	for obj := range client.ListObjects(ctx, testBucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			t.Fatalf("list objects for cleanup: %v", obj.Err)
		}
		if err := client.RemoveObject(ctx, testBucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			t.Fatalf("remove object %s: %v", obj.Key, err)
		}
	}
}
