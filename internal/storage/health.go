package storage

import (
	"context"
	"fmt"
)

// HealthChecker reports whether the archive bucket is reachable.
type HealthChecker struct {
	archive *Archive
}

// NewHealthChecker creates an S3 health checker for the given archive.
func NewHealthChecker(a *Archive) *HealthChecker {
	return &HealthChecker{archive: a}
}

// HealthCheck verifies the bucket exists.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.archive.metadataTimeout)
	defer cancel()
	exists, err := h.archive.client.BucketExists(ctx, h.archive.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3 bucket %q does not exist", h.archive.bucket)
	}
	return nil
}
