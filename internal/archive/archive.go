// Package archive exports finished workitems to blob storage
package archive

import (
	"context"
	"encoding/json"

	"gocloud.dev/blob"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/openimaging/upsd/pkg/api"
)

// BlobArchiver writes the final record of COMPLETED and CANCELED
// workitems to a gocloud.dev bucket, supporting S3, GCS, Azure Blob
// Storage, and local directories
type BlobArchiver struct {
	bucket *blob.Bucket
	prefix string
}

// NewBlobArchiver opens the bucket at the given URL
func NewBlobArchiver(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchiver{bucket: bucket, prefix: prefix}, nil
}

// NewBucketArchiver wraps an already-open bucket
func NewBucketArchiver(bucket *blob.Bucket, prefix string) *BlobArchiver {
	return &BlobArchiver{bucket: bucket, prefix: prefix}
}

// Archive writes the workitem record as JSON under <prefix><uid>.json
func (a *BlobArchiver) Archive(ctx context.Context, w *api.Workitem) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(w.UID), data, nil)
}

// Close releases the bucket
func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(uid api.WorkitemUID) string {
	return a.prefix + string(uid) + ".json"
}
