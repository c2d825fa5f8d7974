package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ErrNoSpreadsheet is returned when a prefix holds no acceptable object.
var ErrNoSpreadsheet = errors.New("no spreadsheet found")

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%q is not a gs:// URI", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%q has no bucket", uri)
	}
	return bucket, object, nil
}

// GCSFile is a spreadsheet stored as a GCS object.
type GCSFile struct {
	client *storage.Client
	bucket string
	object string
}

func NewGCSFile(client *storage.Client, bucket, object string) *GCSFile {
	return &GCSFile{client: client, bucket: bucket, object: object}
}

// Name is the object's base name, which is what the inference service sees as the filename.
func (f *GCSFile) Name() string { return path.Base(f.object) }

// URI returns gs://bucket/object.
func (f *GCSFile) URI() string { return fmt.Sprintf("gs://%s/%s", f.bucket, f.object) }

func (f *GCSFile) Open(ctx context.Context) (io.ReadCloser, error) {
	reader, err := f.client.Bucket(f.bucket).Object(f.object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", f.URI(), err)
	}
	return reader, nil
}

// LatestObject returns the most recently updated object under prefix whose
// name satisfies accept. A newer drop replaces an older one.
func LatestObject(ctx context.Context, client *storage.Client, bucket, prefix string, accept func(name string) bool) (*GCSFile, error) {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Updated"}); err != nil {
		return nil, fmt.Errorf("failed to build object query: %w", err)
	}
	it := client.Bucket(bucket).Objects(ctx, query)

	var (
		latestName    string
		latestUpdated time.Time
	)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if !accept(attrs.Name) {
			continue
		}
		if latestName == "" || attrs.Updated.After(latestUpdated) {
			latestName, latestUpdated = attrs.Name, attrs.Updated
		}
	}
	if latestName == "" {
		return nil, fmt.Errorf("%w under gs://%s/%s", ErrNoSpreadsheet, bucket, prefix)
	}
	return NewGCSFile(client, bucket, latestName), nil
}
