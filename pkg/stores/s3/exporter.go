/*
Package s3 writes graph snapshots to an S3-compatible object store.
*/
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

const (
	storeName = "s3"
	prefix    = "snapshots/"
)

/*
Options configures the connection. Region is fixed to skip the bucket
location lookup most S3-compatible servers do not need.
*/
type Options struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	Region    string `mapstructure:"region"`
}

/*
Exporter stores snapshots as JSON objects keyed by the time they were taken.
*/
type Exporter struct {
	client *minio.Client
	bucket string
}

func NewExporter(opts Options) (*Exporter, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	if opts.Bucket == "" {
		opts.Bucket = "nire"
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})

	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	return &Exporter{client: client, bucket: opts.Bucket}, nil
}

/*
Export uploads the snapshot and returns the object key it was written to.
The bucket is created on first use.
*/
func (exporter *Exporter) Export(ctx context.Context, snapshot memory.Snapshot) (string, error) {
	if err := exporter.ensureBucket(ctx); err != nil {
		return "", err
	}

	data, err := json.Marshal(snapshot)

	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := Key(snapshot)

	if _, err := exporter.client.PutObject(
		ctx, exporter.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	); err != nil {
		return "", errors.Unavailable(storeName, "put", err)
	}

	log.Info("snapshot exported", "bucket", exporter.bucket, "key", key, "memories", len(snapshot.Memories))

	return key, nil
}

/*
Latest loads the most recent snapshot in the bucket.
*/
func (exporter *Exporter) Latest(ctx context.Context) (memory.Snapshot, error) {
	var keys []string

	for object := range exporter.client.ListObjects(ctx, exporter.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return memory.Snapshot{}, errors.Unavailable(storeName, "list", object.Err)
		}

		keys = append(keys, object.Key)
	}

	if len(keys) == 0 {
		return memory.Snapshot{}, errors.ErrNotFound
	}

	sort.Strings(keys)

	object, err := exporter.client.GetObject(ctx, exporter.bucket, keys[len(keys)-1], minio.GetObjectOptions{})

	if err != nil {
		return memory.Snapshot{}, errors.Unavailable(storeName, "get", err)
	}

	defer object.Close()

	return Decode(object)
}

func (exporter *Exporter) ensureBucket(ctx context.Context) error {
	exists, err := exporter.client.BucketExists(ctx, exporter.bucket)

	if err != nil {
		return errors.Unavailable(storeName, "bucket", err)
	}

	if exists {
		return nil
	}

	if err := exporter.client.MakeBucket(ctx, exporter.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Unavailable(storeName, "make bucket", err)
	}

	return nil
}

/*
Key names a snapshot object. The compact UTC timestamp sorts lexically.
*/
func Key(snapshot memory.Snapshot) string {
	stamp := snapshot.TakenAt.UTC().Format("20060102T150405.000000000Z")
	return prefix + strings.Replace(stamp, ".", "", 1) + ".json"
}

func Decode(r io.Reader) (memory.Snapshot, error) {
	var snapshot memory.Snapshot

	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return snapshot, nil
}
