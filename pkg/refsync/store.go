package refsync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

type ObjectInfo struct {
	Name    string
	Size    int64
	Updated time.Time
}

type ObjectStore interface {
	List(ctx context.Context) ([]ObjectInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type GCSStore struct {
	Bucket *storage.BucketHandle
	Prefix string

	client *storage.Client
}

func NewGCSStore(ctx context.Context, bucketName string, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &GCSStore{
		Bucket: client.Bucket(bucketName),
		Prefix: prefix,
		client: client,
	}, nil
}

func (s *GCSStore) List(ctx context.Context) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	bucketObjects := s.Bucket.Objects(ctx, &storage.Query{Prefix: s.Prefix})
	for {
		objectAttr, err := bucketObjects.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		objects = append(objects, ObjectInfo{
			Name:    objectAttr.Name,
			Size:    objectAttr.Size,
			Updated: objectAttr.Updated,
		})
	}

	return objects, nil
}

func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.Bucket.Object(name).NewReader(ctx)
}

func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// DirectoryStore serves reference files from a local directory
type DirectoryStore struct {
	Path string
}

func (s DirectoryStore) List(ctx context.Context) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.Path)
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		objects = append(objects, ObjectInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			Updated: info.ModTime(),
		})
	}

	return objects, nil
}

func (s DirectoryStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Path, filepath.Base(name)))
}
