package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCS stages objects in a Cloud Storage bucket.
type GCS struct {
	service *storage.Service
	bucket  string
}

// NewGCS authenticates with the service account file at credPath, or with
// application default credentials when credPath is empty.
func NewGCS(ctx context.Context, credPath, bucket string) (*GCS, error) {
	var creds *google.Credentials
	if credPath != "" {
		data, err := os.ReadFile(credPath)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err = google.CredentialsFromJSONWithTypeAndParams(ctx, data, google.ServiceAccount, google.CredentialsParams{Scopes: []string{storage.DevstorageReadWriteScope}})
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
	}

	return newGCS(ctx, bucket, option.WithCredentials(creds))
}

func newGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	return &GCS{service: svc, bucket: bucket}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	_, err := g.service.Objects.Insert(g.bucket, &storage.Object{Name: key}).
		Media(r).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := g.service.Objects.Get(g.bucket, key).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("gcs download %s: %w", key, err)
	}
	return resp.Body, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.service.Objects.Delete(g.bucket, key).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
