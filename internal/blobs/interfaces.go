// Package blobs stores run artifacts such as checkpoints and traces.
package blobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Store moves files to and from a keyed artifact store.
type Store interface {
	// Upload copies the file at sourcePath to key, replacing any existing object.
	Upload(ctx context.Context, sourcePath string, key string) error
	// Download writes key to destPath. If no such object exists, the error
	// satisfies errors.Is(err, os.ErrNotExist).
	Download(ctx context.Context, key string, destPath string) error
	// URL returns a human readable location for key.
	URL(key string) string
}

// Open returns a Store for location: gs://bucket/prefix selects Cloud
// Storage, anything else is a local directory (file:// is accepted).
func Open(location string) (Store, error) {
	if location == "" {
		return nil, fmt.Errorf("blob store location is empty")
	}
	if !strings.Contains(location, "://") {
		return &DirStore{Dir: location}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing blob store location %q: %w", location, err)
	}
	switch u.Scheme {
	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("blob store location %q has no bucket", location)
		}
		return &GCSBlobstore{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	case "file":
		return &DirStore{Dir: u.Path}, nil
	default:
		return nil, fmt.Errorf("unsupported blob store scheme %q", u.Scheme)
	}
}

// OpenObject splits the location of a single object into the Store holding
// it and its key, e.g. gs://bucket/run/ckpt/step-1.ckpt opens
// gs://bucket/run/ckpt and returns the key step-1.ckpt.
func OpenObject(location string) (Store, string, error) {
	i := strings.LastIndex(location, "/")
	if i < 0 {
		return &DirStore{Dir: "."}, location, nil
	}
	dir, key := location[:i], location[i+1:]
	if key == "" {
		return nil, "", fmt.Errorf("object location %q has no name", location)
	}
	if strings.HasSuffix(dir, "://") {
		// file:///key
		dir += "/"
	}
	if dir == "" {
		dir = "/"
	}
	store, err := Open(dir)
	if err != nil {
		return nil, "", err
	}
	return store, key, nil
}
