package assetstore

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	registry "github.com/always-cache/httpet/pkg/animal-registry"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when an asset listed in the registry is missing from storage.
var ErrNotFound = errors.New("asset not found")

// Object is the content of an asset.
type Object struct {
	Data        []byte
	ModTime     time.Time
	ContentType string
}

// Store reads assets.
//
// Implementations must be thread-safe!
type Store interface {
	Open(ctx context.Context, asset registry.Asset) (*Object, error)
}

// FSStore reads assets from a directory on disk.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Open reads the whole asset into memory.
// Asset paths are relative and slash separated; paths leaving the root are rejected.
func (s *FSStore) Open(ctx context.Context, asset registry.Asset) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + asset.Path)
	if asset.Path == "" || strings.Contains(asset.Path, "..") || clean == "/" {
		return nil, errors.Errorf("invalid asset path %q", asset.Path)
	}
	filename := filepath.Join(s.root, filepath.FromSlash(clean))

	info, err := os.Stat(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", asset.Path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat asset %s", asset.Path)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(ErrNotFound, "%s is a directory", asset.Path)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read asset %s", asset.Path)
	}
	return &Object{
		Data:        data,
		ModTime:     info.ModTime(),
		ContentType: asset.ContentType,
	}, nil
}
