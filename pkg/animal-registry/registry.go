package registry

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	statuscode "github.com/always-cache/httpet/pkg/status-code"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultName is the file stem of the site and animal default assets.
const DefaultName = "default"

const maxIdentifierLength = 63

var (
	// ErrNoAnimals is returned by Build when the asset root has no usable animal directory.
	ErrNoAnimals = errors.New("no animals found")
	// ErrNoFallback is returned by Build when the site default asset is missing.
	ErrNoFallback = errors.New("site default asset not found")
)

// contentTypes maps supported file extensions to their MIME type.
var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// Asset is the location of a renderable asset, relative to the asset root,
// together with its MIME type.
type Asset struct {
	Path        string
	ContentType string
}

// AnimalEntry holds the assets known for one animal.
type AnimalEntry struct {
	Name     string
	Fallback Asset
	codes    map[statuscode.Code]Asset
}

// Asset returns the bespoke asset for the given code, if there is one.
func (e *AnimalEntry) Asset(code statuscode.Code) (Asset, bool) {
	asset, ok := e.codes[code]
	return asset, ok
}

// StatusCodes returns the codes with a bespoke asset, in ascending order.
func (e *AnimalEntry) StatusCodes() []statuscode.Code {
	codes := make([]statuscode.Code, 0, len(e.codes))
	for code := range e.codes {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Registry is an immutable snapshot of the asset directory.
// It is safe for concurrent use since nothing writes to it after Build returns.
type Registry struct {
	fallback Asset
	animals  map[string]*AnimalEntry
}

type options struct {
	filter func(string) bool
	logger zerolog.Logger
}

// Option configures Build.
type Option func(*options)

// WithFilter only keeps animals for which allow returns true.
func WithFilter(allow func(name string) bool) Option {
	return func(o *options) { o.filter = allow }
}

// WithLogger sets the logger used to report skipped files and directories.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// ParseIdentifier trims and lower-cases an animal label and validates it.
// Only ASCII letters, digits and hyphens are accepted.
func ParseIdentifier(label string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(label))
	if id == "" || len(id) > maxIdentifierLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return "", false
		}
	}
	return id, true
}

// Discover returns the names of the directories in root that are valid animal identifiers.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read asset root %s", root)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if id, ok := ParseIdentifier(entry.Name()); ok && id == entry.Name() {
			names = append(names, id)
		}
	}
	return names, nil
}

// Build scans root and returns a registry snapshot.
// It fails if root cannot be read, if root has no default asset,
// or if no animal directory remains after filtering.
func Build(root string, opts ...Option) (*Registry, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read asset root %s", root)
	}

	r := &Registry{
		animals: make(map[string]*AnimalEntry),
	}

	var haveFallback bool
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			if stem, contentType, ok := splitAssetName(name); ok && stem == DefaultName && !haveFallback {
				r.fallback = Asset{Path: name, ContentType: contentType}
				haveFallback = true
			}
			continue
		}
		id, ok := ParseIdentifier(name)
		if !ok || id != name {
			o.logger.Warn().Str("dir", name).Msg("Skipping directory with invalid animal name")
			continue
		}
		if o.filter != nil && !o.filter(id) {
			o.logger.Debug().Str("animal", id).Msg("Skipping animal that is not enabled")
			continue
		}
		animal, err := scanAnimal(root, id, o.logger)
		if err != nil {
			return nil, err
		}
		r.animals[id] = animal
	}

	if !haveFallback {
		return nil, errors.Wrapf(ErrNoFallback, "asset root %s", root)
	}
	if len(r.animals) == 0 {
		return nil, errors.Wrapf(ErrNoAnimals, "asset root %s", root)
	}
	for _, animal := range r.animals {
		if animal.Fallback == (Asset{}) {
			o.logger.Warn().Str("animal", animal.Name).Msg("Animal has no default asset, using site default")
			animal.Fallback = r.fallback
		}
	}
	return r, nil
}

func scanAnimal(root, id string, logger zerolog.Logger) (*AnimalEntry, error) {
	files, err := os.ReadDir(filepath.Join(root, id))
	if err != nil {
		return nil, errors.Wrapf(err, "read animal directory %s", id)
	}
	animal := &AnimalEntry{
		Name:  id,
		codes: make(map[statuscode.Code]Asset),
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		stem, contentType, ok := splitAssetName(file.Name())
		if !ok {
			continue
		}
		asset := Asset{Path: path.Join(id, file.Name()), ContentType: contentType}
		if stem == DefaultName {
			if animal.Fallback == (Asset{}) {
				animal.Fallback = asset
			}
			continue
		}
		code, err := statuscode.Parse(stem)
		if err != nil {
			logger.Debug().Str("animal", id).Str("file", file.Name()).Msg("Ignoring file that is not a status code")
			continue
		}
		if existing, ok := animal.codes[code]; ok {
			logger.Warn().Str("animal", id).Str("kept", existing.Path).Str("ignored", asset.Path).Msg("Duplicate asset for status code")
			continue
		}
		animal.codes[code] = asset
	}
	return animal, nil
}

// splitAssetName returns the stem and MIME type of a supported asset file name.
func splitAssetName(name string) (string, string, bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return "", "", false
	}
	contentType, ok := contentTypes[strings.ToLower(name[dot+1:])]
	if !ok {
		return "", "", false
	}
	return strings.ToLower(name[:dot]), contentType, true
}

// Lookup returns the entry for an animal identifier.
func (r *Registry) Lookup(id string) (*AnimalEntry, bool) {
	animal, ok := r.animals[id]
	return animal, ok
}

// Fallback returns the site default asset.
func (r *Registry) Fallback() Asset {
	return r.fallback
}

// Animals returns the registered animal identifiers, sorted.
func (r *Registry) Animals() []string {
	names := make([]string, 0, len(r.animals))
	for name := range r.animals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnimalsWith returns the animals that have a bespoke asset for code, sorted.
func (r *Registry) AnimalsWith(code statuscode.Code) []string {
	names := make([]string, 0)
	for name, animal := range r.animals {
		if _, ok := animal.codes[code]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
