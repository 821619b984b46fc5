package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/River-unknown/kit/internal/cache"
	"github.com/River-unknown/kit/internal/errors"
)

const manifestFile = "package.json"

// packageManifest is the subset of an adaptor's package.json the compiler reads.
type packageManifest struct {
	Name string `json:"name"`
	Kit  struct {
		Exports   []string `json:"exports"`
		ExportAll bool     `json:"exportAll"`
	} `json:"kit"`
}

// ManifestLoader reads adaptor export manifests from installed adaptor directories.
// Installed adaptors never change on disk, so manifests are cached per directory for the life of the process.
type ManifestLoader struct {
	cache *cache.Cache[Adaptor]
}

func NewManifestLoader() *ManifestLoader {
	return &ManifestLoader{cache: cache.NewCache[Adaptor]("adaptor_manifest")}
}

// Load returns the adaptor description for the package installed at dir. The returned Name is
// the specifier generated imports use. A package without an export list yields an Adaptor with no
// exports, which makes the compiler fall back to importing every free identifier.
func (loader *ManifestLoader) Load(ctx context.Context, specifier, dir string) (Adaptor, error) {
	manifest, err := loader.cache.GetOrLoad(ctx, dir, func() (Adaptor, error) {
		return readManifest(dir)
	})
	if err != nil {
		return Adaptor{}, err
	}

	manifest.Name = specifier

	return manifest, nil
}

func readManifest(dir string) (Adaptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Adaptor{}, nil
		}

		return Adaptor{}, errors.New(err)
	}

	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Adaptor{}, errors.Errorf("invalid adaptor manifest %s: %w", filepath.Join(dir, manifestFile), err)
	}

	return Adaptor{
		Name:      manifest.Name,
		Exports:   manifest.Kit.Exports,
		ExportAll: manifest.Kit.ExportAll,
	}, nil
}
