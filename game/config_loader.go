package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// LoadManifest reads package data from a YAML file, or from every .yaml/.yml file of a
// directory in name order. A later file replaces games (by game id) and packs (by name)
// defined earlier and adds the ones it introduces. The merged result is validated.
func LoadManifest(path string) (*Manifest, error) {
	files, err := manifestFiles(path)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{}
	for _, file := range files {
		part, err := readManifest(file)
		if err != nil {
			return nil, err
		}
		manifest.merge(part)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return manifest, nil
}

func manifestFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	// os.ReadDir sorts by file name
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}
	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		return filepath.Join(path, e.Name()), !e.IsDir() && (ext == ".yaml" || ext == ".yml")
	})
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files found in manifest directory %s", path)
	}
	return files, nil
}

func readManifest(file string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest %s: %w", file, err)
	}
	return &m, nil
}

func (m *Manifest) merge(other *Manifest) {
	for _, g := range other.Games {
		m.Games = upsert(m.Games, g, func(x Detail) bool { return x.GameID == g.GameID })
	}
	for _, p := range other.Packs {
		m.Packs = upsert(m.Packs, p, func(x ProgressivePack) bool { return x.Name == p.Name })
	}
}

func upsert[T any](items []T, item T, same func(T) bool) []T {
	if _, i, ok := lo.FindIndexOf(items, same); ok {
		items[i] = item
		return items
	}
	return append(items, item)
}
