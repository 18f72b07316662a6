// Package scanner enumerates model files (checkpoints, VAEs) in local
// ComfyUI model directories, as a fallback for when the ComfyUI API is
// unreachable.
package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// modelExtensions are the file types ComfyUI loads as model weights.
var modelExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
}

// ScanModels lists model filenames directly under dir, sorted. Subdirectories
// are included one level deep with their relative path, matching how ComfyUI
// reports nested checkpoints. A missing directory yields an empty list.
func ScanModels(dir string) ([]string, error) {
	if dir == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			nested, err := os.ReadDir(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			for _, sub := range nested {
				if !sub.IsDir() && isModelFile(sub.Name()) {
					names = append(names, entry.Name()+"/"+sub.Name())
				}
			}
			continue
		}
		if isModelFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func isModelFile(name string) bool {
	return modelExtensions[strings.ToLower(filepath.Ext(name))]
}
