// Package cleanup finds and removes images that have no metadata record.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wildspan.exe.dev/srv/store"
)

// Folder is the preview for one species directory.
type Folder struct {
	Species string
	Images  int
	Orphans []string // file names within the folder
}

// Plan lists the orphaned images under a data root.
type Plan struct {
	Root    string
	Folders []Folder
	Images  int
}

// Orphans returns the number of images that would be deleted.
func (p Plan) Orphans() int {
	n := 0
	for _, f := range p.Folders {
		n += len(f.Orphans)
	}
	return n
}

// Kept returns the number of images with metadata.
func (p Plan) Kept() int { return p.Images - p.Orphans() }

// Paths returns the full paths of every orphan in folder order.
func (p Plan) Paths() []string {
	var paths []string
	for _, f := range p.Folders {
		for _, name := range f.Orphans {
			paths = append(paths, filepath.Join(p.Root, f.Species, name))
		}
	}
	return paths
}

// Preview walks root and lists every .jpg without a matching
// <id>_metadata.json. Nothing is deleted.
func Preview(root string) (Plan, error) {
	plan := Plan{Root: root}

	entries, err := os.ReadDir(root)
	if err != nil {
		return plan, fmt.Errorf("read data dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folder, err := previewFolder(root, e.Name())
		if err != nil {
			return plan, err
		}
		plan.Images += folder.Images
		plan.Folders = append(plan.Folders, folder)
	}
	return plan, nil
}

func previewFolder(root, species string) (Folder, error) {
	folder := Folder{Species: species}
	dir := filepath.Join(root, species)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return folder, fmt.Errorf("read %s: %w", species, err)
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name()] = true
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, store.ImageExt) {
			continue
		}
		folder.Images++
		id := strings.TrimSuffix(name, store.ImageExt)
		if !present[id+store.MetadataSuffix] {
			folder.Orphans = append(folder.Orphans, name)
		}
	}
	sort.Strings(folder.Orphans)
	return folder, nil
}

// Result reports what Apply did.
type Result struct {
	Deleted     int
	AlreadyGone int
	Errors      []error
}

// Apply deletes exactly the files listed in plan. Files that no longer exist
// are counted as already gone.
func Apply(plan Plan) Result {
	var res Result
	for _, path := range plan.Paths() {
		err := os.Remove(path)
		switch {
		case err == nil:
			res.Deleted++
			slog.Info("deleted orphan image", "path", path)
		case errors.Is(err, fs.ErrNotExist):
			res.AlreadyGone++
		default:
			res.Errors = append(res.Errors, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return res
}
