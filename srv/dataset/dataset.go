// Package dataset exposes the species directories as a labelled image
// dataset: one class per species folder, images resized into CHW float
// tensors and served in (optionally shuffled) batches.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultSize is the square edge images are resized to.
const DefaultSize = 128

var ErrEmpty = errors.New("dataset has no images")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// Sample is one image file and its class index.
type Sample struct {
	Path  string
	Class int
}

// ImageFolder is a dataset rooted at a directory of class subdirectories.
type ImageFolder struct {
	Root    string
	Classes []string
	Samples []Sample
}

// Open scans root. Classes are the sorted subdirectory names; samples are
// ordered by class then file name. Directories without images still count
// as classes.
func Open(root string) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}

	ds := &ImageFolder{Root: root}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ds.Classes = append(ds.Classes, e.Name())
		}
	}
	sort.Strings(ds.Classes)

	for class, name := range ds.Classes {
		files, err := os.ReadDir(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read class %s: %w", name, err)
		}
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			ds.Samples = append(ds.Samples, Sample{Path: filepath.Join(root, name, f.Name()), Class: class})
		}
	}
	if len(ds.Samples) == 0 {
		return ds, ErrEmpty
	}
	return ds, nil
}

// Len returns the number of samples.
func (ds *ImageFolder) Len() int { return len(ds.Samples) }

// Tensor is a CHW float32 image with values in [0, 1].
type Tensor struct {
	C, H, W int
	Data    []float32
}

// At returns the value at channel c, row y, column x.
func (t Tensor) At(c, y, x int) float32 {
	return t.Data[c*t.H*t.W+y*t.W+x]
}

// Transform resizes an image and converts it to a tensor.
type Transform struct {
	Width, Height int
}

// Apply runs the transform.
func (tr Transform) Apply(src image.Image) Tensor {
	w, h := tr.Width, tr.Height
	if w <= 0 {
		w = DefaultSize
	}
	if h <= 0 {
		h = DefaultSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	t := Tensor{C: 3, H: h, W: w, Data: make([]float32, 3*h*w)}
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(x, y)
			p := y*w + x
			t.Data[p] = float32(dst.Pix[i]) / 255
			t.Data[plane+p] = float32(dst.Pix[i+1]) / 255
			t.Data[2*plane+p] = float32(dst.Pix[i+2]) / 255
		}
	}
	return t
}

// LoadSample decodes and transforms sample i.
func (ds *ImageFolder) LoadSample(i int, tr Transform) (Tensor, int, error) {
	s := ds.Samples[i]
	f, err := os.Open(s.Path)
	if err != nil {
		return Tensor{}, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Tensor{}, 0, fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return tr.Apply(img), s.Class, nil
}

// Loader batches samples from an ImageFolder.
type Loader struct {
	Dataset   *ImageFolder
	Transform Transform
	BatchSize int
	Shuffle   bool
	Seed      uint64
}

// Batch is a loaded batch.
type Batch struct {
	Images []Tensor
	Labels []int
}

// Batches returns the sample indices of each batch for the given epoch. The
// last batch may be short. A shuffled order depends on Seed and epoch only, so
// every epoch sees a new order that can be reproduced.
func (l *Loader) Batches(epoch int) [][]int {
	n := l.Dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		r := rand.New(rand.NewPCG(l.Seed, (l.Seed^0x9e3779b97f4a7c15)+uint64(epoch)))
		r.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	size := l.BatchSize
	if size <= 0 {
		size = 32
	}
	var batches [][]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batches = append(batches, order[start:end])
	}
	return batches
}

// Load materialises one batch.
func (l *Loader) Load(ctx context.Context, indices []int) (Batch, error) {
	b := Batch{
		Images: make([]Tensor, 0, len(indices)),
		Labels: make([]int, 0, len(indices)),
	}
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		t, label, err := l.Dataset.LoadSample(i, l.Transform)
		if err != nil {
			return Batch{}, err
		}
		b.Images = append(b.Images, t)
		b.Labels = append(b.Labels, label)
	}
	return b, nil
}
