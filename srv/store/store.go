// Package store manages the on-disk observation layout:
//
//	<root>/<Genus_species>/<id>.jpg
//	<root>/<Genus_species>/<id>_metadata.json
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"wildspan.exe.dev/srv/coords"
)

const (
	ImageExt       = ".jpg"
	MetadataSuffix = "_metadata.json"
	UnknownSpecies = "unknown_species"
)

var ErrInvalidSpecies = errors.New("invalid species key")

// SpeciesKey converts a scientific name to its directory name.
func SpeciesKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return UnknownSpecies
	}
	return strings.ReplaceAll(name, " ", "_")
}

// DisplayName converts a directory name back to a readable species name.
func DisplayName(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// CheckKey rejects keys that would escape the data root.
func CheckKey(key string) error {
	if key == "" || key == "." || strings.Contains(key, "..") ||
		strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidSpecies, key)
	}
	return nil
}

// Taxonomy is the taxon block of a metadata record.
type Taxonomy struct {
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name,omitempty"`
	Rank           string `json:"rank,omitempty"`
	TaxonID        int64  `json:"taxon_id,omitempty"`
}

// Coordinates is the coordinate block of a metadata record. Latitude and
// Longitude are null when HasCoordinates is false.
type Coordinates struct {
	Latitude                    *float64 `json:"latitude"`
	Longitude                   *float64 `json:"longitude"`
	HasCoordinates              bool     `json:"has_coordinates"`
	CoordinateUncertaintyMeters *float64 `json:"coordinate_uncertainty_meters,omitempty"`
	PositionalAccuracy          *float64 `json:"positional_accuracy,omitempty"`
	Geoprivacy                  string   `json:"geoprivacy,omitempty"`
	Source                      string   `json:"source,omitempty"`
	RejectionReason             string   `json:"rejection_reason,omitempty"`
}

// ImageMetadata describes the saved photo.
type ImageMetadata struct {
	ImageURL    string `json:"image_url"`
	License     string `json:"license,omitempty"`
	Attribution string `json:"attribution,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
}

// Metadata is the per-observation JSON record.
type Metadata struct {
	ObservationID int64         `json:"observation_id"`
	Species       string        `json:"species"`
	Taxonomy      Taxonomy      `json:"taxonomy"`
	Coordinates   Coordinates   `json:"coordinates"`
	ImageMetadata ImageMetadata `json:"image_metadata"`
	ObservedOn    string        `json:"observed_on,omitempty"`
	QualityGrade  string        `json:"quality_grade,omitempty"`
	URI           string        `json:"uri,omitempty"`
	DownloadedAt  string        `json:"downloaded_at"`
}

// SetCoordinates fills the coordinate block from a resolver outcome.
func (m *Metadata) SetCoordinates(res coords.Resolution) {
	m.Coordinates.Source = string(res.Source)
	if !res.OK {
		m.Coordinates.HasCoordinates = false
		m.Coordinates.Latitude = nil
		m.Coordinates.Longitude = nil
		if res.Reason != nil {
			m.Coordinates.RejectionReason = res.Reason.Error()
		}
		return
	}
	lat, lon := res.Coord.Lat, res.Coord.Lon
	m.Coordinates.HasCoordinates = true
	m.Coordinates.Latitude = &lat
	m.Coordinates.Longitude = &lon
	m.Coordinates.RejectionReason = ""
}

// PointSet is the set of validated points for one species.
type PointSet struct {
	Species    string
	CommonName string
	Points     []coords.GeoPoint
}

// Store reads and writes observations under a root directory.
type Store struct {
	root string
}

// New returns a store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

func (s *Store) speciesDir(species string) (string, error) {
	if err := CheckKey(species); err != nil {
		return "", err
	}
	return filepath.Join(s.root, species), nil
}

// ImagePath returns the image path for an observation.
func (s *Store) ImagePath(species string, id int64) (string, error) {
	dir, err := s.speciesDir(species)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.FormatInt(id, 10)+ImageExt), nil
}

// MetadataPath returns the metadata path for an observation.
func (s *Store) MetadataPath(species string, id int64) (string, error) {
	dir, err := s.speciesDir(species)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.FormatInt(id, 10)+MetadataSuffix), nil
}

// SaveObservation writes the image and then its metadata record. The image's
// local path is recorded in meta.
func (s *Store) SaveObservation(species string, id int64, image []byte, meta *Metadata) (string, error) {
	imgPath, err := s.ImagePath(species, id)
	if err != nil {
		return "", err
	}
	metaPath, err := s.MetadataPath(species, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(imgPath), 0755); err != nil {
		return "", fmt.Errorf("create species dir: %w", err)
	}

	if err := writeFileAtomic(imgPath, image); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	meta.ObservationID = id
	meta.Species = species
	meta.ImageMetadata.LocalPath = imgPath
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, data); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return imgPath, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// HasObservation reports whether both files of an observation exist.
func (s *Store) HasObservation(species string, id int64) bool {
	imgPath, err := s.ImagePath(species, id)
	if err != nil {
		return false
	}
	metaPath, _ := s.MetadataPath(species, id)
	if _, err := os.Stat(imgPath); err != nil {
		return false
	}
	_, err = os.Stat(metaPath)
	return err == nil
}

// LoadObservation reads the metadata record of one observation.
func (s *Store) LoadObservation(species string, id int64) (Metadata, error) {
	path, err := s.MetadataPath(species, id)
	if err != nil {
		return Metadata{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// ListSpecies returns the species directories in sorted order. A missing root
// yields an empty list.
func (s *Store) ListSpecies() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var species []string
	for _, e := range entries {
		if e.IsDir() && CheckKey(e.Name()) == nil && !strings.HasPrefix(e.Name(), ".") {
			species = append(species, e.Name())
		}
	}
	return species, nil
}

// MetadataFiles returns the metadata file names of a species, sorted.
func (s *Store) MetadataFiles(species string) ([]string, error) {
	dir, err := s.speciesDir(species)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read species dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), MetadataSuffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadMetadata reads every metadata record of a species in file-name order.
// Unreadable or corrupt records are logged and skipped.
func (s *Store) LoadMetadata(species string) ([]Metadata, error) {
	files, err := s.MetadataFiles(species)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, species)

	records := make([]Metadata, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("skipping unreadable metadata", "species", species, "file", name, "error", err)
			continue
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping corrupt metadata", "species", species, "file", name, "error", err)
			continue
		}
		records = append(records, m)
	}
	return records, nil
}

// WebURL reports whether raw is an absolute http or https URL with a host.
// Image URLs come from the API and from files on disk, and anything else is
// not fit to hand to a browser.
func WebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// PointsFromMetadata builds a point set from records flagged with coordinates.
// Records whose stored coordinates fail validation are dropped.
func PointsFromMetadata(species string, records []Metadata) PointSet {
	set := PointSet{Species: species}
	for _, m := range records {
		c := m.Coordinates
		if !c.HasCoordinates || c.Latitude == nil || c.Longitude == nil {
			continue
		}
		imageURL := m.ImageMetadata.ImageURL
		if imageURL != "" && !WebURL(imageURL) {
			slog.Warn("dropping stored image url", "species", species, "observation_id", m.ObservationID)
			imageURL = ""
		}
		p, err := coords.NewGeoPoint(*c.Latitude, *c.Longitude, m.ObservationID, imageURL)
		if err != nil {
			slog.Warn("dropping stored coordinate", "species", species, "observation_id", m.ObservationID, "error", err)
			continue
		}
		set.Points = append(set.Points, p)
		if set.CommonName == "" {
			set.CommonName = m.Taxonomy.CommonName
		}
	}
	return set
}

// LoadPointSet loads the validated points for one species.
func (s *Store) LoadPointSet(species string) (PointSet, error) {
	records, err := s.LoadMetadata(species)
	if err != nil {
		return PointSet{}, err
	}
	return PointsFromMetadata(species, records), nil
}
