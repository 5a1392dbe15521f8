package srv

import (
	"database/sql"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"

	"wildspan.exe.dev/db"
	"wildspan.exe.dev/srv/cache"
	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/metrics"
	"wildspan.exe.dev/srv/store"
)

type Server struct {
	DB           *sql.DB
	Hostname     string
	TemplatesDir string
	Store        *store.Store
	Catalog      *catalog.Catalog
	SpanCache    *cache.SpanCache
}

// Config holds what New needs. SpanCache may be nil.
type Config struct {
	DBPath    string
	DataDir   string
	Hostname  string
	SpanCache *cache.SpanCache
}

type pageData struct {
	Hostname string
	Species  []speciesLink
}

type speciesLink struct {
	Key         string
	DisplayName string
}

type speciesPageData struct {
	Hostname    string
	Species     string
	DisplayName string
}

func New(cfg Config) (*Server, error) {
	_, thisFile, _, _ := runtime.Caller(0)
	baseDir := filepath.Dir(thisFile)
	srv := &Server{
		Hostname:     cfg.Hostname,
		TemplatesDir: filepath.Join(baseDir, "templates"),
		Store:        store.New(cfg.DataDir),
		SpanCache:    cfg.SpanCache,
	}
	if err := srv.setUpDatabase(cfg.DBPath); err != nil {
		return nil, err
	}
	srv.Catalog = catalog.New(srv.DB)
	return srv, nil
}

// HandleRoot renders the species picker.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Store.ListSpecies()
	if err != nil {
		slog.Error("list species", "error", err)
		http.Error(w, "failed to list species", http.StatusInternalServerError)
		return
	}

	data := pageData{Hostname: s.Hostname}
	for _, k := range keys {
		data.Species = append(data.Species, speciesLink{Key: k, DisplayName: store.DisplayName(k)})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderTemplate(w, "index.html", data); err != nil {
		slog.Warn("render template", "url", r.URL.Path, "error", err)
	}
}

// HandleSpeciesPage renders the map page for one species. The map itself is
// filled in client side from the span and observations APIs.
func (s *Server) HandleSpeciesPage(w http.ResponseWriter, r *http.Request) {
	species := r.PathValue("name")
	if err := store.CheckKey(species); err != nil {
		http.Error(w, "invalid species", http.StatusBadRequest)
		return
	}

	data := speciesPageData{
		Hostname:    s.Hostname,
		Species:     species,
		DisplayName: store.DisplayName(species),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderTemplate(w, "species.html", data); err != nil {
		slog.Warn("render template", "url", r.URL.Path, "error", err)
	}
}

func (s *Server) renderTemplate(w http.ResponseWriter, name string, data any) error {
	path := filepath.Join(s.TemplatesDir, name)
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("execute template %q: %w", name, err)
	}
	return nil
}

// SetupDatabase initializes the database connection and runs migrations
func (s *Server) setUpDatabase(dbPath string) error {
	wdb, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	s.DB = wdb
	if err := db.RunMigrations(wdb); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Server) Close() error {
	return s.DB.Close()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, metrics.Middleware(pattern, h))
	}

	// Pages
	route("GET /{$}", s.HandleRoot)
	route("GET /species/{name}", s.HandleSpeciesPage)

	// API routes
	route("GET /api/species", s.HandleAPISpecies)
	route("GET /api/species/{name}/observations", s.HandleAPISpeciesObservations)
	route("GET /api/species/{name}/span", s.HandleAPISpeciesSpan)
	route("GET /api/stats", s.HandleAPIStats)
	route("GET /api/activity", s.HandleAPIActivity)
	route("GET /api/runs", s.HandleAPIRuns)
	route("GET /api/export/species.csv", s.HandleAPIExportSpecies)

	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Serve starts the HTTP server with the configured routes
func (s *Server) Serve(addr string) error {
	slog.Info("starting server", "addr", addr, "data_dir", s.Store.Root())
	return http.ListenAndServe(addr, s.Handler())
}
