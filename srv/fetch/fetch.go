// Package fetch downloads observation photos and metadata from iNaturalist
// into the on-disk store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/inat"
	"wildspan.exe.dev/srv/metrics"
	"wildspan.exe.dev/srv/store"
)

// Source is the subset of the iNaturalist client used here.
type Source interface {
	ListObservations(ctx context.Context, q inat.Query) (*inat.ObservationPage, error)
	FetchPhoto(ctx context.Context, url string) ([]byte, error)
}

// Recorder persists catalog rows and run history. Nil disables it.
type Recorder interface {
	Has(ctx context.Context, id int64) (bool, error)
	UpsertObservation(ctx context.Context, e catalog.Entry) error
	StartRun(ctx context.Context, taxonName string) (int64, error)
	FinishRun(ctx context.Context, id int64, totals catalog.RunTotals, runErr error) error
}

// Options controls one run.
type Options struct {
	TaxonName    string
	QualityGrade string
	PerPage      int
	MaxPages     int
}

// Report summarizes a run.
type Report struct {
	Pages              int
	Seen               int
	Saved              int
	AlreadyStored      int
	WithoutPhotos      int
	WithoutCoordinates int
	Failed             int
	Malformed          int
}

func (r Report) totals() catalog.RunTotals {
	return catalog.RunTotals{
		Pages:         r.Pages,
		Seen:          r.Seen,
		Saved:         r.Saved,
		WithoutCoords: r.WithoutCoordinates,
		Failed:        r.Failed,
	}
}

// Fetcher runs downloads.
type Fetcher struct {
	Source   Source
	Store    *store.Store
	Recorder Recorder
	Now      func() time.Time
}

// Run fetches up to opts.MaxPages pages. It stops early on an empty or short
// page. Individual observation failures are counted and do not abort the run;
// list errors and context cancellation do.
func (f *Fetcher) Run(ctx context.Context, opts Options) (Report, error) {
	var rep Report

	runID := int64(-1)
	if f.Recorder != nil {
		id, err := f.Recorder.StartRun(ctx, opts.TaxonName)
		if err != nil {
			slog.Warn("could not record fetch run", "error", err)
		} else {
			runID = id
		}
	}

	err := f.run(ctx, opts, &rep)

	if runID >= 0 {
		// The run context may be canceled; finish with a fresh one.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := f.Recorder.FinishRun(finishCtx, runID, rep.totals(), err); ferr != nil {
			slog.Warn("could not finish fetch run", "run_id", runID, "error", ferr)
		}
		cancel()
	}
	return rep, err
}

func (f *Fetcher) run(ctx context.Context, opts Options, rep *Report) error {
	for page := 1; page <= opts.MaxPages; page++ {
		res, err := f.Source.ListObservations(ctx, inat.Query{
			TaxonName:    opts.TaxonName,
			QualityGrade: opts.QualityGrade,
			PerPage:      opts.PerPage,
			Page:         page,
		})
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		rep.Pages++
		rep.Malformed += res.Malformed
		if res.Malformed > 0 {
			slog.Warn("dropped malformed observations", "page", page, "count", res.Malformed)
		}

		slog.Info("fetched page", "page", page, "results", len(res.Results), "total", res.TotalResults)

		for i := range res.Results {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.handle(ctx, &res.Results[i], rep)
		}

		if len(res.Results)+res.Malformed == 0 || (opts.PerPage > 0 && len(res.Results)+res.Malformed < opts.PerPage) {
			break
		}
	}
	return nil
}

func (f *Fetcher) handle(ctx context.Context, obs *inat.Observation, rep *Report) {
	rep.Seen++

	photo, ok := obs.FirstPhoto()
	if !ok {
		rep.WithoutPhotos++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeNoPhoto).Inc()
		return
	}

	species := store.SpeciesKey(obs.ScientificName())
	if err := store.CheckKey(species); err != nil {
		rep.Failed++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeFailed).Inc()
		slog.Warn("skipping observation with unusable taxon name", "observation_id", obs.ID, "error", err)
		return
	}
	if f.Store.HasObservation(species, obs.ID) {
		rep.AlreadyStored++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeAlreadyStored).Inc()
		f.backfill(ctx, species, obs.ID)
		return
	}

	imageURL := inat.MediumPhotoURL(photo.URL)
	if !store.WebURL(imageURL) {
		rep.Failed++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeFailed).Inc()
		slog.Warn("skipping observation with unusable photo url", "observation_id", obs.ID)
		return
	}
	data, err := f.Source.FetchPhoto(ctx, imageURL)
	if err != nil {
		rep.Failed++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeFailed).Inc()
		slog.Warn("photo download failed", "observation_id", obs.ID, "url", imageURL, "error", err)
		return
	}

	res := coords.ResolveDetailed(obs.Raw)
	if !res.OK {
		rep.WithoutCoordinates++
		metrics.CoordinatesRejected.WithLabelValues(metrics.RejectionLabel(res.Reason)).Inc()
		if !errors.Is(res.Reason, coords.ErrNoCoordinates) {
			slog.Warn("rejected coordinates", "observation_id", obs.ID, "reason", res.Reason, "source", res.Source)
		}
	}

	meta := f.metadata(obs, photo, imageURL, res)
	path, err := f.Store.SaveObservation(species, obs.ID, data, meta)
	if err != nil {
		rep.Failed++
		metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeFailed).Inc()
		slog.Error("save observation failed", "observation_id", obs.ID, "error", err)
		return
	}
	rep.Saved++
	metrics.ObservationsFetched.WithLabelValues(metrics.OutcomeSaved).Inc()
	metrics.PhotoBytes.Add(float64(len(data)))
	slog.Info("saved observation", "path", path, "has_coordinates", res.OK)

	if f.Recorder != nil {
		entry := catalog.EntryFromMetadata(*meta)
		if err := f.Recorder.UpsertObservation(ctx, entry); err != nil {
			slog.Warn("catalog upsert failed", "observation_id", obs.ID, "error", err)
		}
	}
}

// backfill catalogs an observation that is on disk but missing from the
// catalog, as happens after a run without a database.
func (f *Fetcher) backfill(ctx context.Context, species string, id int64) {
	if f.Recorder == nil {
		return
	}
	has, err := f.Recorder.Has(ctx, id)
	if err != nil {
		slog.Warn("catalog lookup failed", "observation_id", id, "error", err)
		return
	}
	if has {
		return
	}
	meta, err := f.Store.LoadObservation(species, id)
	if err != nil {
		slog.Warn("cannot backfill catalog", "observation_id", id, "error", err)
		return
	}
	if err := f.Recorder.UpsertObservation(ctx, catalog.EntryFromMetadata(meta)); err != nil {
		slog.Warn("catalog upsert failed", "observation_id", id, "error", err)
	}
}

func (f *Fetcher) metadata(obs *inat.Observation, photo inat.Photo, imageURL string, res coords.Resolution) *store.Metadata {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	meta := &store.Metadata{
		ObservationID: obs.ID,
		Taxonomy: store.Taxonomy{
			ScientificName: obs.ScientificName(),
			CommonName:     obs.CommonName(),
		},
		ImageMetadata: store.ImageMetadata{
			ImageURL:    imageURL,
			License:     photo.LicenseCode,
			Attribution: photo.Attribution,
		},
		ObservedOn:   obs.ObservedOn,
		QualityGrade: obs.QualityGrade,
		URI:          obs.URI,
		DownloadedAt: now().UTC().Format(time.RFC3339),
	}
	if obs.Taxon != nil {
		meta.Taxonomy.Rank = obs.Taxon.Rank
		meta.Taxonomy.TaxonID = obs.Taxon.ID
	}
	meta.SetCoordinates(res)
	meta.Coordinates.PositionalAccuracy = obs.PositionalAccuracy
	meta.Coordinates.CoordinateUncertaintyMeters = obs.PublicPositional
	if obs.Geoprivacy != nil {
		meta.Coordinates.Geoprivacy = *obs.Geoprivacy
	}
	return meta
}
