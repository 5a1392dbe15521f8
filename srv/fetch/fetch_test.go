package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"wildspan.exe.dev/srv/catalog"
	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/inat"
	"wildspan.exe.dev/srv/store"
)

type fakeSource struct {
	pages      map[int]*inat.ObservationPage
	listErr    error
	photoErr   map[string]error
	listCalls  []int
	photoCalls []string
}

func (f *fakeSource) ListObservations(ctx context.Context, q inat.Query) (*inat.ObservationPage, error) {
	f.listCalls = append(f.listCalls, q.Page)
	if f.listErr != nil {
		return nil, f.listErr
	}
	if p, ok := f.pages[q.Page]; ok {
		return p, nil
	}
	return &inat.ObservationPage{Page: q.Page}, nil
}

func (f *fakeSource) FetchPhoto(ctx context.Context, url string) ([]byte, error) {
	f.photoCalls = append(f.photoCalls, url)
	if err := f.photoErr[url]; err != nil {
		return nil, err
	}
	return []byte("jpeg:" + url), nil
}

type fakeRecorder struct {
	entries  []catalog.Entry
	started  []string
	finished []catalog.RunTotals
	runErrs  []error
}

func (r *fakeRecorder) Has(ctx context.Context, id int64) (bool, error) {
	for _, e := range r.entries {
		if e.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRecorder) UpsertObservation(ctx context.Context, e catalog.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRecorder) StartRun(ctx context.Context, taxonName string) (int64, error) {
	r.started = append(r.started, taxonName)
	return int64(len(r.started)), nil
}

func (r *fakeRecorder) FinishRun(ctx context.Context, id int64, totals catalog.RunTotals, runErr error) error {
	r.finished = append(r.finished, totals)
	r.runErrs = append(r.runErrs, runErr)
	return nil
}

func obs(id int64, name string, raw coords.RawObservation, photo bool) inat.Observation {
	o := inat.Observation{ID: id, Taxon: &inat.Taxon{ID: 1, Name: name, PreferredCommonName: "Common " + name}, Raw: raw}
	if photo {
		o.Photos = []inat.Photo{{URL: "https://img.example/" + name + "/square.jpg", LicenseCode: "cc-by"}}
	}
	return o
}

func TestRunSavesObservations(t *testing.T) {
	src := &fakeSource{pages: map[int]*inat.ObservationPage{
		1: {Page: 1, Results: []inat.Observation{
			obs(1, "Cardinalis cardinalis", coords.RawObservation{"latitude": 44.97, "longitude": -93.26}, true),
			obs(2, "Cardinalis cardinalis", coords.RawObservation{"latitude": 0.0, "longitude": 0.0}, true),
			obs(3, "Turdus migratorius", coords.RawObservation{}, false),
		}},
		2: {Page: 2, Results: []inat.Observation{
			obs(4, "Turdus migratorius", coords.RawObservation{"location": "40.7,-74.0"}, true),
		}},
	}}
	rec := &fakeRecorder{}
	st := store.New(t.TempDir())
	f := &Fetcher{
		Source:   src,
		Store:    st,
		Recorder: rec,
		Now:      func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
	}

	rep, err := f.Run(context.Background(), Options{TaxonName: "Aves", PerPage: 3, MaxPages: 5})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Page 2 is short, so page 3 is never requested.
	if len(src.listCalls) != 2 {
		t.Errorf("list calls = %v, want pages 1 and 2", src.listCalls)
	}
	want := Report{Pages: 2, Seen: 4, Saved: 3, WithoutPhotos: 1, WithoutCoordinates: 1}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}
	if src.photoCalls[0] != "https://img.example/Cardinalis cardinalis/medium.jpg" {
		t.Errorf("photo url = %q, want medium size", src.photoCalls[0])
	}

	set, err := st.LoadPointSet("Cardinalis_cardinalis")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Points) != 1 || set.Points[0].ObservationID != 1 {
		t.Errorf("cardinal points = %+v, want observation 1 only", set.Points)
	}
	records, _ := st.LoadMetadata("Cardinalis_cardinalis")
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1].Coordinates.HasCoordinates || records[1].Coordinates.RejectionReason == "" {
		t.Errorf("null island record = %+v", records[1].Coordinates)
	}
	if records[0].DownloadedAt != "2024-05-01T00:00:00Z" || records[0].ImageMetadata.License != "cc-by" {
		t.Errorf("metadata = %+v", records[0])
	}

	robin, _ := st.LoadPointSet("Turdus_migratorius")
	if len(robin.Points) != 1 || robin.Points[0].Latitude != 40.7 {
		t.Errorf("robin points = %+v", robin.Points)
	}

	if len(rec.entries) != 3 || rec.entries[0].Species != "Cardinalis_cardinalis" {
		t.Errorf("catalog entries = %+v", rec.entries)
	}
	if len(rec.finished) != 1 || rec.finished[0].Saved != 3 || rec.runErrs[0] != nil {
		t.Errorf("run not finished correctly: %+v %v", rec.finished, rec.runErrs)
	}
}

func TestRunSkipsStoredAndCountsFailures(t *testing.T) {
	st := store.New(t.TempDir())
	if _, err := st.SaveObservation("Aves", 1, []byte("old"), &store.Metadata{}); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{
		pages: map[int]*inat.ObservationPage{
			1: {Page: 1, Malformed: 1, Results: []inat.Observation{
				obs(1, "Aves", coords.RawObservation{"latitude": 1.0, "longitude": 1.0}, true),
				obs(2, "Aves", coords.RawObservation{"latitude": 1.0, "longitude": 1.0}, true),
			}},
		},
		photoErr: map[string]error{"https://img.example/Aves/medium.jpg": inat.ErrNotFound},
	}
	f := &Fetcher{Source: src, Store: st}

	rep, err := f.Run(context.Background(), Options{PerPage: 10, MaxPages: 3})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.AlreadyStored != 1 || rep.Failed != 1 || rep.Saved != 0 || rep.Malformed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if len(src.photoCalls) != 1 {
		t.Errorf("photo calls = %v, stored observation should not be refetched", src.photoCalls)
	}
}

func TestRunBackfillsCatalogForStoredObservations(t *testing.T) {
	st := store.New(t.TempDir())
	lat, lon := 5.0, 6.0
	stored := &store.Metadata{
		Taxonomy:    store.Taxonomy{CommonName: "Birds"},
		Coordinates: store.Coordinates{Latitude: &lat, Longitude: &lon, HasCoordinates: true},
	}
	if _, err := st.SaveObservation("Aves", 1, []byte("old"), stored); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{pages: map[int]*inat.ObservationPage{
		1: {Page: 1, Results: []inat.Observation{
			obs(1, "Aves", coords.RawObservation{"latitude": 1.0, "longitude": 1.0}, true),
		}},
	}}
	rec := &fakeRecorder{}
	f := &Fetcher{Source: src, Store: st, Recorder: rec}

	for run := 0; run < 2; run++ {
		rep, err := f.Run(context.Background(), Options{PerPage: 10, MaxPages: 1})
		if err != nil {
			t.Fatal(err)
		}
		if rep.AlreadyStored != 1 || rep.Saved != 0 {
			t.Errorf("run %d report = %+v", run, rep)
		}
	}

	if len(src.photoCalls) != 0 {
		t.Errorf("photo calls = %v, stored observation should not be refetched", src.photoCalls)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("catalog entries = %+v, want exactly one backfilled row", rec.entries)
	}
	e := rec.entries[0]
	if e.ID != 1 || e.Species != "Aves" || !e.HasCoordinates || *e.Latitude != 5 {
		t.Errorf("backfilled entry = %+v, want the stored metadata", e)
	}
}

func TestRunRejectsNonWebPhotoURL(t *testing.T) {
	bad := obs(7, "Aves", coords.RawObservation{"latitude": 1.0, "longitude": 1.0}, true)
	bad.Photos[0].URL = `javascript:alert(1)//square.jpg`
	src := &fakeSource{pages: map[int]*inat.ObservationPage{
		1: {Page: 1, Results: []inat.Observation{bad}},
	}}
	st := store.New(t.TempDir())
	f := &Fetcher{Source: src, Store: st}

	rep, err := f.Run(context.Background(), Options{PerPage: 10, MaxPages: 1})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed != 1 || rep.Saved != 0 {
		t.Errorf("report = %+v, want one failure", rep)
	}
	if len(src.photoCalls) != 0 {
		t.Errorf("photo calls = %v, want none", src.photoCalls)
	}
	if st.HasObservation("Aves", 7) {
		t.Error("observation with unusable photo url was saved")
	}
}

func TestRunStopsOnListError(t *testing.T) {
	rec := &fakeRecorder{}
	src := &fakeSource{listErr: inat.ErrServerError}
	f := &Fetcher{Source: src, Store: store.New(t.TempDir()), Recorder: rec}

	_, err := f.Run(context.Background(), Options{PerPage: 10, MaxPages: 3})
	if !errors.Is(err, inat.ErrServerError) {
		t.Errorf("err = %v, want ErrServerError", err)
	}
	if len(rec.runErrs) != 1 || !errors.Is(rec.runErrs[0], inat.ErrServerError) {
		t.Errorf("run error not recorded: %v", rec.runErrs)
	}
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{}
	f := &Fetcher{Source: src, Store: store.New(t.TempDir())}

	rep, err := f.Run(context.Background(), Options{MaxPages: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pages != 1 || len(src.listCalls) != 1 {
		t.Errorf("pages = %d, calls = %v", rep.Pages, src.listCalls)
	}
}
