package cleanup

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPreviewAndApply(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"Aves/1.jpg", "Aves/1_metadata.json",
		"Aves/2.jpg",
		"Aves/notes.txt",
		"Turdus_migratorius/7.jpg",
		"Turdus_migratorius/8.jpg", "Turdus_migratorius/8_metadata.json",
		"stray.jpg",
	)

	plan, err := Preview(root)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if plan.Images != 4 || plan.Orphans() != 2 || plan.Kept() != 2 {
		t.Errorf("plan totals: images=%d orphans=%d kept=%d", plan.Images, plan.Orphans(), plan.Kept())
	}

	// Preview must not delete anything.
	if _, err := os.Stat(filepath.Join(root, "Aves", "2.jpg")); err != nil {
		t.Fatalf("preview removed a file: %v", err)
	}

	// A file created after the preview is not touched by Apply.
	writeFiles(t, root, "Aves/3.jpg")

	res := Apply(plan)
	if res.Deleted != 2 || res.AlreadyGone != 0 || len(res.Errors) != 0 {
		t.Errorf("Apply() = %+v", res)
	}
	for _, gone := range []string{"Aves/2.jpg", "Turdus_migratorius/7.jpg"} {
		if _, err := os.Stat(filepath.Join(root, gone)); !os.IsNotExist(err) {
			t.Errorf("%s still exists", gone)
		}
	}
	for _, kept := range []string{"Aves/1.jpg", "Aves/3.jpg", "Turdus_migratorius/8.jpg", "stray.jpg"} {
		if _, err := os.Stat(filepath.Join(root, kept)); err != nil {
			t.Errorf("%s was removed: %v", kept, err)
		}
	}

	// Applying the same plan again finds nothing left to delete.
	res = Apply(plan)
	if res.Deleted != 0 || res.AlreadyGone != 2 {
		t.Errorf("second Apply() = %+v", res)
	}
}

func TestPreviewMissingRoot(t *testing.T) {
	if _, err := Preview(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing data dir")
	}
}
