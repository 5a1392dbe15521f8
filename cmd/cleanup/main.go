// Command cleanup deletes images that have no matching metadata file. It
// prints a preview and asks for confirmation first.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"wildspan.exe.dev/srv/cleanup"
	"wildspan.exe.dev/srv/config"
	"wildspan.exe.dev/srv/logging"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	cfg, err := config.Load("cleanup")
	if err != nil {
		return err
	}

	dataDir := flag.String("data", cfg.Data.Dir, "data directory to clean")
	yes := flag.Bool("yes", false, "delete without asking")
	flag.Parse()

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	plan, err := cleanup.Preview(*dataDir)
	if err != nil {
		return err
	}
	printPreview(out, plan)

	if plan.Orphans() == 0 {
		fmt.Fprintln(out, "\nNo cleanup needed - all images have metadata.")
		return nil
	}

	if !*yes {
		fmt.Fprintf(out, "\nWARNING: this will permanently delete %d files!\n", plan.Orphans())
		fmt.Fprint(out, "Do you want to proceed? (yes/no): ")
		if !confirmed(in) {
			fmt.Fprintln(out, "Cleanup cancelled")
			return nil
		}
	}

	res := cleanup.Apply(plan)
	fmt.Fprintf(out, "\nDeleted %d images, %d already gone, %d kept\n", res.Deleted, res.AlreadyGone, plan.Kept())
	for _, e := range res.Errors {
		fmt.Fprintln(out, "  error:", e)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d files could not be deleted", len(res.Errors))
	}
	return nil
}

func printPreview(out io.Writer, plan cleanup.Plan) {
	fmt.Fprintf(out, "Preview: images without metadata in %s/\n", plan.Root)
	for _, f := range plan.Folders {
		if len(f.Orphans) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s:\n", f.Species)
		for _, name := range f.Orphans {
			fmt.Fprintf(out, "   would delete: %s\n", name)
		}
	}
	fmt.Fprintf(out, "\nTotal images: %d\n", plan.Images)
	fmt.Fprintf(out, "Would delete: %d images\n", plan.Orphans())
	fmt.Fprintf(out, "Would keep:   %d images\n", plan.Kept())
}

func confirmed(in io.Reader) bool {
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true
	}
	return false
}
