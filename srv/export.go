package srv

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wildspan.exe.dev/srv/stats"
)

// HandleAPIExportSpecies exports per-species statistics as CSV.
// GET /api/export/species.csv
func (s *Server) HandleAPIExportSpecies(w http.ResponseWriter, r *http.Request) {
	sum, err := stats.Collect(r.Context(), s.Store)
	if err != nil {
		slog.Error("failed to collect stats for export", "error", err)
		http.Error(w, "Failed to collect statistics", http.StatusInternalServerError)
		return
	}

	// Set headers for CSV download
	filename := fmt.Sprintf("species_export_%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	header := []string{"species", "common_name", "observations", "with_coordinates", "coverage", "range_km", "span_km"}
	if err := csvWriter.Write(header); err != nil {
		http.Error(w, "Failed to write CSV header", http.StatusInternalServerError)
		return
	}

	for _, st := range sum.Species {
		rangeKm := ""
		if st.HasRange {
			rangeKm = fmt.Sprintf("%.1f", st.RangeKm)
		}
		record := []string{
			st.DisplayName,
			st.CommonName,
			fmt.Sprintf("%d", st.Observations),
			fmt.Sprintf("%d", st.WithCoordinates),
			fmt.Sprintf("%.3f", st.Coverage),
			rangeKm,
			fmt.Sprintf("%.1f", st.SpanKm),
		}
		if err := csvWriter.Write(record); err != nil {
			return // Connection closed or error
		}
	}
}
