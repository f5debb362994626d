package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/swdee/go-wagonocr/tracker"
)

// CSVHeader is the column row of a result report
var CSVHeader = []string{"track_id", "best_text", "num_sightings", "confidence", "last_seen_identifier"}

// WriteCSV writes results as a CSV report with a header row.  Confidence is
// written with two decimals.
func WriteCSV(w io.Writer, results []tracker.Result) error {

	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}

	for _, r := range results {
		row := []string{
			strconv.Itoa(r.TrackID),
			r.BestText,
			strconv.Itoa(r.NumSightings),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			r.LastSeenIdentifier,
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("error writing track %d: %w", r.TrackID, err)
		}
	}

	cw.Flush()

	return cw.Error()
}
