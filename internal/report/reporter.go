// Package report writes interpretation results to disk as CSV, JSON and a
// plain-text summary, and renders console tables.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mlinterp/internal/interpret"
)

// Results bundles everything one run produced. Nil or empty sections are
// skipped.
type Results struct {
	RunID        string                         `json:"run_id,omitempty"`
	Dataset      string                         `json:"dataset"`
	Model        string                         `json:"model"`
	Rows         int                            `json:"rows"`
	StartTime    time.Time                      `json:"start_time"`
	EndTime      time.Time                      `json:"end_time"`
	Importance   *interpret.ImportanceResult    `json:"importance,omitempty"`
	Partials     []*interpret.PartialDependence `json:"partial_dependence,omitempty"`
	Interactions []*interpret.InteractionResult `json:"interactions,omitempty"`
}

// Reporter generates reports for one set of results.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a reporter writing under outputPath.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes every report format.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateImportance(); err != nil {
		return err
	}
	for _, pd := range r.results.Partials {
		if err := r.generatePartial(pd); err != nil {
			return err
		}
	}
	if err := r.generateInteractions(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

// generateSummary writes a human-readable summary.
func (r *Reporter) generateSummary() (err error) {
	summaryPath := filepath.Join(r.outputPath, "summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close summary file: %w", cerr)
		}
	}()

	res := r.results
	fmt.Fprintf(file, "MODEL INTERPRETATION SUMMARY\n")
	fmt.Fprintf(file, "============================\n\n")
	if res.RunID != "" {
		fmt.Fprintf(file, "Run: %s\n", res.RunID)
	}
	fmt.Fprintf(file, "Dataset: %s (%d rows)\n", res.Dataset, res.Rows)
	fmt.Fprintf(file, "Model: %s\n", res.Model)
	fmt.Fprintf(file, "Duration: %s\n\n", res.EndTime.Sub(res.StartTime).Round(time.Millisecond))

	if imp := res.Importance; imp != nil {
		fmt.Fprintf(file, "PERMUTATION IMPORTANCE\n")
		fmt.Fprintf(file, "----------------------\n")
		fmt.Fprintf(file, "Loss: %s, mode: %s, repetitions: %d, baseline: %.6g\n", imp.Loss, imp.Mode, imp.Repetitions, imp.BaselineLoss)
		if imp.Subsampled {
			fmt.Fprintf(file, "Evaluated on a subsample of %d rows\n", imp.Rows)
		}
		for i, s := range imp.Scores {
			fmt.Fprintf(file, "%2d. %-24s %12.6g  (sd %.4g)\n", i+1, s.Feature, s.Importance, s.StdDev)
		}
		fmt.Fprintln(file)
	}

	if len(res.Partials) > 0 {
		fmt.Fprintf(file, "PARTIAL DEPENDENCE\n")
		fmt.Fprintf(file, "------------------\n")
		for _, pd := range res.Partials {
			lo, hi := span(pd.Averages())
			fmt.Fprintf(file, "%s: %d points, average prediction %.6g to %.6g", pd.Name(), len(pd.Points), lo, hi)
			if pd.Degenerate {
				fmt.Fprintf(file, " (degenerate)")
			}
			fmt.Fprintln(file)
		}
		fmt.Fprintln(file)
	}

	for _, ia := range res.Interactions {
		title := "INTERACTION STRENGTH (one vs all)"
		if ia.Mode == interpret.Pairwise {
			title = fmt.Sprintf("INTERACTION STRENGTH (with %s)", ia.Target)
		}
		fmt.Fprintf(file, "%s\n%s\n", title, strings.Repeat("-", len(title)))
		for i, s := range ia.Scores {
			fmt.Fprintf(file, "%2d. %-24s %s\n", i+1, s.Name(), formatH(s))
		}
		if ia.Partial {
			fmt.Fprintf(file, "(incomplete: run was cancelled)\n")
		}
		fmt.Fprintln(file)
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

// generateImportance writes importance.csv.
func (r *Reporter) generateImportance() error {
	imp := r.results.Importance
	if imp == nil {
		return nil
	}
	records := [][]string{{"Rank", "Feature", "Importance", "Mean Loss", "Variance", "Std Dev", "Trials"}}
	for i, s := range imp.Scores {
		records = append(records, []string{
			strconv.Itoa(i + 1),
			s.Feature,
			formatFloat(s.Importance),
			formatFloat(s.MeanLoss),
			formatFloat(s.Variance),
			formatFloat(s.StdDev),
			strconv.Itoa(s.Trials),
		})
	}
	return r.writeCSV("importance.csv", records)
}

// generatePartial writes pd_<features>.csv and, when present, ice_<features>.csv.
func (r *Reporter) generatePartial(pd *interpret.PartialDependence) error {
	labelled := len(pd.Points) > 0 && pd.Points[0].Labels != nil
	header := append(pointHeader(pd, labelled), "Average")
	if pd.Centered {
		header = append(header, "Centered")
	}

	records := [][]string{header}
	for _, pt := range pd.Points {
		rec := pointColumns(pt, labelled)
		rec = append(rec, formatFloat(pt.Average))
		if pd.Centered {
			rec = append(rec, formatFloat(pt.Centered))
		}
		records = append(records, rec)
	}
	if err := r.writeCSV("pd_"+fileSafe(pd.Name())+".csv", records); err != nil {
		return err
	}

	if len(pd.ICE) == 0 {
		return nil
	}
	header = append([]string{"Row"}, pointHeader(pd, labelled)...)
	header = append(header, "Prediction")
	records = [][]string{header}
	for _, curve := range pd.ICE {
		for k, pred := range curve.Predictions {
			rec := append([]string{strconv.Itoa(curve.Row)}, pointColumns(pd.Points[k], labelled)...)
			rec = append(rec, formatFloat(pred))
			records = append(records, rec)
		}
	}
	return r.writeCSV("ice_"+fileSafe(pd.Name())+".csv", records)
}

// generateInteractions writes interaction.csv covering every interaction result.
func (r *Reporter) generateInteractions() error {
	if len(r.results.Interactions) == 0 {
		return nil
	}
	records := [][]string{{"Mode", "Feature", "With", "H2", "H", "Defined", "Partial"}}
	for _, ia := range r.results.Interactions {
		for _, s := range ia.Scores {
			records = append(records, []string{
				string(ia.Mode),
				s.Feature,
				s.With,
				formatFloat(s.H2),
				formatFloat(s.H),
				strconv.FormatBool(s.Defined),
				strconv.FormatBool(ia.Partial),
			})
		}
	}
	return r.writeCSV("interaction.csv", records)
}

// generateJSONReport writes report.json with all results.
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "report.json")

	report := map[string]interface{}{
		"results":      r.results,
		"generated_at": time.Now(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

func (r *Reporter) writeCSV(name string, records [][]string) (err error) {
	path := filepath.Join(r.outputPath, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", name, cerr)
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	log.Info().Str("file", path).Int("records", len(records)-1).Msg("CSV report generated")
	return nil
}

func pointHeader(pd *interpret.PartialDependence, labelled bool) []string {
	header := append([]string(nil), pd.Features...)
	if labelled {
		for _, f := range pd.Features {
			header = append(header, f+" label")
		}
	}
	return header
}

func pointColumns(pt interpret.Point, labelled bool) []string {
	rec := make([]string, 0, 2*len(pt.Values))
	for _, v := range pt.Values {
		rec = append(rec, formatFloat(v))
	}
	if labelled {
		rec = append(rec, pt.Labels...)
	}
	return rec
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatH(s interpret.InteractionScore) string {
	if !s.Defined {
		return "undefined"
	}
	return fmt.Sprintf("H2=%.4f H=%.4f", s.H2, s.H)
}

func span(v []float64) (lo, hi float64) {
	for i, x := range v {
		if i == 0 || x < lo {
			lo = x
		}
		if i == 0 || x > hi {
			hi = x
		}
	}
	return lo, hi
}

// fileSafe maps a result name to a file name fragment.
func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, name)
}
