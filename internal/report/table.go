package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"mlinterp/internal/interpret"
	"mlinterp/internal/storage"
)

// PrintSummary renders the results as console tables.
func (r *Reporter) PrintSummary(w io.Writer) {
	res := r.results
	fmt.Fprintln(w, "\n=== MODEL INTERPRETATION ===")
	fmt.Fprintf(w, "Dataset: %s (%d rows)\n", res.Dataset, res.Rows)
	fmt.Fprintf(w, "Model: %s\n", res.Model)

	if imp := res.Importance; imp != nil {
		fmt.Fprintf(w, "\nPermutation importance (%s, %s, baseline %.6g)\n", imp.Loss, imp.Mode, imp.BaselineLoss)
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Rank", "Feature", "Importance", "Std Dev"})
		for i, s := range imp.Scores {
			table.Append([]string{strconv.Itoa(i + 1), s.Feature, fmt.Sprintf("%.6g", s.Importance), fmt.Sprintf("%.4g", s.StdDev)})
		}
		table.Render()
	}

	if len(res.Partials) > 0 {
		fmt.Fprintln(w, "\nPartial dependence")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Features", "Points", "Min", "Max", "Degenerate"})
		for _, pd := range res.Partials {
			lo, hi := span(pd.Averages())
			table.Append([]string{pd.Name(), strconv.Itoa(len(pd.Points)), fmt.Sprintf("%.6g", lo), fmt.Sprintf("%.6g", hi), strconv.FormatBool(pd.Degenerate)})
		}
		table.Render()
	}

	for _, ia := range res.Interactions {
		title := "\nInteraction strength (one vs all)"
		if ia.Mode == interpret.Pairwise {
			title = fmt.Sprintf("\nInteraction strength with %s", ia.Target)
		}
		if ia.Partial {
			title += " [incomplete]"
		}
		fmt.Fprintln(w, title)
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Rank", "Feature", "H2", "H"})
		for i, s := range ia.Scores {
			h2, h := "undefined", "undefined"
			if s.Defined {
				h2, h = fmt.Sprintf("%.4f", s.H2), fmt.Sprintf("%.4f", s.H)
			}
			table.Append([]string{strconv.Itoa(i + 1), s.Name(), h2, h})
		}
		table.Render()
	}
}

// PrintRuns renders stored runs as a table.
func PrintRuns(w io.Writer, runs []storage.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Created", "Status", "Dataset", "Model", "Rows", "Analyses"})
	for _, run := range runs {
		table.Append([]string{
			run.ID,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Status,
			run.Dataset,
			run.Model,
			strconv.Itoa(run.Rows),
			strings.Join(run.Analyses, ","),
		})
	}
	table.Render()
}
