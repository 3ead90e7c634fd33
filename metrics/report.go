package metrics

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Write renders the report as aligned text
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	title := "metrics"
	if r.Split != "" {
		title = r.Split + " metrics"
	}
	fmt.Fprintf(tw, "%s (%d samples)\n", title, r.Samples)
	fmt.Fprintf(tw, "  hamming@%.2f\t%.4f\n", HammingThreshold, r.Hamming)
	fmt.Fprintf(tw, "  exact match\t%.4f\n", r.ExactMatch)
	fmt.Fprintf(tw, "  macro accuracy\t%.4f\n", r.Accuracy)
	fmt.Fprintf(tw, "  macro precision\t%.4f\n", r.Precision)
	fmt.Fprintf(tw, "  macro recall\t%.4f\n", r.Recall)
	fmt.Fprintf(tw, "  macro f1\t%.4f\n", r.F1)
	fmt.Fprintf(tw, "  macro pr-auc\t%.4f\n", r.PRAUC)
	fmt.Fprintf(tw, "  sample f1\t%.4f\n", r.SampleF1)

	writeList := func(name string, list []ClassStats, value func(ClassStats) float64) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(tw, "  lowest %s\n", name)
		for _, s := range list {
			fmt.Fprintf(tw, "    %s\t%.4f\tsupport=%d\tpredicted=%d\n", s.Name, value(s), s.Support, s.Predicted)
		}
	}
	writeList("precision", r.LowestPrecision, func(s ClassStats) float64 { return s.Precision })
	writeList("recall", r.LowestRecall, func(s ClassStats) float64 { return s.Recall })

	if len(r.ZeroSupport) > 0 {
		fmt.Fprintf(tw, "  zero support\t%s\n", strings.Join(r.ZeroSupport, " "))
	}
	return tw.Flush()
}
