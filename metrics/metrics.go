// Package metrics scores decoded predictions against ground truth. Every
// aggregate is built from integer counts or sorted values, so reports do not
// depend on sample order and repeat bit for bit.
package metrics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/target"
	"github.com/RyanBlaney/sonido-pitch/threshold"
)

// HammingThreshold is the fixed probability cut used for the Hamming score
const HammingThreshold = 0.5

// ClassStats are the counts and scores of one output slot
type ClassStats struct {
	Class     int     `json:"class"`
	Name      string  `json:"name"`
	Support   int     `json:"support"`   // positive ground-truth samples
	Predicted int     `json:"predicted"` // samples decoded as active
	TP        int     `json:"tp"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	PRAUC     float64 `json:"pr_auc"`
}

// Report is the evaluation of one split
type Report struct {
	Split   string `json:"split,omitempty"`
	Samples int    `json:"samples"`

	Hamming    float64 `json:"hamming"`
	ExactMatch float64 `json:"exact_match"` // every decoded slot agrees with the truth
	Accuracy   float64 `json:"macro_accuracy"`
	Precision  float64 `json:"macro_precision"`
	Recall     float64 `json:"macro_recall"`
	F1         float64 `json:"macro_f1"`
	PRAUC      float64 `json:"macro_pr_auc"`
	SampleF1   float64 `json:"sample_f1"`

	Classes         []ClassStats `json:"classes"`
	LowestPrecision []ClassStats `json:"lowest_precision"`
	LowestRecall    []ClassStats `json:"lowest_recall"`
	ZeroSupport     []string     `json:"zero_support"`
}

// Engine evaluates splits for one target encoding
type Engine struct {
	scheme target.Scheme
	topN   int
}

// NewEngine creates an engine listing topN classes in each diagnostic list
func NewEngine(scheme target.Scheme, topN int) *Engine {
	return &Engine{scheme: scheme, topN: topN}
}

// SlotName labels output slot i for reports, e.g. "A4", "E" or "bass:C"
func SlotName(scheme target.Scheme, i int) string {
	switch scheme.Kind() {
	case config.TargetFull:
		return pitch.Name(i)
	case config.TargetFoldedBass:
		if scheme.Categorical(i) {
			return "bass:" + pitch.ClassName(i%pitch.ClassCount)
		}
	}
	return pitch.ClassName(i % pitch.ClassCount)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// decision is one decoded sample: the active slots under the evaluated
// thresholds, the active slots at HammingThreshold and the per-slot scores
// swept for PR-AUC.
type decision struct {
	active []bool
	coarse []bool
	scores []float64
}

// Evaluate decodes logits with table and scores them against truth. Classes
// without support stay in the macro averages with zero precision, recall
// and F1.
func (e *Engine) Evaluate(logits, truth [][]float64, table threshold.Table) (*Report, error) {
	if err := e.checkShape(logits, truth); err != nil {
		return nil, err
	}
	dec, err := threshold.NewDecoder(e.scheme, table)
	if err != nil {
		return nil, err
	}
	coarse, err := threshold.NewDecoder(e.scheme, threshold.Uniform(e.scheme.Width(), HammingThreshold))
	if err != nil {
		return nil, err
	}

	decisions := make([]decision, len(logits))
	for i := range logits {
		pred, err := dec.Decode(logits[i])
		if err != nil {
			return nil, err
		}
		rough, err := coarse.Decode(logits[i])
		if err != nil {
			return nil, err
		}
		decisions[i] = decision{active: pred.Active, coarse: rough.Active, scores: pred.Probabilities}
	}
	return e.score(decisions, truth), nil
}

// EvaluateDecisions scores hard 0/1 predictions, such as an encoded
// deterministic guess, against truth. The predictions double as scores, so
// PR-AUC degenerates to a single operating point.
func (e *Engine) EvaluateDecisions(predicted, truth [][]float64) (*Report, error) {
	if err := e.checkShape(predicted, truth); err != nil {
		return nil, err
	}
	decisions := make([]decision, len(predicted))
	for i, row := range predicted {
		active := make([]bool, len(row))
		for c, v := range row {
			active[c] = v >= 0.5
		}
		decisions[i] = decision{active: active, coarse: active, scores: row}
	}
	return e.score(decisions, truth), nil
}

func (e *Engine) checkShape(predicted, truth [][]float64) error {
	if len(predicted) != len(truth) {
		return fmt.Errorf("%d predictions for %d ground truth vectors", len(predicted), len(truth))
	}
	if len(predicted) == 0 {
		return fmt.Errorf("no samples to evaluate")
	}
	width := e.scheme.Width()
	for i := range predicted {
		if len(predicted[i]) != width || len(truth[i]) != width {
			return fmt.Errorf("sample %d has width %d/%d, want %d", i, len(predicted[i]), len(truth[i]), width)
		}
	}
	return nil
}

func (e *Engine) score(decisions []decision, truth [][]float64) *Report {
	width := e.scheme.Width()
	n := len(decisions)
	tp := make([]int, width)
	support := make([]int, width)
	predicted := make([]int, width)
	scores := make([][]float64, width)
	for c := range scores {
		scores[c] = make([]float64, n)
	}
	hammingHits, exact := 0, 0
	sampleF1 := make([]float64, n)

	for i, d := range decisions {
		hits, nPred, nTrue := 0, 0, 0
		match := true
		for c := range width {
			want := truth[i][c] >= 0.5
			scores[c][i] = d.scores[c]
			if d.coarse[c] == want {
				hammingHits++
			}
			if d.active[c] != want {
				match = false
			}
			if want {
				support[c]++
				nTrue++
			}
			if d.active[c] {
				predicted[c]++
				nPred++
			}
			if want && d.active[c] {
				tp[c]++
				hits++
			}
		}
		if match {
			exact++
		}
		if nPred+nTrue == 0 {
			sampleF1[i] = 1
		} else {
			sampleF1[i] = float64(2*hits) / float64(nPred+nTrue)
		}
	}

	report := &Report{
		Samples:    n,
		Hamming:    ratio(hammingHits, n*width),
		ExactMatch: ratio(exact, n),
		Classes:    make([]ClassStats, width),
	}

	acc := make([]float64, width)
	prec := make([]float64, width)
	rec := make([]float64, width)
	f1s := make([]float64, width)
	aucs := make([]float64, width)
	for c := range width {
		fp := predicted[c] - tp[c]
		fn := support[c] - tp[c]
		s := ClassStats{
			Class:     c,
			Name:      SlotName(e.scheme, c),
			Support:   support[c],
			Predicted: predicted[c],
			TP:        tp[c],
			Accuracy:  ratio(n-fp-fn, n),
			Precision: ratio(tp[c], predicted[c]),
			Recall:    ratio(tp[c], support[c]),
			F1:        ratio(2*tp[c], 2*tp[c]+fp+fn),
			PRAUC:     averagePrecision(scores[c], truth, c),
		}
		report.Classes[c] = s
		acc[c], prec[c], rec[c], f1s[c], aucs[c] = s.Accuracy, s.Precision, s.Recall, s.F1, s.PRAUC
		if s.Support == 0 {
			report.ZeroSupport = append(report.ZeroSupport, s.Name)
		}
	}
	report.Accuracy = stat.Mean(acc, nil)
	report.Precision = stat.Mean(prec, nil)
	report.Recall = stat.Mean(rec, nil)
	report.F1 = stat.Mean(f1s, nil)
	report.PRAUC = stat.Mean(aucs, nil)

	sort.Float64s(sampleF1)
	report.SampleF1 = floats.Sum(sampleF1) / float64(n)

	report.LowestPrecision = e.lowest(report.Classes, func(s ClassStats) float64 { return s.Precision })
	report.LowestRecall = e.lowest(report.Classes, func(s ClassStats) float64 { return s.Recall })
	return report
}

// lowest returns the topN supported classes ranked by key, ties by class
func (e *Engine) lowest(classes []ClassStats, key func(ClassStats) float64) []ClassStats {
	var ranked []ClassStats
	for _, s := range classes {
		if s.Support > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ka, kb := key(ranked[a]), key(ranked[b])
		if ka != kb {
			return ka < kb
		}
		return ranked[a].Class < ranked[b].Class
	})
	if len(ranked) > e.topN {
		ranked = ranked[:e.topN]
	}
	return ranked
}

// averagePrecision integrates precision over recall for one class, sweeping
// the threshold down through every distinct score. Tied scores enter
// together, so the result does not depend on sample order.
func averagePrecision(scores []float64, truth [][]float64, class int) float64 {
	type point struct {
		score float64
		pos   bool
	}
	pts := make([]point, len(scores))
	positives := 0
	for i, s := range scores {
		pts[i] = point{score: s, pos: truth[i][class] >= 0.5}
		if pts[i].pos {
			positives++
		}
	}
	if positives == 0 {
		return 0
	}
	sort.Slice(pts, func(a, b int) bool { return pts[a].score > pts[b].score })

	ap := 0.0
	tp, seen, prevTP := 0, 0, 0
	for i := 0; i < len(pts); {
		j := i
		for j < len(pts) && pts[j].score == pts[i].score {
			if pts[j].pos {
				tp++
			}
			j++
		}
		seen += j - i
		if tp > prevTP {
			ap += float64(tp-prevTP) / float64(positives) * float64(tp) / float64(seen)
		}
		prevTP = tp
		i = j
	}
	return ap
}
