// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"math"
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Scoring curve control points: the value that scores 0.9 and the value
// that scores 0.5.
type curve struct {
	p10, median float64
}

var (
	lcpCurve = curve{p10: 2500, median: 4000}
	inpCurve = curve{p10: 200, median: 500}
	clsCurve = curve{p10: 0.1, median: 0.25}
)

// erfcInvOneFifth is erfc⁻¹(0.2): p10 maps to a 0.9 score.
const erfcInvOneFifth = 0.9061938024368232

// score maps a metric value onto [0, 1] with a log-normal complementary
// CDF. Lower values score higher; zero scores 1.
func (c curve) score(value float64) float64 {
	if value <= 0 {
		return 1
	}
	x := math.Log(value/c.median) * erfcInvOneFifth / -math.Log(c.p10/c.median)
	s := (1 - math.Erf(x)) / 2
	return math.Min(1, math.Max(0, s))
}

// baselineOrder breaks ties between insights with equal impact.
var baselineOrder = []string{
	NameINPBreakdown,
	NameLCPBreakdown,
	NameCLSCulprits,
	NameRenderBlocking,
	NameDocumentLatency,
	NameThirdParties,
	NameLongTasks,
}

// MetricValues are the current metric values of one window. Zero means
// unknown.
type MetricValues struct {
	LCPMs float64 `json:"lcpMs,omitempty"`
	INPMs float64 `json:"inpMs,omitempty"`
	CLS   float64 `json:"cls,omitempty"`
}

// Weights are the relative importance of each metric. They sum to 1.
type Weights struct {
	LCP float64 `json:"lcp"`
	INP float64 `json:"inp"`
	CLS float64 `json:"cls"`
}

// WeightsFor derives weights from real-user metric values: the worse a
// metric scores in the field, the more an improvement to it counts. With no
// field data every metric counts equally. An unknown metric is weighted as
// if it sat at the median.
func WeightsFor(fm *event.FieldMetrics) Weights {
	equal := Weights{LCP: 1.0 / 3, INP: 1.0 / 3, CLS: 1.0 / 3}
	if fm == nil || (fm.LCPMs == 0 && fm.INPMs == 0 && fm.CLS == 0) {
		return equal
	}
	raw := func(c curve, v float64) float64 {
		if v == 0 {
			return 0.5
		}
		return 1 - c.score(v)
	}
	w := Weights{
		LCP: raw(lcpCurve, fm.LCPMs),
		INP: raw(inpCurve, fm.INPMs),
		CLS: raw(clsCurve, fm.CLS),
	}
	sum := w.LCP + w.INP + w.CLS
	if sum <= 0 {
		return equal
	}
	return Weights{LCP: w.LCP / sum, INP: w.INP / sum, CLS: w.CLS / sum}
}

// Impact is the weighted score improvement the savings would bring to the
// current values.
func Impact(s MetricSavings, current MetricValues, w Weights) float64 {
	gain := func(c curve, value, saving float64) float64 {
		if value <= 0 || saving <= 0 {
			return 0
		}
		return c.score(math.Max(0, value-saving)) - c.score(value)
	}
	return w.LCP*gain(lcpCurve, current.LCPMs, s.LCPMs) +
		w.INP*gain(inpCurve, current.INPMs, s.INPMs) +
		w.CLS*gain(clsCurve, current.CLS, s.CLS)
}

// SortByImpact orders names by descending impact. Ties keep the baseline
// order, and names outside the baseline keep their input order after it.
func SortByImpact(names []string, results map[string]Result, current MetricValues, w Weights) []string {
	out := append([]string(nil), names...)
	impact := make(map[string]float64, len(out))
	for _, n := range out {
		r, ok := results[n]
		if !ok || r.Model == nil {
			continue
		}
		impact[n] = Impact(r.Model.InsightBase().Savings, current, w)
	}
	rank := func(name string) int {
		for i, b := range baselineOrder {
			if b == name {
				return i
			}
		}
		return len(baselineOrder)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if impact[a] != impact[b] {
			return impact[a] > impact[b]
		}
		return rank(a) < rank(b)
	})
	return out
}
