// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/AleutianAI/perfscope/pkg/ux"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
	"github.com/AleutianAI/perfscope/services/perfscope/storage"
)

// reportSet is one insight set as printed, built either from a live
// session or from a stored record's JSON.
type reportSet struct {
	ID    string       `json:"id"`
	URL   string       `json:"url"`
	Order []string     `json:"order"`
	Items []reportItem `json:"-"`

	Results map[string]struct {
		Error string `json:"error"`
		Model *struct {
			Title   string                 `json:"title"`
			Failing bool                   `json:"failing"`
			Savings insights.MetricSavings `json:"metricSavings"`
		} `json:"model"`
	} `json:"results"`
}

type reportItem struct {
	Name    string
	Title   string
	Failing bool
	Savings insights.MetricSavings
	Err     string
}

type reportHeader struct {
	ID       string
	Name     string
	Events   int
	ParsedAt time.Time
}

func liveSets(in *insights.Insights) []reportSet {
	var out []reportSet
	for _, set := range in.Sets() {
		rs := reportSet{ID: set.ID, URL: set.URL}
		for _, r := range set.Ordered() {
			item := reportItem{Name: r.Name}
			if r.OK() {
				base := r.Model.InsightBase()
				item.Title, item.Failing, item.Savings = base.Title, base.Failing, base.Savings
			} else {
				item.Err = r.Err.Error()
			}
			rs.Items = append(rs.Items, item)
		}
		out = append(out, rs)
	}
	return out
}

func storedSets(raw json.RawMessage) ([]reportSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var sets []reportSet
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("decode stored insights: %w", err)
	}
	for i := range sets {
		for _, name := range sets[i].Order {
			r := sets[i].Results[name]
			item := reportItem{Name: name, Err: r.Error}
			if r.Model != nil {
				item.Title, item.Failing, item.Savings = r.Model.Title, r.Model.Failing, r.Model.Savings
			}
			sets[i].Items = append(sets[i].Items, item)
		}
	}
	return sets, nil
}

// printSession renders a parsed session.
func printSession(p *ux.Printer, sess *model.Session) {
	printReport(p, reportHeader{sess.ID, sess.Name, len(sess.RawEvents), sess.ParsedAt}, liveSets(sess.Insights))
}

// printRecord renders a stored session.
func printRecord(p *ux.Printer, rec *storage.Record) error {
	sets, err := storedSets(rec.Insights)
	if err != nil {
		return err
	}
	printReport(p, reportHeader{rec.ID, rec.Name, rec.EventCount, rec.CreatedAt}, sets)
	return nil
}

// printReport renders insight sets, most impactful insight first within
// each set.
func printReport(p *ux.Printer, h reportHeader, sets []reportSet) {
	p.Title(h.Name)
	p.Muted(fmt.Sprintf("%s  %d events  parsed %s", h.ID, h.Events, h.ParsedAt.Local().Format("2006-01-02 15:04:05")))

	if len(sets) == 0 {
		p.Info("No insights (CPU profile or empty trace)")
		return
	}
	for _, set := range sets {
		title := set.ID
		if set.URL != "" {
			title += "  " + set.URL
		}
		lines := make([]string, 0, len(set.Items))
		for _, item := range set.Items {
			if p.Machine() {
				lines = append(lines, machineLine(item))
			} else {
				lines = append(lines, richLine(item))
			}
		}
		p.Box(title, lines)
	}
}

func richLine(item reportItem) string {
	if item.Err != "" {
		return fmt.Sprintf("%s %s %s", ux.IconError.Render(), item.Name, ux.Styles.Muted.Render(item.Err))
	}
	icon := ux.IconSuccess
	if item.Failing {
		icon = ux.IconWarning
	}
	line := fmt.Sprintf("%s %s", icon.Render(), ux.Styles.Bold.Render(item.Title))
	if s := savings(item.Savings); s != "" {
		line += "  " + ux.Styles.Highlight.Render(s)
	}
	return line
}

func machineLine(item reportItem) string {
	if item.Err != "" {
		return strings.Join([]string{item.Name, "error", item.Err}, "\t")
	}
	status := "pass"
	if item.Failing {
		status = "fail"
	}
	return strings.Join([]string{item.Name, status, savings(item.Savings)}, "\t")
}

// savings formats the non-zero estimates, e.g. "LCP -340 ms, CLS -0.12".
func savings(s insights.MetricSavings) string {
	var parts []string
	if s.FCPMs > 0 {
		parts = append(parts, fmt.Sprintf("FCP -%.0f ms", s.FCPMs))
	}
	if s.LCPMs > 0 {
		parts = append(parts, fmt.Sprintf("LCP -%.0f ms", s.LCPMs))
	}
	if s.INPMs > 0 {
		parts = append(parts, fmt.Sprintf("INP -%.0f ms", s.INPMs))
	}
	if s.CLS > 0 {
		parts = append(parts, fmt.Sprintf("CLS -%.2f", s.CLS))
	}
	return strings.Join(parts, ", ")
}

// writeJSON writes the session's insights as indented JSON.
func writeJSON(w io.Writer, sess *model.Session) error {
	out := struct {
		ID       string             `json:"id"`
		Name     string             `json:"name"`
		Events   int                `json:"eventCount"`
		Insights *insights.Insights `json:"insights"`
	}{sess.ID, sess.Name, len(sess.RawEvents), sess.Insights}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
