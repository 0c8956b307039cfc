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
	"context"
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// LongTasksModel is the LongTasks result.
type LongTasksModel struct {
	Base
	Tasks               []handlers.Task `json:"tasks"`
	TotalBlockingTimeMs float64         `json:"totalBlockingTimeMs"`
	LongestMs           float64         `json:"longestMs"`
	ThresholdMs         float64         `json:"thresholdMs"`
}

// LongTasks lists main-thread tasks over the long task threshold in the
// window, longest first.
type LongTasks struct{}

func (LongTasks) Name() string { return NameLongTasks }

func (LongTasks) Deps() []string {
	return []string{handlers.NameTasks}
}

func (LongTasks) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	data, err := dataOf[*handlers.TasksData](pt, handlers.NameTasks)
	if err != nil {
		return nil, err
	}
	m := &LongTasksModel{
		Base: Base{
			Title:       "Long main-thread tasks",
			Description: "Long tasks block input handling and rendering. Break them up.",
		},
		Tasks:       []handlers.Task{},
		ThresholdMs: ms(data.Threshold),
	}

	var tbt event.Micro
	for _, t := range data.MainThreadTasks {
		if !sc.Contains(t.Ts) {
			continue
		}
		tbt += t.BlockingTime(data.Threshold)
		if t.Dur > data.Threshold {
			m.Tasks = append(m.Tasks, t)
		}
	}
	sort.SliceStable(m.Tasks, func(i, j int) bool { return m.Tasks[i].Dur > m.Tasks[j].Dur })

	m.TotalBlockingTimeMs = ms(tbt)
	if len(m.Tasks) > 0 {
		m.LongestMs = ms(m.Tasks[0].Dur)
	}
	m.Failing = len(m.Tasks) > 0
	return m, nil
}
