// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// DefaultLongTaskThreshold is the duration above which a task is long.
const DefaultLongTaskThreshold = event.Micro(50_000)

// Task is a top-level RunTask slice.
type Task struct {
	Ts  event.Micro `json:"ts"`
	Dur event.Micro `json:"dur"`
	Pid int64       `json:"pid"`
	Tid int64       `json:"tid"`
	// URL is the script URL attributed to the task, if any.
	URL string `json:"url,omitempty"`
}

// End is Ts + Dur.
func (t Task) End() event.Micro {
	return t.Ts + t.Dur
}

// BlockingTime is the part of the task above threshold.
func (t Task) BlockingTime(threshold event.Micro) event.Micro {
	if t.Dur <= threshold {
		return 0
	}
	return t.Dur - threshold
}

// TasksData is the Tasks handler snapshot.
type TasksData struct {
	// MainThreadTasks are RunTask slices on the main renderer thread.
	MainThreadTasks []Task `json:"mainThreadTasks"`

	// LongTasks is the subset longer than Threshold.
	LongTasks []Task `json:"longTasks"`

	// TotalBlockingTime sums BlockingTime over MainThreadTasks.
	TotalBlockingTime event.Micro `json:"totalBlockingTime"`

	Threshold event.Micro `json:"threshold"`
}

// Tasks collects main-thread tasks and long tasks.
type Tasks struct {
	meta      *Meta
	threshold event.Micro

	all    []Task
	open   map[ThreadRef]int
	result *TasksData
}

// NewTasks creates the handler.
func NewTasks(meta *Meta) *Tasks {
	t := &Tasks{meta: meta, threshold: DefaultLongTaskThreshold}
	t.Reset()
	return t
}

func (t *Tasks) Name() string   { return NameTasks }
func (t *Tasks) Deps() []string { return []string{NameMeta} }

// HandleUserConfig applies the long task threshold.
func (t *Tasks) HandleUserConfig(cfg UserConfig) {
	if cfg.LongTaskThresholdMs > 0 {
		t.threshold = event.FromMilli(cfg.LongTaskThresholdMs)
	} else {
		t.threshold = DefaultLongTaskThreshold
	}
}

// Reset clears per-parse state. The configured threshold survives.
func (t *Tasks) Reset() {
	t.all = nil
	t.open = make(map[ThreadRef]int)
	t.result = nil
}

// HandleEvent consumes one event.
func (t *Tasks) HandleEvent(ev *event.Event) error {
	switch {
	case ev.Name == "RunTask" && ev.Ph == event.PhaseComplete:
		t.all = append(t.all, Task{Ts: ev.Ts, Dur: ev.Dur, Pid: ev.Pid, Tid: ev.Tid})

	case ev.Name == "RunTask" && ev.Ph == event.PhaseBegin:
		t.all = append(t.all, Task{Ts: ev.Ts, Pid: ev.Pid, Tid: ev.Tid})
		t.open[ThreadRef{Pid: ev.Pid, Tid: ev.Tid}] = len(t.all) - 1

	case ev.Name == "RunTask" && ev.Ph == event.PhaseEnd:
		ref := ThreadRef{Pid: ev.Pid, Tid: ev.Tid}
		if i, ok := t.open[ref]; ok {
			t.all[i].Dur = ev.Ts - t.all[i].Ts
			delete(t.open, ref)
		}

	case ev.Name == "FunctionCall" || ev.Name == "EvaluateScript":
		// Attribute the script to the enclosing task on the same thread.
		url := ev.ArgString("data", "url")
		if url == "" {
			return nil
		}
		for i := len(t.all) - 1; i >= 0; i-- {
			task := &t.all[i]
			if task.Pid != ev.Pid || task.Tid != ev.Tid {
				continue
			}
			if ev.Ts >= task.Ts && (task.Dur == 0 || ev.Ts <= task.End()) && task.URL == "" {
				task.URL = url
			}
			break
		}
	}
	return nil
}

// Finalize filters to the main thread and computes blocking time.
func (t *Tasks) Finalize(_ context.Context) error {
	meta := t.meta.finalized()
	d := &TasksData{Threshold: t.threshold}
	for _, task := range t.all {
		if task.Dur <= 0 || !meta.IsMainThread(task.Pid, task.Tid) {
			continue
		}
		d.MainThreadTasks = append(d.MainThreadTasks, task)
		if task.Dur > t.threshold {
			d.LongTasks = append(d.LongTasks, task)
		}
		d.TotalBlockingTime += task.BlockingTime(t.threshold)
	}
	t.result = d
	return nil
}

// Data returns a *TasksData snapshot.
func (t *Tasks) Data() any {
	if t.result == nil {
		return &TasksData{Threshold: t.threshold}
	}
	out := *t.result
	out.MainThreadTasks = append([]Task(nil), t.result.MainThreadTasks...)
	out.LongTasks = append([]Task(nil), t.result.LongTasks...)
	return &out
}
