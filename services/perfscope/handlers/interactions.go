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
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Interaction is the longest EventTiming entry for one interaction id.
type Interaction struct {
	InteractionID      int64       `json:"interactionId"`
	Type               string      `json:"type"`
	FrameID            string      `json:"frameId,omitempty"`
	Ts                 event.Micro `json:"ts"`
	Dur                event.Micro `json:"dur"`
	InputDelay         event.Micro `json:"inputDelay"`
	ProcessingDuration event.Micro `json:"processingDuration"`
	PresentationDelay  event.Micro `json:"presentationDelay"`
}

// End is Ts + Dur.
func (i Interaction) End() event.Micro {
	return i.Ts + i.Dur
}

// InteractionsData is the UserInteractions handler snapshot.
type InteractionsData struct {
	// Interactions in start order, one per interaction id.
	Interactions []Interaction `json:"interactions"`

	// INPIndex indexes the interaction that determines INP, or is -1.
	INPIndex int `json:"inpIndex"`

	// INP is the duration of that interaction.
	INP event.Micro `json:"inp"`
}

// INPInteraction returns the interaction behind INP.
func (d *InteractionsData) INPInteraction() (Interaction, bool) {
	if d.INPIndex < 0 || d.INPIndex >= len(d.Interactions) {
		return Interaction{}, false
	}
	return d.Interactions[d.INPIndex], true
}

// UserInteractions pairs EventTiming events into interactions and computes
// INP: the longest interaction, or the 98th percentile once there are 50 or
// more.
type UserInteractions struct {
	byID   map[int64]Interaction
	result *InteractionsData
}

// NewUserInteractions creates the handler.
func NewUserInteractions() *UserInteractions {
	u := &UserInteractions{}
	u.Reset()
	return u
}

func (u *UserInteractions) Name() string   { return NameUserInteractions }
func (u *UserInteractions) Deps() []string { return nil }

// Reset clears all state.
func (u *UserInteractions) Reset() {
	u.byID = make(map[int64]Interaction)
	u.result = nil
}

// HandleEvent consumes one event.
func (u *UserInteractions) HandleEvent(ev *event.Event) error {
	if ev.Name != "EventTiming" || ev.Ph != event.PhaseAsyncBegin {
		return nil
	}
	idf, ok := ev.ArgFloat("data", "interactionId")
	if !ok || idf <= 0 {
		return nil
	}
	durMs, ok := ev.ArgFloat("data", "duration")
	if !ok {
		return nil
	}

	it := Interaction{
		InteractionID: int64(idf),
		Type:          ev.ArgString("data", "type"),
		FrameID:       ev.ArgString("data", "frame"),
		Ts:            ev.Ts,
		Dur:           event.FromMilli(durMs),
	}

	stamp, okStamp := ev.ArgFloat("data", "timeStamp")
	pStart, okStart := ev.ArgFloat("data", "processingStart")
	pEnd, okEnd := ev.ArgFloat("data", "processingEnd")
	if okStamp && okStart && okEnd {
		it.InputDelay = event.FromMilli(pStart - stamp)
		it.ProcessingDuration = event.FromMilli(pEnd - pStart)
		it.PresentationDelay = it.Dur - it.InputDelay - it.ProcessingDuration
		if it.PresentationDelay < 0 {
			it.PresentationDelay = 0
		}
	}

	if prev, ok := u.byID[it.InteractionID]; !ok || it.Dur > prev.Dur {
		u.byID[it.InteractionID] = it
	}
	return nil
}

// Finalize orders interactions and picks INP.
func (u *UserInteractions) Finalize(_ context.Context) error {
	d := &InteractionsData{INPIndex: -1}
	for _, it := range u.byID {
		d.Interactions = append(d.Interactions, it)
	}
	sort.Slice(d.Interactions, func(i, j int) bool {
		a, b := d.Interactions[i], d.Interactions[j]
		if a.Ts != b.Ts {
			return a.Ts < b.Ts
		}
		return a.InteractionID < b.InteractionID
	})

	if n := len(d.Interactions); n > 0 {
		byDur := make([]int, n)
		for i := range byDur {
			byDur[i] = i
		}
		sort.SliceStable(byDur, func(i, j int) bool {
			return d.Interactions[byDur[i]].Dur > d.Interactions[byDur[j]].Dur
		})
		pick := n / 50
		if pick > n-1 {
			pick = n - 1
		}
		d.INPIndex = byDur[pick]
		d.INP = d.Interactions[d.INPIndex].Dur
	}

	u.result = d
	return nil
}

// Data returns an *InteractionsData snapshot.
func (u *UserInteractions) Data() any {
	if u.result == nil {
		return &InteractionsData{INPIndex: -1, Interactions: []Interaction{}}
	}
	out := *u.result
	out.Interactions = append([]Interaction{}, u.result.Interactions...)
	return &out
}
