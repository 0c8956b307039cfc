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

	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// INPBreakdownModel is the INPBreakdown result.
type INPBreakdownModel struct {
	Base
	INPMs                float64               `json:"inpMs,omitempty"`
	Interaction          *handlers.Interaction `json:"interaction,omitempty"`
	InputDelayMs         float64               `json:"inputDelayMs"`
	ProcessingDurationMs float64               `json:"processingDurationMs"`
	PresentationDelayMs  float64               `json:"presentationDelayMs"`
	InteractionCount     int                   `json:"interactionCount"`
}

// INPBreakdown splits the interaction behind INP into input delay,
// processing and presentation delay.
type INPBreakdown struct{}

func (INPBreakdown) Name() string { return NameINPBreakdown }

func (INPBreakdown) Deps() []string {
	return []string{handlers.NameUserInteractions}
}

func (INPBreakdown) Generate(_ context.Context, pt *handlers.ParsedTrace, sc *SetContext) (Model, error) {
	data, err := dataOf[*handlers.InteractionsData](pt, handlers.NameUserInteractions)
	if err != nil {
		return nil, err
	}
	m := &INPBreakdownModel{Base: Base{
		Title:       "INP breakdown",
		Description: "Start investigating with the longest phase of the slowest interaction.",
	}}

	for _, it := range data.Interactions {
		if sc.Contains(it.Ts) {
			m.InteractionCount++
		}
	}
	it, ok := pickINP(data.Interactions, sc)
	if !ok {
		return m, nil
	}

	m.Interaction = &it
	m.INPMs = ms(it.Dur)
	m.InputDelayMs = ms(it.InputDelay)
	m.ProcessingDurationMs = ms(it.ProcessingDuration)
	m.PresentationDelayMs = ms(it.PresentationDelay)
	m.Savings.INPMs = nonNegative(m.INPMs - inpCurve.p10)
	m.Failing = m.INPMs > inpCurve.p10
	return m, nil
}
