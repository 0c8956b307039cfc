// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
	pbadger "github.com/AleutianAI/perfscope/services/perfscope/storage/badger"
)

func newStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := pbadger.Open(pbadger.InMemoryConfig())
	require.NoError(t, err)
	store, err := NewSessionStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, db.Close())
	})
	return store
}

func trace(url string) []event.Event {
	events := []event.Event{
		{Name: "thread_name", Ph: event.PhaseMetadata, Pid: 10, Tid: 1,
			Args: map[string]any{"name": "CrRendererMain"}},
		{Name: "TracingStartedInBrowser", Ph: event.PhaseInstant, Ts: 1_000, Pid: 1, Tid: 1,
			Args: map[string]any{"data": map[string]any{
				"frames": []any{map[string]any{"frame": "F", "url": url, "processId": float64(10)}},
			}}},
	}
	for i := 0; i < 50; i++ {
		events = append(events, event.Event{
			Name: "RunTask", Ph: event.PhaseComplete, Ts: event.Micro(10_000 + i*1_000), Dur: 400, Pid: 10, Tid: 1,
		})
	}
	return events
}

func TestSessionStore_SaveThroughModel(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	m, err := model.New(model.WithPersister(store))
	require.NoError(t, err)

	md := &event.Metadata{Source: "test", CPUThrottling: 4}
	_, err = m.Parse(ctx, trace("https://example.com/"), model.ParseConfig{Metadata: md})
	require.NoError(t, err)
	sess, ok := m.Session(0)
	require.True(t, ok)

	rec, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, rec.ID)
	assert.Equal(t, "https://example.com", rec.Name)
	assert.Equal(t, "https://example.com/", rec.MainFrameURL)
	assert.Equal(t, 52, rec.EventCount)
	assert.Positive(t, rec.CompressedBytes)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, 4.0, rec.Metadata.CPUThrottling)
	assert.Equal(t, []string{"NO_NAVIGATION"}, rec.InsightSets)
	assert.NotEmpty(t, rec.Insights)

	require.Len(t, rec.Events, 52)
	assert.Equal(t, "RunTask", rec.Events[2].Name)
	assert.Equal(t, event.Micro(10_000), rec.Events[2].Ts)
	assert.Equal(t, "CrRendererMain", rec.Events[0].ArgString("name"))
}

func TestSessionStore_ListOrderAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Save(ctx, &model.Session{
			ID:        id,
			Name:      "Trace " + id,
			ParsedAt:  base.Add(time.Duration(i) * time.Minute),
			RawEvents: trace(""),
		}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "oldest first")

	rec, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec.Insights, "sessions without insights store none")

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "a"), ErrNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSessionStore_InvalidSession(t *testing.T) {
	store := newStore(t)
	assert.ErrorIs(t, store.Save(context.Background(), nil), ErrInvalidSession)
	assert.ErrorIs(t, store.Save(context.Background(), &model.Session{}), ErrInvalidSession)
}
