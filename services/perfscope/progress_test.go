// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perfscope

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfscope/services/perfscope/notify"
)

// dialProgress connects to the progress websocket and consumes the
// subscribed frame.
func dialProgress(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/perfscope/progress"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello ProgressMessage
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, ProgressKindSubscribed, hello.Kind)
	return ws
}

func readUntilDone(t *testing.T, ws *websocket.Conn) []ProgressMessage {
	t.Helper()
	var got []ProgressMessage
	for {
		var msg ProgressMessage
		require.NoError(t, ws.ReadJSON(&msg))
		got = append(got, msg)
		if msg.Kind == string(notify.KindDone) {
			return got
		}
	}
}

func TestHandleProgress_StreamsParse(t *testing.T) {
	router, h := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ws := dialProgress(t, srv)
	defer ws.Close()

	_, err := h.svc.ParseReader(context.Background(), bytes.NewReader(traceBody(t, "https://example.com/")), "ws-test")
	require.NoError(t, err)

	got := readUntilDone(t, ws)
	require.Len(t, got, 2)

	assert.Equal(t, string(notify.KindProgress), got[0].Kind)
	require.NotNil(t, got[0].Progress)
	assert.Equal(t, notify.PhaseComplete, got[0].Progress.Phase)
	assert.Equal(t, 1.0, got[0].Progress.Percent)

	require.NotNil(t, got[1].SessionIndex)
	assert.Equal(t, 0, *got[1].SessionIndex)
	assert.Empty(t, got[1].Error)
}

func TestHandleProgress_ReportsFailedParse(t *testing.T) {
	router, h := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ws := dialProgress(t, srv)
	defer ws.Close()

	h.svc.Model().Notifications().EmitDone(-1, errors.New("handler Tasks failed"))

	got := readUntilDone(t, ws)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].SessionIndex)
	assert.Equal(t, -1, *got[0].SessionIndex)
	assert.Equal(t, "handler Tasks failed", got[0].Error)
}

func TestHandleProgress_UnsubscribesOnClose(t *testing.T) {
	router, h := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	emitter := h.svc.Model().Notifications()
	ws := dialProgress(t, srv)
	assert.Equal(t, 2, emitter.Len())

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return emitter.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandleProgress_RequiresUpgrade(t *testing.T) {
	router, h := newTestRouter(t)

	w := do(router, http.MethodGet, "/v1/perfscope/progress", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, h.svc.Model().Notifications().Len())
}
