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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/perfscope/services/perfscope/notify"
)

const (
	// progressBuffer is how many frames a slow client may fall behind
	// before further notifications are dropped.
	progressBuffer = 64

	progressWriteWait  = 10 * time.Second
	progressPingPeriod = 30 * time.Second
)

var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// HandleProgress handles GET /v1/perfscope/progress.
//
// Description:
//
//	Upgrades to a websocket and streams every progress and done
//	notification of the model as a ProgressMessage. The first frame is
//	ProgressKindSubscribed. Listeners run on the parsing goroutine, so
//	frames are queued and dropped when the client falls behind. The
//	subscriptions are removed when the client disconnects.
func (h *Handlers) HandleProgress(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleProgress")

	ws, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(512)

	updates := make(chan ProgressMessage, progressBuffer)
	forward := func(n notify.Notification) {
		select {
		case updates <- progressMessage(n):
		default:
			logger.Debug("progress client is behind, dropping notification", "kind", n.Kind)
		}
	}

	emitter := h.svc.Model().Notifications()
	ids := []string{
		emitter.Subscribe(notify.KindProgress, forward),
		emitter.Subscribe(notify.KindDone, forward),
	}
	defer func() {
		for _, id := range ids {
			emitter.Unsubscribe(id)
		}
	}()

	// The client sends nothing; reading surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeProgress(ws, ProgressMessage{Kind: ProgressKindSubscribed, Timestamp: time.Now().UTC()}); err != nil {
		logger.Warn("failed to write to the websocket", "error", err)
		return
	}
	logger.Info("progress client connected")

	ping := time.NewTicker(progressPingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg := <-updates:
			if err := writeProgress(ws, msg); err != nil {
				logger.Info("progress client write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(progressWriteWait)); err != nil {
				logger.Info("progress client ping failed", "error", err)
				return
			}
		case <-closed:
			logger.Info("progress client disconnected")
			return
		}
	}
}

func writeProgress(ws *websocket.Conn, msg ProgressMessage) error {
	if err := ws.SetWriteDeadline(time.Now().Add(progressWriteWait)); err != nil {
		return err
	}
	return ws.WriteJSON(msg)
}

func progressMessage(n notify.Notification) ProgressMessage {
	msg := ProgressMessage{Kind: string(n.Kind), Timestamp: n.Timestamp, Progress: n.Progress}
	if n.Kind == notify.KindDone {
		idx := n.SessionIndex
		msg.SessionIndex = &idx
		if n.Err != nil {
			msg.Error = n.Err.Error()
		}
	}
	return msg
}
