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
	"net/url"
	"sort"
	"strings"

	"github.com/AleutianAI/perfscope/services/perfscope/event"
)

// Render-blocking states reported by Blink in ResourceSendRequest.
const (
	RenderBlocking            = "blocking"
	RenderBlockingInBodyParse = "in_body_parser_blocking"
	RenderNonBlocking         = "non_blocking"
	RenderPotentiallyBlocking = "potentially_blocking"
)

// Redirect is a hop the request went through before its final URL.
type Redirect struct {
	URL   string      `json:"url"`
	Start event.Micro `json:"start"`
}

// Request is one network request assembled from the Resource* events that
// share its request id.
type Request struct {
	ID                string      `json:"id"`
	URL               string      `json:"url"`
	Origin            string      `json:"origin"`
	FrameID           string      `json:"frameId"`
	NavigationID      string      `json:"navigationId,omitempty"`
	Method            string      `json:"method"`
	Priority          string      `json:"priority"`
	ResourceType      string      `json:"resourceType"`
	RenderBlocking    string      `json:"renderBlocking"`
	InitiatorURL      string      `json:"initiatorUrl"`
	MimeType          string      `json:"mimeType"`
	Protocol          string      `json:"protocol"`
	ContentEncoding   string      `json:"contentEncoding"`
	StatusCode        int         `json:"statusCode"`
	Start             event.Micro `json:"start"`
	SendStart         event.Micro `json:"sendStart"`
	ResponseAt        event.Micro `json:"responseAt"`
	End               event.Micro `json:"end"`
	EncodedDataLength int64       `json:"encodedDataLength"`
	DecodedBodyLength int64       `json:"decodedBodyLength"`
	Finished          bool        `json:"finished"`
	Redirects         []Redirect  `json:"redirects,omitempty"`
}

// IsRenderBlocking reports whether the request blocked first render.
func (r *Request) IsRenderBlocking() bool {
	return r.RenderBlocking == RenderBlocking || r.RenderBlocking == RenderBlockingInBodyParse
}

// Duration is End - Start.
func (r *Request) Duration() event.Micro {
	return r.End - r.Start
}

// ServerResponseTime is the time from sending the request to the first
// response byte.
func (r *Request) ServerResponseTime() event.Micro {
	from := r.SendStart
	if from == 0 {
		from = r.Start
	}
	if r.ResponseAt < from {
		return 0
	}
	return r.ResponseAt - from
}

// NetworkData is the NetworkRequests handler snapshot.
type NetworkData struct {
	// Requests ordered by start time.
	Requests []Request `json:"requests"`

	// ByID maps request id to an index into Requests.
	ByID map[string]int `json:"byId"`

	// ByOrigin maps an origin to indices into Requests.
	ByOrigin map[string][]int `json:"byOrigin"`
}

// Lookup returns the request with the given id.
func (d *NetworkData) Lookup(id string) (Request, bool) {
	i, ok := d.ByID[id]
	if !ok {
		return Request{}, false
	}
	return d.Requests[i], true
}

// InRange returns requests that started inside [min, max).
func (d *NetworkData) InRange(min, max event.Micro) []Request {
	var out []Request
	for _, r := range d.Requests {
		if r.Start >= min && r.Start < max {
			out = append(out, r)
		}
	}
	return out
}

func (d *NetworkData) clone() *NetworkData {
	out := &NetworkData{
		Requests: make([]Request, len(d.Requests)),
		ByID:     make(map[string]int, len(d.ByID)),
		ByOrigin: make(map[string][]int, len(d.ByOrigin)),
	}
	for i, r := range d.Requests {
		r.Redirects = append([]Redirect(nil), r.Redirects...)
		out.Requests[i] = r
	}
	for k, v := range d.ByID {
		out.ByID[k] = v
	}
	for k, v := range d.ByOrigin {
		out.ByOrigin[k] = append([]int(nil), v...)
	}
	return out
}

// NetworkRequests joins Resource* events into requests.
type NetworkRequests struct {
	meta *Meta

	byID   map[string]*Request
	order  []string
	result *NetworkData
}

// NewNetworkRequests creates the handler. It reads the main frame from meta.
func NewNetworkRequests(meta *Meta) *NetworkRequests {
	n := &NetworkRequests{meta: meta}
	n.Reset()
	return n
}

func (n *NetworkRequests) Name() string   { return NameNetworkRequests }
func (n *NetworkRequests) Deps() []string { return []string{NameMeta} }

// Reset clears all state.
func (n *NetworkRequests) Reset() {
	n.byID = make(map[string]*Request)
	n.order = nil
	n.result = nil
}

func (n *NetworkRequests) request(id string) *Request {
	r, ok := n.byID[id]
	if !ok {
		r = &Request{ID: id}
		n.byID[id] = r
		n.order = append(n.order, id)
	}
	return r
}

// HandleEvent consumes one event.
func (n *NetworkRequests) HandleEvent(ev *event.Event) error {
	if !strings.HasPrefix(ev.Name, "Resource") {
		return nil
	}
	id := ev.ArgString("data", "requestId")
	if id == "" {
		return nil
	}

	switch ev.Name {
	case "ResourceWillSendRequest":
		r := n.request(id)
		if r.Start == 0 || ev.Ts < r.Start {
			r.Start = ev.Ts
		}

	case "ResourceSendRequest":
		r := n.request(id)
		u := ev.ArgString("data", "url")
		if r.URL != "" && r.URL != u {
			r.Redirects = append(r.Redirects, Redirect{URL: r.URL, Start: r.SendStart})
		}
		r.URL = u
		r.Origin = OriginOf(u)
		r.SendStart = ev.Ts
		if r.Start == 0 {
			r.Start = ev.Ts
		}
		r.FrameID = ev.ArgString("data", "frame")
		r.Method = ev.ArgString("data", "requestMethod")
		r.Priority = ev.ArgString("data", "priority")
		r.ResourceType = ev.ArgString("data", "resourceType")
		r.RenderBlocking = ev.ArgString("data", "renderBlocking")
		r.InitiatorURL = ev.ArgString("data", "initiator", "url")

	case "ResourceReceiveResponse":
		r := n.request(id)
		r.ResponseAt = ev.Ts
		if reqTime, ok := ev.ArgFloat("data", "timing", "requestTime"); ok && reqTime > 0 {
			if hdrs, ok := ev.ArgFloat("data", "timing", "receiveHeadersEnd"); ok {
				r.ResponseAt = event.FromSeconds(reqTime) + event.FromMilli(hdrs)
			}
		}
		if code, ok := ev.ArgFloat("data", "statusCode"); ok {
			r.StatusCode = int(code)
		}
		r.MimeType = ev.ArgString("data", "mimeType")
		r.Protocol = ev.ArgString("data", "protocol")
		if size, ok := ev.ArgFloat("data", "encodedDataLength"); ok {
			r.EncodedDataLength = int64(size)
		}
		for _, raw := range event.AsSlice(ev.Arg("data", "headers")) {
			h := event.AsMap(raw)
			if strings.EqualFold(event.AsString(h["name"]), "content-encoding") {
				r.ContentEncoding = event.AsString(h["value"])
			}
		}

	case "ResourceFinish":
		r := n.request(id)
		r.Finished = true
		r.End = ev.Ts
		if ft, ok := ev.ArgFloat("data", "finishTime"); ok && ft > 0 {
			r.End = event.FromSeconds(ft)
		}
		if size, ok := ev.ArgFloat("data", "encodedDataLength"); ok {
			r.EncodedDataLength = int64(size)
		}
		if size, ok := ev.ArgFloat("data", "decodedBodyLength"); ok {
			r.DecodedBodyLength = int64(size)
		}
	}
	return nil
}

// Finalize drops requests that were never sent, attributes the rest to the
// main-frame navigation they started under and orders them by start time.
func (n *NetworkRequests) Finalize(_ context.Context) error {
	meta := n.meta.finalized()
	reqs := make([]Request, 0, len(n.order))
	for _, id := range n.order {
		r := n.byID[id]
		if r.URL == "" {
			continue
		}
		if r.End < r.ResponseAt {
			r.End = r.ResponseAt
		}
		if r.End < r.Start {
			r.End = r.Start
		}
		if nav, ok := meta.NavigationBefore(r.Start); ok {
			r.NavigationID = nav.NavigationID
		}
		reqs = append(reqs, *r)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Start < reqs[j].Start })

	d := &NetworkData{
		Requests: reqs,
		ByID:     make(map[string]int, len(reqs)),
		ByOrigin: make(map[string][]int),
	}
	for i, r := range reqs {
		d.ByID[r.ID] = i
		d.ByOrigin[r.Origin] = append(d.ByOrigin[r.Origin], i)
	}
	n.result = d
	return nil
}

// Data returns a *NetworkData snapshot.
func (n *NetworkRequests) Data() any {
	if n.result == nil {
		return (&NetworkData{}).clone()
	}
	return n.result.clone()
}

func (n *NetworkRequests) finalized() *NetworkData {
	if n.result == nil {
		return &NetworkData{}
	}
	return n.result
}

// OriginOf returns scheme://host[:port] for u, or "" when u has no host.
func OriginOf(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
