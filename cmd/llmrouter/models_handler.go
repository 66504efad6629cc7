package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ferro-labs/llm-router/internal/tags"
)

// modelEntry is one row of the OpenAI-shaped model list.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists every model id the router can currently resolve:
// snapshot models, declared and configured channel models, aliases, and
// tag-prefixed virtual ids derived from them. Duplicate ids across channels
// collapse to one row.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	reg := s.router.Registry()
	seen := make(map[string]modelEntry)
	add := func(id, owner string, created int64) {
		if id == "" || id == "auto" {
			return
		}
		if _, ok := seen[id]; !ok {
			seen[id] = modelEntry{ID: id, Object: "model", Created: created, OwnedBy: owner}
		}
	}

	for _, ch := range reg.Enabled() {
		add(ch.ModelName, ch.Provider, 0)
		for _, id := range ch.ConfiguredModels {
			add(id, ch.Provider, 0)
		}
		for alias := range ch.ModelAliases {
			add(alias, ch.Provider, 0)
		}
	}
	for _, snap := range s.router.Store().All() {
		var owner string
		if ch := reg.Get(snap.ChannelID); ch != nil {
			owner = ch.Provider
		}
		created := snap.UpdatedAt.Unix()
		for _, id := range snap.ModelIDs {
			add(id, owner, created)
		}
	}

	// Virtual tag ids are routable too: any tag extracted from a canonical id
	// can be requested as "tag:<name>".
	canonical := make([]string, 0, len(seen))
	for id := range seen {
		canonical = append(canonical, id)
	}
	virtual := make(map[string]bool)
	for _, id := range canonical {
		for _, tag := range tags.Extract(id) {
			virtual[tag] = true
		}
	}
	for tag := range virtual {
		add("tag:"+tag, "router", 0)
	}

	data := make([]modelEntry, 0, len(seen))
	for _, e := range seen {
		data = append(data, e)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
	})
}

// handleHealth serves the operational status document.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.router.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"state":  st,
	})
}
