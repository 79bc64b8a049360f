package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/cratermerge/crater"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *crater.RunStore, config *crater.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: store.HasResults(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(store.Summaries()); err != nil {
			log.Printf("Error encoding run summaries: %v", err)
		}
	})

	mux.HandleFunc("/catalogue.json", func(w http.ResponseWriter, r *http.Request) {
		summary, craters, ok := store.LatestCatalogue()
		if !ok {
			http.Error(w, "No results available", http.StatusServiceUnavailable)
			return
		}
		if craters == nil {
			craters = []crater.Crater{}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		payload := crater.RunSnapshot{Summary: summary, Craters: craters}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding catalogue JSON: %v", err)
		}
	})

	mux.HandleFunc("/catalogue.csv", func(w http.ResponseWriter, r *http.Request) {
		summary, craters, ok := store.LatestCatalogue()
		if !ok {
			http.Error(w, "No results available", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := crater.WriteCraters(&buf, craters); err != nil {
			log.Printf("Error encoding catalogue CSV: %v", err)
			http.Error(w, "Failed to encode catalogue", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="craters-`+summary.RunID+`.csv"`)
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing catalogue CSV: %v", err)
		}
	})

	mux.HandleFunc("/catalogue.geojson", func(w http.ResponseWriter, r *http.Request) {
		_, craters, ok := store.LatestCatalogue()
		if !ok {
			http.Error(w, "No results available", http.StatusServiceUnavailable)
			return
		}
		data, err := json.Marshal(crater.CratersGeoJSON(craters))
		if err != nil {
			log.Printf("Error encoding catalogue GeoJSON: %v", err)
			http.Error(w, "Failed to encode catalogue", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing catalogue GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		res := store.Latest()
		if res == nil {
			http.Error(w, "No run available", http.StatusServiceUnavailable)
			return
		}
		overlay := res.Overlay()
		if !overlay.HasDrawableContent() {
			log.Printf("Warning: run %s has no drawable content; endpoint=/overlay.svg", res.RunID)
			http.Error(w, "No drawable content", http.StatusServiceUnavailable)
			return
		}

		var buf bytes.Buffer
		renderer := crater.NewVectorRendererFromConfig(overlay, config.Render)
		if err := renderer.RenderToSVG(&buf); err != nil {
			log.Printf("Error rendering overlay SVG: %v", err)
			http.Error(w, "Failed to render overlay", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing overlay SVG: %v", err)
		}
	})

	return mux
}
