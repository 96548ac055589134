package main

import (
	"encoding/json"
	"fmt"
	"html"
	"image/png"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/golang/geo/r3"

	"github.com/kwv/meshalign/align"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *align.StatusTracker, config *align.Config) http.Handler {
	mux := http.NewServeMux()

	up := r3.Vector{Z: 1}
	if config != nil {
		if v, err := config.Registration.UpVector(); err == nil {
			up = v
		}
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		active := 0
		all := tracker.GetAll()
		for _, s := range all {
			if s.Active {
				active++
			}
		}
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Pairings  int       `json:"pairings"`
			Active    int       `json:"active"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Pairings:  len(all),
			Active:    active,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tracker.GetAll())
	})

	mux.HandleFunc("/status/{pairing}", func(w http.ResponseWriter, r *http.Request) {
		status, ok := tracker.Get(r.PathValue("pairing"))
		if !ok {
			http.Error(w, "Unknown pairing", http.StatusNotFound)
			return
		}
		writeJSON(w, status)
	})

	// Vector overlay of the last registration
	mux.HandleFunc("/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer, code, err := overlayFor(tracker, r.URL.Query().Get("pairing"), up)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding overlay SVG: %v", err)
		}
	})

	mux.HandleFunc("/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		renderer, code, err := overlayFor(tracker, r.URL.Query().Get("pairing"), up)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, renderer.RenderRaster()); err != nil {
			log.Printf("Error encoding overlay PNG: %v", err)
		}
	})

	mux.HandleFunc("/overlay.geojson", func(w http.ResponseWriter, r *http.Request) {
		renderer, code, err := overlayFor(tracker, r.URL.Query().Get("pairing"), up)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToGeoJSON(w); err != nil {
			log.Printf("Error encoding overlay GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>meshalign</title>
<style>
body{margin:0;padding:1em;background:#1a1a1a;color:#ddd;font-family:sans-serif}
figure{margin:0 0 2em}
img{display:block;max-width:100%;background:#fff}
</style>
</head>
<body>
`)
		for _, s := range tracker.GetAll() {
			_, _ = fmt.Fprintf(w, "<figure><figcaption>%s: %s</figcaption>", html.EscapeString(s.Pairing), html.EscapeString(s.State.String()))
			if s.Result != nil {
				_, _ = fmt.Fprintf(w, `<img src="/overlay.svg?pairing=%s" alt="%s overlay">`, url.QueryEscape(s.Pairing), html.EscapeString(s.Pairing))
			}
			_, _ = fmt.Fprint(w, "</figure>\n")
		}
		_, _ = fmt.Fprint(w, "</body>\n</html>")
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// overlayFor builds a renderer for the pairing's last registration, or the
// HTTP status explaining why there is none.
func overlayFor(tracker *align.StatusTracker, pairingID string, up r3.Vector) (*align.OverlayRenderer, int, error) {
	if pairingID == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("missing pairing parameter")
	}
	status, ok := tracker.Get(pairingID)
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("unknown pairing %q", pairingID)
	}
	if status.Result == nil {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("no registration for %q yet", pairingID)
	}
	model, scan, ok := tracker.Clouds(pairingID)
	if !ok {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("no clouds for %q since startup", pairingID)
	}
	renderer := align.NewOverlayRenderer(model, scan, status.Result.Transform, up)
	metrics := status.Result.Metrics
	renderer.Metrics = &metrics
	return renderer, http.StatusOK, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
