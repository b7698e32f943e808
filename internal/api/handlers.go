package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"in-house-gis/internal/db"
	"in-house-gis/internal/models"
	"in-house-gis/internal/syncer"
)

// Handlers contains HTTP handlers and their dependencies
type Handlers struct {
	db *db.DB
}

// NewHandlers creates a new Handlers instance
func NewHandlers(database *db.DB) *Handlers {
	return &Handlers{db: database}
}

// geoFeature is a parcel rendered as a GeoJSON Feature.
type geoFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties *models.Parcel  `json:"properties"`
}

// toFeature lifts the stored geometry out of the record and into the
// Feature envelope so it is not repeated under properties.
func toFeature(p models.Parcel) geoFeature {
	var geom json.RawMessage
	if p.GeomJSON != nil {
		geom = json.RawMessage(*p.GeomJSON)
		p.GeomJSON = nil
	}
	return geoFeature{Type: "Feature", Geometry: geom, Properties: &p}
}

// parseParcelFilter builds a db.ParcelFilter from query parameters
func parseParcelFilter(q url.Values) db.ParcelFilter {
	filter := db.ParcelFilter{Limit: 100}

	if v := q.Get("county"); v != "" {
		filter.County = v
	}
	if v := q.Get("prop_class"); v != "" {
		filter.PropClass = v
	}
	if v := q.Get("owner"); v != "" {
		filter.OwnerName = v
	}

	// Parse acreage filters
	if v := q.Get("min_acres"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinAcres = &val
		}
	}
	if v := q.Get("max_acres"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxAcres = &val
		}
	}

	// vacant=true means no building on the parcel
	if v := q.Get("vacant"); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			hasBuilding := !val
			filter.HasBuilding = &hasBuilding
		}
	}

	// Parse map bounds (sw_lat,sw_lng,ne_lat,ne_lng)
	if v := q.Get("bounds"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			swLat, _ := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			swLng, _ := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			neLat, _ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			neLng, _ := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
			filter.SWLat = &swLat
			filter.SWLng = &swLng
			filter.NELat = &neLat
			filter.NELng = &neLng
		}
	}

	// Parse pagination
	if v := q.Get("limit"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 && val <= 500 {
			filter.Limit = val
		}
	}
	if v := q.Get("offset"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			filter.Offset = val
		}
	}

	return filter
}

// ListParcels handles GET /api/parcels and responds with a GeoJSON FeatureCollection
func (h *Handlers) ListParcels(w http.ResponseWriter, r *http.Request) {
	filter := parseParcelFilter(r.URL.Query())

	parcels, err := h.db.ListParcels(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	features := make([]geoFeature, 0, len(parcels))
	for _, p := range parcels {
		features = append(features, toFeature(p))
	}

	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
		"count":    len(features),
	})
}

// GetParcel handles GET /api/parcels/{apn}
func (h *Handlers) GetParcel(w http.ResponseWriter, r *http.Request) {
	apn := chi.URLParam(r, "apn")

	parcel, err := h.db.GetParcelByAPN(apn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if parcel == nil {
		http.Error(w, "parcel not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(toFeature(*parcel))
}

// GetStats handles GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// ListSources handles GET /api/sources and lists the configured sync sources
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := syncer.LoadSources()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		def := sources[name]
		out = append(out, map[string]interface{}{
			"name":        name,
			"description": def.Description,
			"service_url": def.ServiceURL,
			"strategy":    def.Strategy,
			"geometry":    def.Geometry,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"sources": out})
}

// ListSyncRuns handles GET /api/sync-runs
func (h *Handlers) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			limit = val
		}
	}

	runs, err := h.db.LatestSyncRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": runs})
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
