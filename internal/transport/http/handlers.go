package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"fleet-monitor/asset-tracking/internal/broadcast"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/export"
	"fleet-monitor/asset-tracking/internal/tracking"
)

// Pinger is a dependency reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Broadcaster interface {
	Subscribe(assetID string, obs broadcast.Observer) error
	Unsubscribe(assetID, observerID string)
}

type Handler struct {
	svc      *tracking.Service
	exports  *export.Exporter
	engine   Broadcaster
	checks   map[string]Pinger
	origins  []string
	pingWait time.Duration
}

type HandlerDeps struct {
	Service     *tracking.Service
	Exports     *export.Exporter
	Engine      Broadcaster
	Checks      map[string]Pinger
	CORSOrigins []string
}

func NewHandler(d HandlerDeps) *Handler {
	return &Handler{
		svc:      d.Service,
		exports:  d.Exports,
		engine:   d.Engine,
		checks:   d.Checks,
		origins:  d.CORSOrigins,
		pingWait: pongWait,
	}
}

type createAssetRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64,excludesall=/\\"`
	Name        string `json:"name" validate:"required,max=255"`
	AssetType   string `json:"asset_type" validate:"required,max=64"`
	UniqueID    string `json:"unique_id" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
	Status      string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	a := domain.Asset{
		ID:          req.ID,
		Name:        req.Name,
		AssetType:   req.AssetType,
		UniqueID:    req.UniqueID,
		Description: req.Description,
		Status:      domain.AssetStatus(req.Status),
	}
	if err := h.svc.CreateAsset(r.Context(), &a); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.ListAssets(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAsset(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type fixRequest struct {
	Latitude       *float64        `json:"latitude" validate:"required,latitude"`
	Longitude      *float64        `json:"longitude" validate:"required,longitude"`
	Timestamp      *time.Time      `json:"timestamp"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

func (h *Handler) IngestFix(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	payload := bytes.TrimSpace(req.AdditionalData)
	if bytes.Equal(payload, []byte("null")) {
		payload = nil
	}
	if len(payload) > 0 && payload[0] != '{' {
		writeError(w, http.StatusBadRequest, "additional_data must be a JSON object")
		return
	}

	fix := domain.LocationFix{
		AssetID:        chi.URLParam(r, "asset_id"),
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		AdditionalData: []byte(payload),
	}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}
	if err := h.svc.IngestFix(r.Context(), &fix); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fix)
}

func (h *Handler) LatestFix(w http.ResponseWriter, r *http.Request) {
	fix, err := h.svc.LatestFix(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := domain.HistoryQuery{AssetID: chi.URLParam(r, "asset_id")}
	params := r.URL.Query()

	var err error
	if q.Start, err = parseTimeParam(params.Get("start_time")); err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339")
		return
	}
	if q.End, err = parseTimeParam(params.Get("end_time")); err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339")
		return
	}
	if s := params.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > tracking.MaxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(tracking.MaxHistoryLimit))
			return
		}
		q.Limit = limit
	}

	fixes, err := h.svc.History(r.Context(), q)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, fixes)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

type zoneRequest struct {
	AssetID     string      `json:"asset_id" validate:"required"`
	Name        string      `json:"name" validate:"required,max=255"`
	Coordinates [][]float64 `json:"coordinates" validate:"required,min=3,dive,len=2"`
}

func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	vertices := make([][2]float64, len(req.Coordinates))
	for i, c := range req.Coordinates {
		vertices[i] = [2]float64{c[0], c[1]}
	}
	zone, err := h.svc.CreateZone(r.Context(), req.AssetID, req.Name, vertices)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, zone)
}

func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.svc.Zones(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (h *Handler) CheckContainment(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CheckContainment(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.Alerts(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type exportFile struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

func newExportFile(rel string) exportFile {
	return exportFile{Filename: rel, DownloadURL: "/api/v1/export/download/" + rel}
}

func (h *Handler) ExportFull(w http.ResponseWriter, r *http.Request) {
	files, err := h.exports.ExportAll(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make(map[string]exportFile, len(files))
	for name, rel := range files {
		out[name] = newExportFile(rel)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "exports": out})
}

func (h *Handler) ExportAsset(w http.ResponseWriter, r *http.Request) {
	h.exportOne(w, r, h.exports.ExportAsset)
}

func (h *Handler) ExportAssetCombined(w http.ResponseWriter, r *http.Request) {
	h.exportOne(w, r, h.exports.ExportAssetCombined)
}

func (h *Handler) exportOne(w http.ResponseWriter, r *http.Request, run func(context.Context, string) (string, error)) {
	rel, err := run(r.Context(), chi.URLParam(r, "asset_id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	f := newExportFile(rel)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"filename":     f.Filename,
		"download_url": f.DownloadURL,
	})
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	path, err := h.exports.Resolve(chi.URLParam(r, "*"))
	if errors.Is(err, export.ErrFileNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":           "File not found",
			"available_files": h.exports.Available(),
		})
		return
	}
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
