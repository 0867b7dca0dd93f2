// Package export writes CSV snapshots of assets, fixes and alerts under a
// single export directory and deletes them again after a fixed lifetime.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
)

var (
	ErrInvalidPath  = errors.New("invalid file path")
	ErrFileNotFound = errors.New("file not found")
)

const stampLayout = "20060102_150405"

// Source is the read side of the store used by exports.
type Source interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
	GetAsset(ctx context.Context, id string) (domain.Asset, error)
	History(ctx context.Context, q domain.HistoryQuery) ([]domain.LocationFix, error)
	AlertsForAsset(ctx context.Context, assetID string) ([]domain.GeoAlert, error)
}

type Exporter struct {
	dir         string
	src         Source
	fullTTL     time.Duration
	perAssetTTL time.Duration
	now         func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg config.ExportConfig, src Source) (*Exporter, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{
		dir:         dir,
		src:         src,
		fullTTL:     cfg.FullTTL,
		perAssetTTL: cfg.PerAssetTTL,
		now:         func() time.Time { return time.Now().UTC() },
		timers:      make(map[string]*time.Timer),
	}, nil
}

func (e *Exporter) Dir() string { return e.dir }

// ExportAll writes one assets file and one locations file under full/,
// replacing the previous full export. Paths are relative to Dir.
func (e *Exporter) ExportAll(ctx context.Context) (map[string]string, error) {
	dir, err := e.resetDir("full")
	if err != nil {
		return nil, err
	}
	assets, err := e.src.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	stamp := e.now().Format(stampLayout)
	written := make(map[string]string, 2)
	fail := func(err error) (map[string]string, error) {
		for _, rel := range written {
			_ = os.Remove(filepath.Join(e.dir, rel))
		}
		return nil, err
	}

	assetRows := make([][]string, 0, len(assets))
	for _, a := range assets {
		assetRows = append(assetRows, []string{
			a.ID, a.Name, a.AssetType, a.UniqueID, a.Description, string(a.Status), formatTime(a.CreatedAt),
		})
	}
	rel, err := e.write(filepath.Join(dir, "assets_"+stamp+".csv"),
		[]string{"id", "name", "asset_type", "unique_id", "description", "status", "created_at"}, assetRows)
	if err != nil {
		return fail(err)
	}
	written["assets"] = rel

	var locRows [][]string
	for _, a := range assets {
		fixes, err := e.src.History(ctx, domain.HistoryQuery{AssetID: a.ID})
		if err != nil {
			return fail(fmt.Errorf("history for %s: %w", a.ID, err))
		}
		for _, f := range fixes {
			locRows = append(locRows, []string{
				strconv.FormatInt(f.ID, 10), f.AssetID, formatFloat(f.Longitude), formatFloat(f.Latitude),
				formatTime(f.Timestamp), string(f.AdditionalData),
			})
		}
	}
	rel, err = e.write(filepath.Join(dir, "locations_"+stamp+".csv"),
		[]string{"id", "asset_id", "longitude", "latitude", "timestamp", "additional_data"}, locRows)
	if err != nil {
		return fail(err)
	}
	written["locations"] = rel

	for _, rel := range written {
		e.expire(rel, e.fullTTL)
	}
	return written, nil
}

// ExportAsset writes the fix history of one asset, newest first.
func (e *Exporter) ExportAsset(ctx context.Context, assetID string) (string, error) {
	if err := checkSegment(assetID); err != nil {
		return "", err
	}
	a, err := e.src.GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	fixes, err := e.src.History(ctx, domain.HistoryQuery{AssetID: assetID})
	if err != nil {
		return "", fmt.Errorf("history for %s: %w", assetID, err)
	}

	dir, err := e.resetDir(filepath.Join("assets", assetID))
	if err != nil {
		return "", err
	}
	rows := make([][]string, 0, len(fixes))
	for _, f := range fixes {
		rows = append(rows, []string{
			a.ID, a.Name, formatFloat(f.Longitude), formatFloat(f.Latitude), formatTime(f.Timestamp), string(f.AdditionalData),
		})
	}
	name := fmt.Sprintf("asset_%s_%s.csv", assetID, e.now().Format(stampLayout))
	rel, err := e.write(filepath.Join(dir, name),
		[]string{"id", "name", "longitude", "latitude", "timestamp", "additional_data"}, rows)
	if err != nil {
		return "", err
	}
	e.expire(rel, e.perAssetTTL)
	return rel, nil
}

// ExportAssetCombined writes fixes and alerts of one asset into a single
// file ordered by time, newest first.
func (e *Exporter) ExportAssetCombined(ctx context.Context, assetID string) (string, error) {
	if err := checkSegment(assetID); err != nil {
		return "", err
	}
	if _, err := e.src.GetAsset(ctx, assetID); err != nil {
		return "", err
	}
	fixes, err := e.src.History(ctx, domain.HistoryQuery{AssetID: assetID})
	if err != nil {
		return "", fmt.Errorf("history for %s: %w", assetID, err)
	}
	alerts, err := e.src.AlertsForAsset(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("alerts for %s: %w", assetID, err)
	}

	type record struct {
		at  time.Time
		row []string
	}
	records := make([]record, 0, len(fixes)+len(alerts))
	for _, f := range fixes {
		records = append(records, record{f.Timestamp, []string{
			"location", strconv.FormatInt(f.ID, 10), formatFloat(f.Longitude), formatFloat(f.Latitude),
			formatTime(f.Timestamp), string(f.AdditionalData), "", "", "",
		}})
	}
	for _, a := range alerts {
		lon, lat := "", ""
		if a.Coordinate != nil {
			lon, lat = formatFloat(a.Coordinate.Longitude), formatFloat(a.Coordinate.Latitude)
		}
		records = append(records, record{a.TriggeredAt, []string{
			"alert", strconv.FormatInt(a.ID, 10), lon, lat,
			formatTime(a.TriggeredAt), "", string(a.Kind), a.Message, strconv.FormatBool(a.Resolved),
		}})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].at.After(records[j].at) })

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.row
	}

	dir, err := e.resetDir(filepath.Join("assets_all", assetID))
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("asset_%s_combined_%s.csv", assetID, e.now().Format(stampLayout))
	rel, err := e.write(filepath.Join(dir, name), []string{
		"record_type", "record_id", "longitude", "latitude", "timestamp",
		"additional_data", "alert_type", "message", "resolution_status",
	}, rows)
	if err != nil {
		return "", err
	}
	e.expire(rel, e.perAssetTTL)
	return rel, nil
}

// Resolve maps a download path to a file inside Dir. Only existing .csv
// files below the export directory resolve.
func (e *Exporter) Resolve(rel string) (string, error) {
	if !strings.HasSuffix(rel, ".csv") || strings.Contains(rel, "..") {
		return "", ErrInvalidPath
	}
	full := filepath.Join(e.dir, filepath.FromSlash(rel))
	inside, err := filepath.Rel(e.dir, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, "..") || filepath.IsAbs(inside) {
		return "", ErrInvalidPath
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", ErrFileNotFound
	}
	return full, nil
}

// Available lists every .csv file currently in Dir as slash-separated
// relative paths.
func (e *Exporter) Available() []string {
	var files []string
	_ = filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".csv") {
			return nil
		}
		if rel, err := filepath.Rel(e.dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// Close cancels pending deletions. Files already written stay on disk.
func (e *Exporter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for path, t := range e.timers {
		t.Stop()
		delete(e.timers, path)
	}
}

func (e *Exporter) resetDir(rel string) (string, error) {
	dir := filepath.Join(e.dir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", rel, err)
	}
	old, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", rel, err)
	}
	for _, f := range old {
		e.cancelExpiry(f)
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return dir, nil
}

func (e *Exporter) write(path string, header []string, rows [][]string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err == nil {
		err = w.WriteAll(rows)
	}
	w.Flush()
	if err := errors.Join(w.Error(), f.Close()); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	rel, err := filepath.Rel(e.dir, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (e *Exporter) expire(rel string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	path := filepath.Join(e.dir, filepath.FromSlash(rel))
	log := logging.Component("export")

	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(ttl, func() {
		e.mu.Lock()
		if e.timers[path] == t {
			delete(e.timers, path)
		}
		e.mu.Unlock()
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", rel).Msg("export cleanup failed")
			return
		}
		log.Debug().Str("file", rel).Msg("export expired")
	})
	e.timers[path] = t
}

func (e *Exporter) cancelExpiry(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[path]; ok {
		t.Stop()
		delete(e.timers, path)
	}
}

func checkSegment(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: asset id %q", ErrInvalidPath, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
