package record

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// Column naming shared with the replay loader.
const (
	ColTimestamp   = "timestamp"
	ColFetchFailed = "guard_fetch_failed"
	SuffixActual   = "_actual"
	SuffixForecast = "_forecast"
	SuffixAsk      = "_ask"
	// HourlyFirst and HourlyLast bound the recorded forecast hours.
	HourlyFirst = 12
	HourlyLast  = 23
)

// HourlyColumn names the raw forecast column for one local hour.
func HourlyColumn(id weather.SourceID, hour int) string {
	return fmt.Sprintf("%s_h%02d", id, hour)
}

// Header returns the CSV header for a market.
func Header(m engine.Market) []string {
	ids := sourceIDs(m)
	h := []string{ColTimestamp}
	for _, id := range ids {
		h = append(h, string(id)+SuffixActual, string(id)+SuffixForecast)
	}
	for _, id := range ids {
		if m.Sources[id] == weather.KindGroundTruth {
			continue
		}
		for hr := HourlyFirst; hr <= HourlyLast; hr++ {
			h = append(h, HourlyColumn(id, hr))
		}
	}
	h = append(h, ColFetchFailed)
	for _, c := range m.Contracts {
		h = append(h, c.Label+SuffixAsk)
	}
	return h
}

// Row renders the raw inputs of a decision under Header(m).
func RowFor(m engine.Market, d engine.Decision) []string {
	in := d.Input
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	ids := sourceIDs(m)
	row := []string{in.Time.Format(time.RFC3339Nano)}
	for _, id := range ids {
		smp, ok := in.Samples[id]
		if !ok || !smp.Available {
			row = append(row, "", "")
			continue
		}
		row = append(row, formatTemp(smp.Actual), formatTemp(smp.Forecast1h))
	}
	local := in.Time.In(loc)
	for _, id := range ids {
		if m.Sources[id] == weather.KindGroundTruth {
			continue
		}
		series, ok := in.Forecasts[id]
		for hr := HourlyFirst; hr <= HourlyLast; hr++ {
			cell := ""
			if ok {
				at := time.Date(local.Year(), local.Month(), local.Day(), hr, 0, 0, 0, loc)
				for _, p := range series {
					if p.Time.Equal(at) {
						cell = strconv.FormatFloat(p.C, 'f', -1, 64)
						break
					}
				}
			}
			row = append(row, cell)
		}
	}
	fetch := ""
	if d.GuardRecompute || in.ForecastFetchFailed {
		fetch = strconv.FormatBool(in.ForecastFetchFailed)
	}
	row = append(row, fetch)
	for _, c := range m.Contracts {
		q, ok := in.Quotes[c.Label]
		if !ok || !q.OK {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(q.Ask, 'f', -1, 64))
	}
	return row
}

// CSVRecorder appends one row per decision to <dir>/<market>_<date>.csv.
type CSVRecorder struct {
	mu      sync.Mutex
	dir     string
	markets map[string]engine.Market
	files   map[string]*csvFile
}

type csvFile struct {
	path string
	f    *os.File
	w    *csv.Writer
}

func NewCSVRecorder(dir string, markets []engine.Market) (*CSVRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	byID := make(map[string]engine.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}
	return &CSVRecorder{dir: dir, markets: byID, files: make(map[string]*csvFile)}, nil
}

func (r *CSVRecorder) Persist(_ context.Context, d engine.Decision) error {
	m, ok := r.markets[d.Market]
	if !ok {
		return fmt.Errorf("csv recorder: unknown market %q", d.Market)
	}
	date := d.Strategy.Day.Date
	if date == "" {
		date = d.Time.Format("2006-01-02")
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_%s.csv", fileSafe(m.ID), date))

	r.mu.Lock()
	defer r.mu.Unlock()
	cf, err := r.open(m, path)
	if err != nil {
		return err
	}
	if err := cf.w.Write(RowFor(m, d)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	cf.w.Flush()
	return cf.w.Error()
}

func (r *CSVRecorder) open(m engine.Market, path string) (*csvFile, error) {
	if cf, ok := r.files[m.ID]; ok {
		if cf.path == path {
			return cf, nil
		}
		cf.w.Flush()
		_ = cf.f.Close()
		delete(r.files, m.ID)
	}
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	cf := &csvFile{path: path, f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := cf.w.Write(Header(m)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	r.files[m.ID] = cf
	return cf, nil
}

func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, cf := range r.files {
		cf.w.Flush()
		errs = append(errs, cf.w.Error(), cf.f.Close())
		delete(r.files, id)
	}
	return errors.Join(errs...)
}

// Multi fans a decision out to several sinks.
type Multi []engine.Sink

func (m Multi) Persist(ctx context.Context, d engine.Decision) error {
	var errs []error
	for _, s := range m {
		if err := s.Persist(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sourceIDs(m engine.Market) []weather.SourceID {
	ids := make([]weather.SourceID, 0, len(m.Sources))
	for id := range m.Sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func formatTemp(t weather.Temp) string {
	if !t.OK {
		return ""
	}
	return strconv.FormatFloat(t.C, 'f', -1, 64)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, s)
}
