// Package replay feeds recorded CSV rows through the same pipeline the
// live loop uses and collects the resulting signal sequence.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/record"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// LegacyAliases maps old current-reading columns to source IDs.
var LegacyAliases = map[string]weather.SourceID{
	"noaa_curr": "noaa",
	"om_curr":   "open_meteo",
	"mn_curr":   "met_no",
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// LoadFiles reads every file and merges the rows.
func LoadFiles(paths []string, m engine.Market) ([]engine.Tick, error) {
	sets := make([][]engine.Tick, 0, len(paths))
	for _, p := range paths {
		ticks, err := LoadFile(p, m)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ticks)
	}
	return Merge(sets...), nil
}

func LoadFile(path string, m engine.Market) ([]engine.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	ticks, err := Read(f, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ticks, nil
}

// Read parses rows in the recorder format. Columns are matched by header
// name; unknown columns are ignored.
func Read(r io.Reader, m engine.Market) ([]engine.Tick, error) {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	tsCol, ok := cols[record.ColTimestamp]
	if !ok {
		return nil, errors.New("missing timestamp column")
	}
	actualCol := make(map[weather.SourceID]int)
	for id := range m.Sources {
		if i, ok := cols[string(id)+record.SuffixActual]; ok {
			actualCol[id] = i
		}
	}
	for legacy, id := range LegacyAliases {
		if _, known := m.Sources[id]; !known {
			continue
		}
		if _, has := actualCol[id]; has {
			continue
		}
		if i, ok := cols[legacy]; ok {
			actualCol[id] = i
		}
	}

	var out []engine.Tick
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cell := func(i int, ok bool) string {
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		ts, err := parseTime(cell(tsCol, true), loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t := engine.Tick{
			Time:    ts,
			Samples: make(map[weather.SourceID]weather.SourceSample, len(m.Sources)),
			Quotes:  make(map[string]strategy.Quote, len(m.Contracts)),
		}
		local := ts.In(loc)
		for id, kind := range m.Sources {
			i, ok := actualCol[id]
			if actual, has := parseFloat(cell(i, ok)); has {
				smp := weather.SourceSample{Source: id, Kind: kind, Time: ts, Actual: weather.Celsius(actual), Available: true}
				fi, fok := cols[string(id)+record.SuffixForecast]
				if v, ok := parseFloat(cell(fi, fok)); ok {
					smp.Forecast1h = weather.Celsius(v)
				}
				t.Samples[id] = smp
			} else {
				t.Samples[id] = weather.Unavailable(id, kind, ts)
			}

			if kind != weather.KindForecast {
				continue
			}
			var series weather.Series
			for hr := record.HourlyFirst; hr <= record.HourlyLast; hr++ {
				hi, hok := cols[record.HourlyColumn(id, hr)]
				if v, ok := parseFloat(cell(hi, hok)); ok {
					series = append(series, weather.Point{
						Time: time.Date(local.Year(), local.Month(), local.Day(), hr, 0, 0, 0, loc),
						C:    v,
					})
				}
			}
			if len(series) > 0 {
				if t.Forecasts == nil {
					t.Forecasts = make(map[weather.SourceID]weather.Series)
				}
				t.Forecasts[id] = series
			}
		}
		ffi, ffok := cols[record.ColFetchFailed]
		if v := cell(ffi, ffok); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				t.ForecastFetchFailed = b
			}
		}
		for _, c := range m.Contracts {
			ai, aok := cols[c.Label+record.SuffixAsk]
			ask, ok := parseFloat(cell(ai, aok))
			t.Quotes[c.Label] = strategy.Quote{Ask: ask, OK: ok}
		}
		out = append(out, t)
	}
	return out, nil
}

// Merge orders ticks by time. Rows sharing a timestamp keep the first one
// in argument order.
func Merge(sets ...[]engine.Tick) []engine.Tick {
	var all []engine.Tick
	for _, s := range sets {
		all = append(all, s...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	out := all[:0]
	for i, t := range all {
		if i > 0 && t.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func parseFloat(s string) (float64, bool) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "n/a":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	w := weather.Celsius(v)
	return w.C, w.OK
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}
