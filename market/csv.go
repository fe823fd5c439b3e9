package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVProvider serves bars from a directory tree laid out as
// <root>/<interval>/<SYMBOL>.csv, e.g. data/5m/AAPL.csv.
//
// Each file has the columns time,open,high,low,close,volume[,vwap].
// Time is RFC3339 or "2006-01-02 15:04:05" in exchange time.
type CSVProvider struct {
	Root string

	mu    sync.Mutex
	cache map[string]Series
}

func NewCSVProvider(root string) *CSVProvider {
	return &CSVProvider{Root: root, cache: map[string]Series{}}
}

func (p *CSVProvider) Daily(ctx context.Context, symbol string, day time.Time, interval Interval) (Series, error) {
	d := Date(day)
	return p.Range(ctx, symbol, d, d.AddDate(0, 0, 1), interval)
}

func (p *CSVProvider) Range(_ context.Context, symbol string, start, end time.Time, interval Interval) (Series, error) {
	all, err := p.load(symbol, interval)
	if err != nil {
		return nil, err
	}
	return all.Between(start, end).Clone(), nil
}

func (p *CSVProvider) load(symbol string, interval Interval) (Series, error) {
	key := interval.String() + "/" + symbol

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		p.cache = map[string]Series{}
	}
	if s, ok := p.cache[key]; ok {
		return s, nil
	}

	path := filepath.Join(p.Root, interval.String(), strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		p.cache[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := ReadBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	p.cache[key] = s
	return s, nil
}

// ReadBarsCSV parses bars from r. A leading header row is skipped.
func ReadBarsCSV(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out Series
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		b, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, b)
	}
	return out.Sort(), nil
}

func parseBarRow(row []string) (Bar, error) {
	if len(row) < 6 {
		return Bar{}, fmt.Errorf("bad row (need time,open,high,low,close,volume): %v", row)
	}
	t, err := parseBarTime(strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, err
	}

	var vals [6]float64
	n := 5
	if len(row) > 6 {
		n = 6
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad number %q: %w", row[i+1], err)
		}
		vals[i] = v
	}
	return Bar{
		Time:   t,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
		VWAP:   vals[5],
	}, nil
}

func parseBarTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(NewYork), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, NewYork); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

// WriteBarsCSV writes s in the format ReadBarsCSV understands.
func WriteBarsCSV(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume", "vwap"}); err != nil {
		return err
	}
	for _, b := range s {
		err := cw.Write([]string{
			b.Time.Format(time.RFC3339),
			f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume), f(b.VWAP),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
