package journal

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"
)

// BacktestRun summarizes one backtest for the org report.
type BacktestRun struct {
	RunID      string
	Created    time.Time
	Processors []string
	Dataset    string

	Start time.Time
	End   time.Time
	Days  int

	Trades int
	Wins   int
	Losses int

	StartEquity float64
	EndEquity   float64

	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	TradesPerDay float64
	MaxDDPct     float64

	// Timings is wall time per stage (load, context, process, ledger).
	Timings map[string]time.Duration

	Notes []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// Org renders the run as an Org-mode document.
func (r *BacktestRun) Org() (string, error) {
	buf := new(bytes.Buffer)
	if err := backtestOrg.Execute(buf, r); err != nil {
		return "", fmt.Errorf("render backtest org: %w", err)
	}
	return buf.String(), nil
}

// WriteOrg renders the run into path.
func (r *BacktestRun) WriteOrg(path string) error {
	s, err := r.Org()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

const BacktestOrgTemplate = `* BACKTEST {{.Start.Format "2006-01-02"}} .. {{.End.Format "2006-01-02"}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:PROCESSORS:  {{range $i, $p := .Processors}}{{if $i}} {{end}}{{$p}}{{end}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:DAYS:        {{.Days}}
:START_EQ:    {{printf "%.2f" .StartEquity}}
:END_EQ:      {{printf "%.2f" .EndEquity}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Net P/L:        *{{printf "%.2f" .NetPL}}*
- Return:         *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:   *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:       *{{printf "%.2f" (mul100 .WinRate)}}%*
- Trades per day: *{{printf "%.2f" .TradesPerDay}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
{{- if .Timings }}

** Profile
| Stage | Seconds |
|-------+---------|
{{- range $k, $v := .Timings }}
| {{$k}} | {{printf "%.3f" $v.Seconds}} |
{{- end }}
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
