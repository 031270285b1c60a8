package exec

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"querygate/internal/domain"
)

// simPollInterval is how often a sleeping simulation re-checks for
// cancellation and runtime expiry.
const simPollInterval = 25 * time.Millisecond

// simMatcher recognizes one synthetic statement pattern. Matchers are
// evaluated in the fixed order of the simulations slice; the first match
// wins. Simulations run fully in-process so the gateway is testable without
// live external engines.
type simMatcher struct {
	name    string
	pattern *regexp.Regexp
	run     func(w *worker, args []string) error
}

var simulations = []simMatcher{
	{
		name:    "fixed delay",
		pattern: regexp.MustCompile(`(?i)^select\s+pg_sleep\s*\(\s*(\d+(?:\.\d+)?)\s*\)$`),
		run:     runSleepSimulation,
	},
	{
		name:    "integer series",
		pattern: regexp.MustCompile(`(?i)^select\s+generate_series\s*\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)$`),
		run:     runSeriesSimulation,
	},
	{
		name:    "literal select",
		pattern: regexp.MustCompile(`(?i)^select\s+('[^']*'|-?\d+(?:\.\d+)?)$`),
		run:     runLiteralSimulation,
	},
}

// matchSimulation returns the first matcher recognizing the canonicalized
// statement, with its captured arguments.
func matchSimulation(canonical string) (*simMatcher, []string) {
	for i := range simulations {
		if m := simulations[i].pattern.FindStringSubmatch(canonical); m != nil {
			return &simulations[i], m[1:]
		}
	}
	return nil, nil
}

// runSleepSimulation sleeps for the requested number of seconds in short
// polls so cancellation and runtime expiry are observed promptly.
func runSleepSimulation(w *worker, args []string) error {
	seconds, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))

	ticker := time.NewTicker(simPollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if err := w.checkInterrupts(); err != nil {
			return err
		}
		<-ticker.C
	}

	w.setColumns([]domain.Column{{Name: "pg_sleep", Type: "TEXT"}})
	return w.emitRow([]interface{}{""})
}

// runSeriesSimulation yields the integers [start, end] one row at a time.
// An empty range yields no rows, like the engine builtin.
func runSeriesSimulation(w *worker, args []string) error {
	start, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	end, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}

	w.setColumns([]domain.Column{{Name: "generate_series", Type: "INTEGER"}})
	for v := start; v <= end; v++ {
		if err := w.emitRow([]interface{}{v}); err != nil {
			return err
		}
	}
	return nil
}

// runLiteralSimulation returns the selected literal as a single row.
func runLiteralSimulation(w *worker, args []string) error {
	lit := args[0]
	var (
		value interface{}
		typ   string
	)
	switch {
	case strings.HasPrefix(lit, "'"):
		value = strings.Trim(lit, "'")
		typ = "TEXT"
	case strings.ContainsAny(lit, "."):
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return err
		}
		value = f
		typ = "DOUBLE"
	default:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return err
		}
		value = n
		typ = "INTEGER"
	}

	w.setColumns([]domain.Column{{Name: "?column?", Type: typ}})
	return w.emitRow([]interface{}{value})
}

// runOfflineFallback substitutes a synthetic single-row result when a real
// connection attempt fails for a lexically read-only statement.
func runOfflineFallback(w *worker) error {
	w.setColumns([]domain.Column{{Name: "result", Type: "TEXT"}})
	return w.emitRow([]interface{}{"simulated result (connection unavailable)"})
}
