package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// handler is one registered indicator implementation. columnsFor reports
// the exact output column names a spec would produce without running it;
// compute fills those columns.
type handler struct {
	requires   []string
	columnsFor func(spec Spec) ([]string, error)
	warmup     func(spec Spec) int
	compute    func(s *Series, spec Spec) (Columns, []string, error)
}

// Engine computes named indicator columns over a price series. It is a
// pure function of its input apart from an internal per-run result cache.
// Construct one per run and inject it; there is no package-level instance.
type Engine struct {
	handlers map[string]handler

	mu    sync.RWMutex
	cache map[string]Columns
}

// NewEngine creates an engine with all built-in indicators registered.
func NewEngine() *Engine {
	e := &Engine{
		handlers: make(map[string]handler),
		cache:    make(map[string]Columns),
	}
	e.registerBuiltins()
	return e
}

// register adds a handler for a type tag. Registration happens once at
// construction; the type set is closed afterwards.
func (e *Engine) register(typ string, h handler) {
	e.handlers[typ] = h
}

// Known reports whether a spec type is registered.
func (e *Engine) Known(typ string) bool {
	_, ok := e.handlers[typ]
	return ok
}

// ColumnsFor returns the exact set of column names the given specs would
// produce, without computing anything. Preflight validates condition
// references against this set.
func (e *Engine) ColumnsFor(specs []Spec) ([]string, error) {
	var out []string
	for _, spec := range specs {
		h, ok := e.handlers[spec.Type]
		if !ok {
			return nil, &UnknownIndicatorError{Type: spec.Type}
		}
		cols, err := h.columnsFor(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, cols...)
	}
	return out, nil
}

// WarmupBars returns the largest warm-up requirement across specs.
func (e *Engine) WarmupBars(specs []Spec) int {
	warmup := 0
	for _, spec := range specs {
		h, ok := e.handlers[spec.Type]
		if !ok {
			continue
		}
		if w := h.warmup(spec); w > warmup {
			warmup = w
		}
	}
	return warmup
}

// Compute computes all specs against the series and merges the resulting
// columns into it. Recomputing a spec on identical input is idempotent.
func (e *Engine) Compute(s *Series, specs []Spec) (*Result, error) {
	started := time.Now()
	result := &Result{Columns: make(Columns)}

	fingerprint := seriesFingerprint(s)
	for _, spec := range specs {
		h, ok := e.handlers[spec.Type]
		if !ok {
			return nil, &UnknownIndicatorError{Type: spec.Type}
		}
		for _, req := range h.requires {
			if _, ok := s.Column(req); !ok {
				return nil, &MissingColumnError{Indicator: spec.Type, Column: req}
			}
		}

		key := cacheKey(spec, fingerprint)
		cols, cached := e.lookup(key)
		if !cached {
			var warns []string
			var err error
			cols, warns, err = h.compute(s, spec)
			if err != nil {
				return nil, err
			}
			result.Warnings = append(result.Warnings, warns...)
			e.store(key, cols)
		}

		for name, vals := range cols {
			s.SetColumn(name, vals)
			result.Columns[name] = vals
		}
	}

	result.NaNRatio = nanRatio(result.Columns)
	result.ExecutionTime = time.Since(started)
	return result, nil
}

func (e *Engine) lookup(key string) (Columns, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cols, ok := e.cache[key]
	return cols, ok
}

func (e *Engine) store(key string, cols Columns) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = cols
}

// seriesFingerprint identifies a (instrument, date-range) input cheaply:
// first/last timestamps plus bar count.
func seriesFingerprint(s *Series) string {
	if s.Len() == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d:%d:%d",
		s.Timestamps[0].UnixNano(), s.Timestamps[s.Len()-1].UnixNano(), s.Len())
}

func cacheKey(spec Spec, fingerprint string) string {
	key := spec.Type
	if spec.Name != "" {
		key += ":" + spec.Name
	}
	if spec.Formula != "" {
		key += ":" + spec.Formula
	}
	for _, k := range sortedParamKeys(spec.Params) {
		key += fmt.Sprintf(":%s=%s", k, formatParam(spec.Params[k]))
	}
	return key + "@" + fingerprint
}

func sortedParamKeys(params map[string]float64) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func nanRatio(cols Columns) float64 {
	total, nans := 0, 0
	for _, vals := range cols {
		for _, v := range vals {
			total++
			if math.IsNaN(v) {
				nans++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nans) / float64(total)
}

// registerBuiltins wires every built-in indicator into the registry.
func (e *Engine) registerBuiltins() {
	e.register("sma", smaHandler())
	e.register("ema", emaHandler())
	e.register("wma", wmaHandler())
	e.register("rsi", rsiHandler())
	e.register("macd", macdHandler())
	e.register("bollinger", bollingerHandler())
	e.register("atr", atrHandler())
	e.register("adx", adxHandler())
	e.register("stochastic", stochasticHandler())
	e.register("cci", cciHandler())
	e.register("williams_r", williamsRHandler())
	e.register("obv", obvHandler())
	e.register("vwap", vwapHandler())
	e.register("ichimoku", ichimokuHandler())
	e.register("psar", psarHandler())
	e.register("pattern", patternHandler())
	e.register("custom", customHandler())
}
