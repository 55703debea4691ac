package monitoring

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/ucldas/internal/timeutil"
)

var (
	registry = prometheus.NewRegistry()

	operatorCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ucldas",
		Name:      "operator_calls_total",
		Help:      "Operator applications by operator and operation.",
	}, []string{"operator", "op"})

	operatorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ucldas",
		Name:      "operator_errors_total",
		Help:      "Operator applications that returned an error.",
	}, []string{"operator", "op"})

	operatorSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ucldas",
		Name:      "operator_duration_seconds",
		Help:      "Wall time of operator applications.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"operator", "op"})

	clockMu sync.RWMutex
	clock   timeutil.Clock = timeutil.SystemClock{}
)

func init() {
	registry.MustRegister(operatorCalls, operatorErrors, operatorSeconds)
}

// Registry returns the registry holding the operator metrics, for exposition
// by a driver.
func Registry() *prometheus.Registry {
	return registry
}

// SetClock replaces the clock used to time operator calls. Passing nil
// restores the real clock.
func SetClock(c timeutil.Clock) {
	clockMu.Lock()
	defer clockMu.Unlock()
	if c == nil {
		c = timeutil.SystemClock{}
	}
	clock = c
}

func now() timeutil.Clock {
	clockMu.RLock()
	defer clockMu.RUnlock()
	return clock
}

// Track records one application of operator.op and returns the function that
// completes the record with the call's error.
func Track(operator, op string) func(error) {
	c := now()
	start := c.Now()
	return func(err error) {
		operatorCalls.WithLabelValues(operator, op).Inc()
		operatorSeconds.WithLabelValues(operator, op).Observe(c.Since(start).Seconds())
		if err != nil {
			operatorErrors.WithLabelValues(operator, op).Inc()
		}
	}
}

// CallStat summarises the calls recorded for one operator operation.
type CallStat struct {
	Operator string
	Op       string
	Calls    float64
	Errors   float64
}

// Summary gathers the recorded call counts, sorted by operator then operation.
func Summary() ([]CallStat, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, err
	}
	byKey := map[[2]string]*CallStat{}
	for _, mf := range families {
		var errorsFamily bool
		switch mf.GetName() {
		case "ucldas_operator_calls_total":
		case "ucldas_operator_errors_total":
			errorsFamily = true
		default:
			continue
		}
		for _, m := range mf.GetMetric() {
			var key [2]string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "operator":
					key[0] = lp.GetValue()
				case "op":
					key[1] = lp.GetValue()
				}
			}
			st, ok := byKey[key]
			if !ok {
				st = &CallStat{Operator: key[0], Op: key[1]}
				byKey[key] = st
			}
			if errorsFamily {
				st.Errors = m.GetCounter().GetValue()
			} else {
				st.Calls = m.GetCounter().GetValue()
			}
		}
	}
	out := make([]CallStat, 0, len(byKey))
	for _, st := range byKey {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Operator != out[j].Operator {
			return out[i].Operator < out[j].Operator
		}
		return out[i].Op < out[j].Op
	})
	return out, nil
}
