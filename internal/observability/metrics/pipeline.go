package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// pipeline holds counters for the disbursement processing pipelines.
type pipeline struct {
	mu        sync.Mutex
	pollTicks map[string]uint64
	events    uint64
	decisions map[string]uint64
	payments  map[string]uint64
}

var pipelineCollector = &pipeline{
	pollTicks: make(map[string]uint64),
	decisions: make(map[string]uint64),
	payments:  make(map[string]uint64),
}

// RecordPollTick counts one poll by outcome: "processed", "idle", "error" or "skipped".
func RecordPollTick(result string) {
	pipelineCollector.mu.Lock()
	pipelineCollector.pollTicks[result]++
	pipelineCollector.mu.Unlock()
}

// RecordEventProcessed counts one fully processed disaster event.
func RecordEventProcessed() {
	pipelineCollector.mu.Lock()
	pipelineCollector.events++
	pipelineCollector.mu.Unlock()
}

// RecordDecision counts one eligibility decision by outcome.
func RecordDecision(eligible bool) {
	outcome := "ineligible"
	if eligible {
		outcome = "eligible"
	}
	pipelineCollector.mu.Lock()
	pipelineCollector.decisions[outcome]++
	pipelineCollector.mu.Unlock()
}

// RecordPayment counts one payment attempt by result:
// "executed", "virtual", "duplicate" or "failed".
func RecordPayment(result string) {
	pipelineCollector.mu.Lock()
	pipelineCollector.payments[result]++
	pipelineCollector.mu.Unlock()
}

func (p *pipeline) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP agrosubsidy_poll_ticks_total Total number of poll ticks by result.\n")
	builder.WriteString("# TYPE agrosubsidy_poll_ticks_total counter\n")
	for _, key := range sortedKeys(p.pollTicks) {
		builder.WriteString(fmt.Sprintf("agrosubsidy_poll_ticks_total{result=\"%s\"} %d\n", escape(key), p.pollTicks[key]))
	}

	builder.WriteString("# HELP agrosubsidy_events_processed_total Total number of disaster events processed.\n")
	builder.WriteString("# TYPE agrosubsidy_events_processed_total counter\n")
	builder.WriteString(fmt.Sprintf("agrosubsidy_events_processed_total %d\n", p.events))

	builder.WriteString("# HELP agrosubsidy_decisions_total Total number of eligibility decisions by outcome.\n")
	builder.WriteString("# TYPE agrosubsidy_decisions_total counter\n")
	for _, key := range sortedKeys(p.decisions) {
		builder.WriteString(fmt.Sprintf("agrosubsidy_decisions_total{outcome=\"%s\"} %d\n", escape(key), p.decisions[key]))
	}

	builder.WriteString("# HELP agrosubsidy_payments_total Total number of payment attempts by result.\n")
	builder.WriteString("# TYPE agrosubsidy_payments_total counter\n")
	for _, key := range sortedKeys(p.payments) {
		builder.WriteString(fmt.Sprintf("agrosubsidy_payments_total{result=\"%s\"} %d\n", escape(key), p.payments[key]))
	}

	return builder.String()
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
