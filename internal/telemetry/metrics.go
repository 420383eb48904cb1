package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

var durationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

type registry struct {
	mu                  sync.Mutex
	toolCalls           map[string]map[string]int64
	toolDurationBuckets map[string][]int64
	atlassianAPIErrors  map[string]map[int]int64
	resolverOutcomes    map[string]map[string]int64
	completionDuration  []int64
	bridgeFailures      map[string]int64
	commands            map[string]int64
	eventReplays        int64
}

func newRegistry() *registry {
	return &registry{
		toolCalls:           make(map[string]map[string]int64),
		toolDurationBuckets: make(map[string][]int64),
		atlassianAPIErrors:  make(map[string]map[int]int64),
		resolverOutcomes:    make(map[string]map[string]int64),
		completionDuration:  make([]int64, len(durationBuckets)+1),
		bridgeFailures:      make(map[string]int64),
		commands:            make(map[string]int64),
	}
}

func bucketIndex(d time.Duration) int {
	sec := d.Seconds()
	for i, b := range durationBuckets {
		if sec <= b {
			return i
		}
	}
	return len(durationBuckets)
}

// IncToolCall counts one executed tool call by envelope status (ok|fail).
func IncToolCall(toolName, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolCalls[toolName]; !ok {
		defaultRegistry.toolCalls[toolName] = make(map[string]int64)
	}
	defaultRegistry.toolCalls[toolName][status]++
}

func ObserveToolDuration(toolName string, d time.Duration) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolDurationBuckets[toolName]; !ok {
		defaultRegistry.toolDurationBuckets[toolName] = make([]int64, len(durationBuckets)+1)
	}
	defaultRegistry.toolDurationBuckets[toolName][bucketIndex(d)]++
}

func IncAtlassianAPIError(operation string, statusCode int) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.atlassianAPIErrors[operation]; !ok {
		defaultRegistry.atlassianAPIErrors[operation] = make(map[int]int64)
	}
	defaultRegistry.atlassianAPIErrors[operation][statusCode]++
}

// IncResolverOutcome counts a resolution by path (help|direct|model) and
// outcome (call|help|no_match|completion_failure).
func IncResolverOutcome(path, outcome string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.resolverOutcomes[path]; !ok {
		defaultRegistry.resolverOutcomes[path] = make(map[string]int64)
	}
	defaultRegistry.resolverOutcomes[path][outcome]++
}

func ObserveCompletionDuration(d time.Duration) {
	defaultRegistry.mu.Lock()
	defaultRegistry.completionDuration[bucketIndex(d)]++
	defaultRegistry.mu.Unlock()
}

// IncBridgeFailure counts transport failures by stage (start|initialize|call|decode).
func IncBridgeFailure(stage string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.bridgeFailures[stage]++
	defaultRegistry.mu.Unlock()
}

func IncCommand(outcome string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.commands[outcome]++
	defaultRegistry.mu.Unlock()
}

func IncEventReplay() {
	defaultRegistry.mu.Lock()
	defaultRegistry.eventReplays++
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder
	bucketLabels := []string{"0.1", "0.5", "1", "2", "5", "10", "30", "60", "+Inf"}

	sb.WriteString("# TYPE atlasbridge_tool_calls_total counter\n")
	for _, tool := range sortedKeys(defaultRegistry.toolCalls) {
		for _, status := range sortedKeys(defaultRegistry.toolCalls[tool]) {
			sb.WriteString(fmt.Sprintf("atlasbridge_tool_calls_total{tool=\"%s\",status=\"%s\"} %d\n", tool, status, defaultRegistry.toolCalls[tool][status]))
		}
	}

	sb.WriteString("# TYPE atlasbridge_tool_duration_seconds_bucket counter\n")
	for _, tool := range sortedKeys(defaultRegistry.toolDurationBuckets) {
		for i, v := range defaultRegistry.toolDurationBuckets[tool] {
			sb.WriteString(fmt.Sprintf("atlasbridge_tool_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n", tool, bucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE atlasbridge_atlassian_api_errors_total counter\n")
	for _, op := range sortedKeys(defaultRegistry.atlassianAPIErrors) {
		statusCodes := make([]int, 0, len(defaultRegistry.atlassianAPIErrors[op]))
		for sc := range defaultRegistry.atlassianAPIErrors[op] {
			statusCodes = append(statusCodes, sc)
		}
		sort.Ints(statusCodes)
		for _, sc := range statusCodes {
			sb.WriteString(fmt.Sprintf("atlasbridge_atlassian_api_errors_total{operation=\"%s\",status_code=\"%d\"} %d\n", op, sc, defaultRegistry.atlassianAPIErrors[op][sc]))
		}
	}

	sb.WriteString("# TYPE atlasbridge_resolver_outcomes_total counter\n")
	for _, path := range sortedKeys(defaultRegistry.resolverOutcomes) {
		for _, outcome := range sortedKeys(defaultRegistry.resolverOutcomes[path]) {
			sb.WriteString(fmt.Sprintf("atlasbridge_resolver_outcomes_total{path=\"%s\",outcome=\"%s\"} %d\n", path, outcome, defaultRegistry.resolverOutcomes[path][outcome]))
		}
	}

	sb.WriteString("# TYPE atlasbridge_completion_duration_seconds_bucket counter\n")
	for i, v := range defaultRegistry.completionDuration {
		sb.WriteString(fmt.Sprintf("atlasbridge_completion_duration_seconds_bucket{le=\"%s\"} %d\n", bucketLabels[i], v))
	}

	sb.WriteString("# TYPE atlasbridge_bridge_failures_total counter\n")
	for _, stage := range sortedKeys(defaultRegistry.bridgeFailures) {
		sb.WriteString(fmt.Sprintf("atlasbridge_bridge_failures_total{stage=\"%s\"} %d\n", stage, defaultRegistry.bridgeFailures[stage]))
	}

	sb.WriteString("# TYPE atlasbridge_commands_total counter\n")
	for _, outcome := range sortedKeys(defaultRegistry.commands) {
		sb.WriteString(fmt.Sprintf("atlasbridge_commands_total{outcome=\"%s\"} %d\n", outcome, defaultRegistry.commands[outcome]))
	}

	sb.WriteString("# TYPE atlasbridge_event_replays_total counter\n")
	sb.WriteString(fmt.Sprintf("atlasbridge_event_replays_total %d\n", defaultRegistry.eventReplays))

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
