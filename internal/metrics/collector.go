// Package metrics is an in-process collector for the service's operational
// counters. It renders the flat-text exposition format scraped at /metrics:
// one sample per line, no metadata lines, cumulative latency buckets.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type httpKey struct {
	path   string
	status string
}

// Collector is safe for concurrent use. A single mutex guards all three
// families, which is plenty at the expected request rates.
type Collector struct {
	mu       sync.Mutex
	http     map[httpKey]int64
	webhook  map[string]int64
	le100    int64
	le500    int64
	overflow int64
}

func NewCollector() *Collector {
	return &Collector{
		http:    make(map[httpKey]int64),
		webhook: make(map[string]int64),
	}
}

func (c *Collector) RecordHTTP(path string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.http[httpKey{path: path, status: strconv.Itoa(status)}]++
}

func (c *Collector) RecordWebhookOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhook[outcome]++
}

// ObserveLatency files a request duration into exactly one bucket; Render
// accumulates them so the output follows the cumulative-bucket convention.
func (c *Collector) ObserveLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ms <= 100:
		c.le100++
	case ms <= 500:
		c.le500++
	default:
		c.overflow++
	}
}

// Render returns a deterministic snapshot: samples are sorted within each
// family so repeated scrapes of unchanged state produce identical text.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	httpKeys := make([]httpKey, 0, len(c.http))
	for k := range c.http {
		httpKeys = append(httpKeys, k)
	}
	sort.Slice(httpKeys, func(i, j int) bool {
		if httpKeys[i].path != httpKeys[j].path {
			return httpKeys[i].path < httpKeys[j].path
		}
		return httpKeys[i].status < httpKeys[j].status
	})
	for _, k := range httpKeys {
		fmt.Fprintf(&b, "http_requests_total{path=%q,status=%q} %d\n", k.path, k.status, c.http[k])
	}

	outcomes := make([]string, 0, len(c.webhook))
	for o := range c.webhook {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "webhook_requests_total{result=%q} %d\n", o, c.webhook[o])
	}

	total := c.le100 + c.le500 + c.overflow
	fmt.Fprintf(&b, "request_latency_ms_bucket{le=\"100\"} %d\n", c.le100)
	fmt.Fprintf(&b, "request_latency_ms_bucket{le=\"500\"} %d\n", c.le100+c.le500)
	fmt.Fprintf(&b, "request_latency_ms_bucket{le=\"+Inf\"} %d\n", total)
	fmt.Fprintf(&b, "request_latency_ms_count %d\n", total)

	return b.String()
}
