package observability

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/nupi-ai/edbridge/internal/eventbus"
)

// PrometheusExporter renders bridge metrics in Prometheus text format.
type PrometheusExporter struct {
	bus     *eventbus.Bus
	counter *EventCounter
	peers   func() int
	editor  func() EditorSnapshot
}

// EditorSnapshot is a point-in-time view of the editor session.
type EditorSnapshot struct {
	Mode          string
	Models        int
	Markers       int
	Registrations int
	Scripts       int
}

// NewPrometheusExporter constructs an exporter backed by the provided bus and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{
		bus:     bus,
		counter: counter,
	}
}

// WithPeers enables the connected peer gauge.
func (e *PrometheusExporter) WithPeers(provider func() int) {
	e.peers = provider
}

// WithEditor enables editor session gauges.
func (e *PrometheusExporter) WithEditor(provider func() EditorSnapshot) {
	e.editor = provider
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writePeerMetrics(&buf)
	e.writeEditorMetrics(&buf)

	return buf.Bytes()
}

// ServeHTTP serves Export as text/plain.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write(e.Export())
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	counts := e.counter.BySource()
	if len(counts) == 0 {
		return
	}

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)

	buf.WriteString("# HELP edbridge_eventbus_events_total Total number of published events per topic and source.\n")
	buf.WriteString("# TYPE edbridge_eventbus_events_total counter\n")
	for _, topicName := range topics {
		bySource := counts[eventbus.Topic(topicName)]
		sources := make([]string, 0, len(bySource))
		for source := range bySource {
			sources = append(sources, string(source))
		}
		sort.Strings(sources)
		for _, source := range sources {
			fmt.Fprintf(buf, "edbridge_eventbus_events_total{topic=%q,source=%q} %d\n", topicName, source, bySource[eventbus.Source(source)])
		}
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}

	metrics := e.bus.Metrics()

	buf.WriteString("# HELP edbridge_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE edbridge_eventbus_publish_total counter\n")
	fmt.Fprintf(buf, "edbridge_eventbus_publish_total %d\n", metrics.PublishTotal)

	buf.WriteString("# HELP edbridge_eventbus_dropped_total Total number of events dropped by the bus.\n")
	buf.WriteString("# TYPE edbridge_eventbus_dropped_total counter\n")
	fmt.Fprintf(buf, "edbridge_eventbus_dropped_total %d\n", metrics.DroppedTotal)
}

func (e *PrometheusExporter) writePeerMetrics(buf *bytes.Buffer) {
	if e.peers == nil {
		return
	}
	buf.WriteString("# HELP edbridge_server_peers Number of connected host and watcher peers.\n")
	buf.WriteString("# TYPE edbridge_server_peers gauge\n")
	fmt.Fprintf(buf, "edbridge_server_peers %d\n", e.peers())
}

func (e *PrometheusExporter) writeEditorMetrics(buf *bytes.Buffer) {
	if e.editor == nil {
		return
	}

	snapshot := e.editor()

	buf.WriteString("# HELP edbridge_editor_mode Editor mode currently held by the session.\n")
	buf.WriteString("# TYPE edbridge_editor_mode gauge\n")
	for _, mode := range []string{"none", "single", "diff"} {
		value := 0
		if snapshot.Mode == mode {
			value = 1
		}
		fmt.Fprintf(buf, "edbridge_editor_mode{mode=%q} %d\n", mode, value)
	}

	buf.WriteString("# HELP edbridge_editor_models Number of live text models.\n")
	buf.WriteString("# TYPE edbridge_editor_models gauge\n")
	fmt.Fprintf(buf, "edbridge_editor_models %d\n", snapshot.Models)

	buf.WriteString("# HELP edbridge_editor_markers Number of diagnostics markers across all models.\n")
	buf.WriteString("# TYPE edbridge_editor_markers gauge\n")
	fmt.Fprintf(buf, "edbridge_editor_markers %d\n", snapshot.Markers)

	buf.WriteString("# HELP edbridge_langservice_registrations Number of language service registrations.\n")
	buf.WriteString("# TYPE edbridge_langservice_registrations gauge\n")
	fmt.Fprintf(buf, "edbridge_langservice_registrations %d\n", snapshot.Registrations)

	buf.WriteString("# HELP edbridge_scripts_loaded Number of editor scripts loaded.\n")
	buf.WriteString("# TYPE edbridge_scripts_loaded gauge\n")
	fmt.Fprintf(buf, "edbridge_scripts_loaded %d\n", snapshot.Scripts)
}
