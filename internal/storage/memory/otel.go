package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/vcd/internal/storage/memory"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// counters records document mutations. Instruments that fail to register
// are replaced by no-op ones.
type counters struct {
	elementsAdded   metric.Int64Counter
	dataSet         metric.Int64Counter
	dataSubstituted metric.Int64Counter
}

func newCounters() counters {
	m := meter()
	added, _ := m.Int64Counter("vcd.elements.added",
		metric.WithDescription("Elements added to the document"))
	set, _ := m.Int64Counter("vcd.data.set",
		metric.WithDescription("Element data fields set"))
	substituted, _ := m.Int64Counter("vcd.data.substituted",
		metric.WithDescription("Element data fields that replaced an existing field of the same name"))
	return counters{
		elementsAdded:   orNoop(added),
		dataSet:         orNoop(set),
		dataSubstituted: orNoop(substituted),
	}
}

func orNoop(c metric.Int64Counter) metric.Int64Counter {
	if c == nil {
		return noop.Int64Counter{}
	}
	return c
}
