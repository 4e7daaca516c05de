package telemetry

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/baggage"
)

// Baggage holds request-scoped telemetry labels that flow through context
// (run id, step id) so a log line and the metric it triggers carry the
// same correlation labels without every call site threading them through.
type Baggage map[string]string

// Limits bound how much baggage a context can accumulate, mirroring the
// W3C baggage spec's recommendations; unbounded baggage is a memory leak
// waiting to happen across a long-running supervisor loop.
const (
	MaxBaggageItems       = 64
	MaxBaggageKeyLength   = 128
	MaxBaggageValueLength = 512
	MaxBaggageTotalSize   = 8192
)

// labelPool reuses label slices across Emit calls to cut GC pressure on
// the metrics hot path.
var labelPool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 32)
		return &s
	},
}

// WithBaggage adds key/value labels that automatically flow through every
// metric and log line emitted from the returned context. Later calls with
// the same key override earlier ones.
func WithBaggage(ctx context.Context, labels ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	bag := baggage.FromContext(ctx)
	members := bag.Members()
	if len(members) >= MaxBaggageItems {
		return ctx
	}

	totalSize := 0
	for _, m := range members {
		totalSize += len(m.Key()) + len(m.Value())
	}

	newBag := bag
	for i := 0; i < len(labels)-1; i += 2 {
		key, value := labels[i], labels[i+1]
		if key == "" {
			continue
		}
		if len(key) > MaxBaggageKeyLength {
			key = key[:MaxBaggageKeyLength]
		}
		if len(value) > MaxBaggageValueLength {
			value = value[:MaxBaggageValueLength]
		}
		if totalSize+len(key)+len(value) > MaxBaggageTotalSize {
			continue
		}
		member, err := baggage.NewMember(key, value)
		if err != nil {
			continue
		}
		updated, err := newBag.SetMember(member)
		if err != nil {
			continue
		}
		newBag = updated
		totalSize += len(key) + len(value)
	}

	return baggage.ContextWithBaggage(ctx, newBag)
}

// GetBaggage retrieves the current baggage from context as a map, or nil
// if none is set.
func GetBaggage(ctx context.Context) Baggage {
	if ctx == nil {
		return nil
	}
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return nil
	}
	result := make(Baggage, len(members))
	for _, m := range members {
		result[m.Key()] = m.Value()
	}
	return result
}

// appendBaggageToLabels merges baggage into an explicit label slice, with
// baggage taking precedence on key collision and keys sorted for
// deterministic output.
func appendBaggageToLabels(ctx context.Context, labels []string) []string {
	if ctx == nil {
		return labels
	}
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return labels
	}

	resultPtr := labelPool.Get().(*[]string)
	result := (*resultPtr)[:0]

	labelMap := make(map[string]string, len(labels)/2+len(members))
	for i := 0; i < len(labels)-1; i += 2 {
		labelMap[labels[i]] = labels[i+1]
	}
	for _, m := range members {
		labelMap[m.Key()] = m.Value()
	}

	keys := make([]string, 0, len(labelMap))
	for k := range labelMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, k, labelMap[k])
	}
	return result
}

// returnLabelSlice returns a label slice to the pool for reuse.
func returnLabelSlice(labels []string) {
	if cap(labels) <= 512 {
		labels = labels[:0]
		labelPool.Put(&labels)
	}
}
