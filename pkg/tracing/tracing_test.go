package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"

	"omni/internal/config"
)

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestResourceAttributes(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
		info ServiceInfo
		want map[attribute.Key]string
	}{
		{
			name: "defaults",
			want: map[attribute.Key]string{semconv.ServiceNameKey: DefaultServiceName},
		},
		{
			name: "config name and environment",
			cfg:  config.TracingConfig{ServiceName: "omni-edge", Environment: "staging"},
			want: map[attribute.Key]string{
				semconv.ServiceNameKey:           "omni-edge",
				semconv.DeploymentEnvironmentKey: "staging",
			},
		},
		{
			name: "service info wins",
			cfg:  config.TracingConfig{ServiceName: "omni-edge", Environment: "staging"},
			info: ServiceInfo{Name: "omni-gateway", Version: "1.4.0", Environment: "prod", Transport: "kafka"},
			want: map[attribute.Key]string{
				semconv.ServiceNameKey:           "omni-gateway",
				semconv.ServiceVersionKey:        "1.4.0",
				semconv.DeploymentEnvironmentKey: "prod",
				AttrTransport:                    "kafka",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attrMap(resourceAttributes(tt.cfg, tt.info)))
		})
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, ServiceInfo{Transport: "memory"})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{typ: "", want: sdktrace.AlwaysSample().Description()},
		{typ: "always_on", want: sdktrace.AlwaysSample().Description()},
		{typ: "always_off", want: sdktrace.NeverSample().Description()},
		{typ: "traceidratio", want: sdktrace.TraceIDRatioBased(0.5).Description()},
		{typ: "parentbased_always_on", want: sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{typ: "parentbased_traceidratio", want: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5)).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got := samplerFor(config.SamplerConfig{Type: tt.typ, Param: 0.5})
			assert.Equal(t, tt.want, got.Description())
		})
	}
}
