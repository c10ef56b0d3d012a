package nstelemetry

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/rule"
)

func TestNewDisabledReturnsNoopProviders(t *testing.T) {
	cfg := DefaultConfig()
	telem, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, telem.MeterProvider())
	require.NotNil(t, telem.TracerProvider())
}

func TestInitMetricsOnDisabledTelemetrySucceeds(t *testing.T) {
	telem, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	m, err := telem.InitMetrics()
	require.NoError(t, err)
	require.NotNil(t, m.QueriesTotal)
}

func TestAsQueryMiddlewareRecordsMatchedQuery(t *testing.T) {
	telem, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	m, err := telem.InitMetrics()
	require.NoError(t, err)

	sink := middleware.QueryFunc(func(rule.Query) (rule.Response, bool, error) {
		return rule.Response{Rcode: rule.RcodeNOERROR}, true, nil
	})
	wrapped := m.AsQueryMiddleware()(sink)

	resp, matched, err := wrapped(rule.Query{Type: dns.TypeA})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, rule.RcodeNOERROR, resp.Rcode)
}

func TestAsQueryMiddlewareRecordsNotMatched(t *testing.T) {
	telem, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	m, err := telem.InitMetrics()
	require.NoError(t, err)

	sink := middleware.QueryFunc(func(rule.Query) (rule.Response, bool, error) {
		return rule.Response{}, false, nil
	})
	wrapped := m.AsQueryMiddleware()(sink)

	_, matched, err := wrapped(rule.Query{Type: dns.TypeAAAA})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestShutdownOnDisabledTelemetryIsNoop(t *testing.T) {
	telem, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, telem.Shutdown(context.Background()))
}
