package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_StdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{Enabled: true, Stdout: true, Version: "test", Writer: &buf})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer("").Start(context.Background(), "import.run")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "import.run")
}

func TestShutdown_NilProvider(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}
