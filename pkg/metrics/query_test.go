package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryService(t *testing.T) {
	qs, err := NewQueryService("http://localhost:9090", "metaflow")
	require.NoError(t, err)
	assert.NotNil(t, qs.queryAPI)
	assert.Equal(t, "metaflow", qs.namespace)
}

func TestNewQueryServiceBadURL(t *testing.T) {
	_, err := NewQueryService("://not-a-url", "metaflow")
	assert.Error(t, err)
}
