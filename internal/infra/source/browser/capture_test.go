package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapture_DefaultTimeout(t *testing.T) {
	c := NewCapture("https://example.test/graph", 0)
	assert.Equal(t, DefaultTimeout, c.timeout)
}

// Needs Chrome and network access.
func TestCapture_Live(t *testing.T) {
	url := os.Getenv("RIVERWATCH_TEST_GRAPH_URL")
	if url == "" {
		t.Skip("RIVERWATCH_TEST_GRAPH_URL not set")
	}
	data, err := NewCapture(url, 90*time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
