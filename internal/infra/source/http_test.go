package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	body, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestHTTPSource_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background())
	require.Error(t, err)

	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusServiceUnavailable, herr.HTTPStatus())
	assert.Contains(t, herr.Message, "maintenance")
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://www.cehq.gouv.qc.ca/suivihydro/tableau.asp?NoStation=030315", TableURL(" 030315 "))
	assert.Equal(t, "https://www.cehq.gouv.qc.ca/suivihydro/graphique.asp?noStation=030315", GraphURL("030315"))
}
