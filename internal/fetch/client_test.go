package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientURL(t *testing.T) {
	c, err := NewClient("http://api.tfwm.org.uk", WithCredentials("id", "k&y"))
	require.NoError(t, err)

	raw := c.URL("Line/4546/Arrivals", map[string]string{"count": "5"})
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/Line/4546/Arrivals", u.Path)
	q := u.Query()
	assert.Equal(t, "id", q.Get("app_id"))
	assert.Equal(t, "k&y", q.Get("app_key"))
	assert.Equal(t, "JSON", q.Get("formatter"))
	assert.Equal(t, "5", q.Get("count"))
}

func TestClientURLKeepsBasePath(t *testing.T) {
	c, err := NewClient("https://example.com/api/v2", WithBinaryBody())
	require.NoError(t, err)

	u, err := url.Parse(c.URL("/gtfs/trip_updates", nil))
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/gtfs/trip_updates", u.Path)
	assert.Empty(t, u.Query().Get("formatter"))
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
}

func TestFetchSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/StopPoint/43000/Arrivals", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Predictions": {}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	body, err := c.Fetch(context.Background(), "StopPoint/43000/Arrivals", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Predictions": {}}`, string(body))
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			status: http.StatusInternalServerError,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			status: http.StatusNotFound,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ArrayOfPrediction": `))
			},
			status: http.StatusOK,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tc.handler(w, r)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL)
			require.NoError(t, err)

			body, err := c.Fetch(context.Background(), "Line/1/Arrivals", nil)
			assert.Nil(t, body)
			var ferr *Error
			require.True(t, errors.As(err, &ferr))
			assert.Equal(t, tc.status, ferr.Status)
			assert.EqualValues(t, 1, hits.Load(), "no retries")
		})
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	payload := []byte{0x0a, 0x03, 0x32, 0x2e, 0x30, 0x10, 0x00, 0x18, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithBinaryBody())
	require.NoError(t, err)

	c.maxBody = int64(len(payload))
	body, err := c.Fetch(context.Background(), "gtfs/trip_updates", nil)
	require.NoError(t, err, "a body of exactly the limit is accepted")
	assert.Equal(t, payload, body)

	c.maxBody = int64(len(payload)) - 1
	body, err = c.Fetch(context.Background(), "gtfs/trip_updates", nil)
	assert.Nil(t, body)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusOK, ferr.Status)
	assert.Contains(t, ferr.Error(), "body exceeds 8 bytes")
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "Line/1/Arrivals", nil)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Zero(t, ferr.Status)
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, "Line/1/Arrivals", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
