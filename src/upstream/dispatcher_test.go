package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"age-classifier/src/config"
	"age-classifier/src/labels"
	"age-classifier/src/metrics"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testImageURL = "https://images.example.com/photo.jpg"

func testConfig(endpoints ...string) config.Config {
	cfg := config.Defaults()
	cfg.ModelEndpoints = endpoints
	cfg.PredictPath = "/predict"
	return cfg
}

func newMockDispatcher(t *testing.T, endpoints []string, opts ...Option) (*Dispatcher, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: mt})}, opts...)
	d, err := NewDispatcher(testConfig(endpoints...), zerolog.Nop(), opts...)
	require.NoError(t, err)
	return d, mt
}

func TestNewDispatcherRequiresEndpoints(t *testing.T) {
	_, err := NewDispatcher(testConfig(), zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrNoEndpoints)
}

func TestClassifySuccess(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a"})
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", httpmock.NewStringResponder(http.StatusOK, "Both\n"))

	out := d.Classify(context.Background(), testImageURL, "prompt", nil)

	require.True(t, out.OK())
	label, ok := out.Label()
	assert.True(t, ok)
	assert.Equal(t, labels.Both, label)
	assert.Equal(t, "Both", out.Raw())
	assert.Empty(t, out.Err())
}

func TestClassifyFoldsCase(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a"})
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", httpmock.NewStringResponder(http.StatusOK, "adult"))

	out := d.Classify(context.Background(), testImageURL, "prompt", nil)

	label, ok := out.Label()
	require.True(t, ok)
	assert.Equal(t, labels.Adult, label)
	assert.Equal(t, "adult", out.Raw())
}

func TestClassifyAmbiguousIsUnclear(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a"})
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", httpmock.NewStringResponder(http.StatusOK, "probably a teenager"))

	out := d.Classify(context.Background(), testImageURL, "prompt", nil)

	label, ok := out.Label()
	require.True(t, ok)
	assert.Equal(t, labels.Unclear, label)
}

func TestClassifySendsForm(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a"})

	var got struct {
		contentType, accept, info, image, prompt string
	}
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		got.contentType = req.Header.Get("Content-Type")
		got.accept = req.Header.Get("Accept")
		got.info = req.PostForm.Get("request_info")
		got.image = req.PostForm.Get("image_input")
		got.prompt = req.PostForm.Get("prompt")
		return httpmock.NewStringResponse(http.StatusOK, "Child"), nil
	})

	info := map[string]interface{}{"uid": 7, "image_id": "img-1", "model": "qwen-vl"}
	out := d.Classify(context.Background(), testImageURL, "the prompt", info)
	require.True(t, out.OK())

	assert.Equal(t, "application/x-www-form-urlencoded", got.contentType)
	assert.Equal(t, "application/json", got.accept)
	assert.Equal(t, testImageURL, got.image)
	assert.Equal(t, "the prompt", got.prompt)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got.info), &sent))
	assert.Equal(t, "img-1", sent["image_id"])
	assert.EqualValues(t, 7, sent["uid"])
}

func TestClassifyDefaultRequestInfo(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a"})

	var info string
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", func(req *http.Request) (*http.Response, error) {
		_ = req.ParseForm()
		info = req.PostForm.Get("request_info")
		return httpmock.NewStringResponse(http.StatusOK, "Adult"), nil
	})

	d.Classify(context.Background(), testImageURL, "p", map[string]interface{}{})

	assert.JSONEq(t, `{"task":"age_classification","model":"qwen-vl"}`, info)
}

func TestClassifyUpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		contains  string
	}{
		{"connection refused", httpmock.NewErrorResponder(errors.New("connection refused")), "connection refused"},
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom"), "returned 500: boom"},
		{"bad gateway", httpmock.NewStringResponder(http.StatusBadGateway, ""), "returned 502"},
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, "missing"), "returned 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mt := newMockDispatcher(t, []string{"http://model-a"})
			mt.RegisterResponder(http.MethodPost, "http://model-a/predict", tt.responder)

			out := d.Classify(context.Background(), testImageURL, "p", nil)

			assert.False(t, out.OK())
			assert.Equal(t, StatusError, out.Status())
			_, ok := out.Label()
			assert.False(t, ok)
			assert.Contains(t, out.Err(), tt.contains)
			assert.Equal(t, 1, mt.GetTotalCallCount(), "failures are not retried")
		})
	}
}

func TestClassifyNoRetryAcrossEndpoints(t *testing.T) {
	d, mt := newMockDispatcher(t, []string{"http://model-a", "http://model-b"}, WithPicker(func(int) int { return 0 }))
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	mt.RegisterResponder(http.MethodPost, "http://model-b/predict", httpmock.NewStringResponder(http.StatusOK, "Adult"))

	out := d.Classify(context.Background(), testImageURL, "p", nil)

	assert.False(t, out.OK())
	calls := mt.GetCallCountInfo()
	assert.Equal(t, 1, calls["POST http://model-a/predict"])
	assert.Equal(t, 0, calls["POST http://model-b/predict"])
}

func TestClassifyPicksAmongEndpoints(t *testing.T) {
	endpoints := []string{"http://model-a", "http://model-b", "http://model-c"}
	var next int32
	pick := func(n int) int { return int(atomic.AddInt32(&next, 1)-1) % n }

	d, mt := newMockDispatcher(t, endpoints, WithPicker(pick))
	for _, e := range endpoints {
		mt.RegisterResponder(http.MethodPost, e+"/predict", httpmock.NewStringResponder(http.StatusOK, "Adult"))
	}

	for i := 0; i < 6; i++ {
		require.True(t, d.Classify(context.Background(), testImageURL, "p", nil).OK())
	}

	calls := mt.GetCallCountInfo()
	for _, e := range endpoints {
		assert.Equal(t, 2, calls["POST "+e+"/predict"])
	}
}

func TestClassifyDefaultPickerStaysInRange(t *testing.T) {
	endpoints := []string{"http://model-a", "http://model-b"}
	d, mt := newMockDispatcher(t, endpoints)
	for _, e := range endpoints {
		mt.RegisterResponder(http.MethodPost, e+"/predict", httpmock.NewStringResponder(http.StatusOK, "Adult"))
	}

	for i := 0; i < 50; i++ {
		require.True(t, d.Classify(context.Background(), testImageURL, "p", nil).OK())
	}
	assert.Equal(t, 50, mt.GetTotalCallCount())
}

func TestClassifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig(srv.URL)
	cfg.UpstreamTimeout = 100 * time.Millisecond
	d, err := NewDispatcher(cfg, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	out := d.Classify(context.Background(), testImageURL, "p", nil)

	assert.False(t, out.OK())
	assert.NotEmpty(t, out.Err())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassifyRecordsMetrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	d, mt := newMockDispatcher(t, []string{"http://model-a"}, WithMetrics(m))
	mt.RegisterResponder(http.MethodPost, "http://model-a/predict", httpmock.NewStringResponder(http.StatusOK, "Adult"))

	d.Classify(context.Background(), testImageURL, "p", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("http://model-a", "success")))
}

func TestEndpointsIsACopy(t *testing.T) {
	d, _ := newMockDispatcher(t, []string{"http://model-a"})
	eps := d.Endpoints()
	eps[0] = "http://mutated"
	assert.Equal(t, []string{"http://model-a"}, d.Endpoints())
}
