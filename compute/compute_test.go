package compute

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/target"
)

func testRequest(t *testing.T, batch int) *Request {
	t.Helper()
	c := model.Config{InputWidth: 6, OutputWidth: 12, Dim: 4, Heads: 2, FFHidden: 8, Dropout: 0.1, LogTransform: true, Epsilon: 1e-6}
	rng := rand.New(rand.NewSource(11))
	scheme := target.MustNew(config.TargetFolded)

	req := &Request{
		Model:     c,
		Target:    config.TargetFolded,
		Precision: config.PrecisionFull,
		LossScale: 1,
		Seed:      99,
		Params:    model.Init(c, rng),
	}
	for i := range batch {
		x := make([]float64, c.InputWidth)
		for j := range x {
			x[j] = rng.NormFloat64()
		}
		req.Inputs = append(req.Inputs, x)
		req.Targets = append(req.Targets, scheme.Encode(pitch.NewSet(60+i)))
	}
	return req
}

func TestLocalMatchesSequentialComputation(t *testing.T) {
	req := testRequest(t, 5)
	res, err := NewLocal(3).Gradients(context.Background(), req)
	require.NoError(t, err)

	scheme := target.MustNew(config.TargetFolded)
	want := model.Zeros(req.Model)
	loss := 0.0
	for i := range req.Inputs {
		pass, err := model.Forward(req.Model, req.Params, req.Inputs[i], rand.New(rand.NewSource(req.Seed+int64(i))))
		require.NoError(t, err)
		l, dl, err := scheme.Loss(pass.Logits, req.Targets[i])
		require.NoError(t, err)
		for j := range dl {
			dl[j] *= 1.0 / 5
		}
		g, err := pass.Backward(req.Params, dl)
		require.NoError(t, err)
		want.Add(g)
		loss += l
	}

	assert.InDelta(t, loss/5, res.Loss, 1e-12)
	assert.True(t, want.Equal(res.Grads))
}

func TestLocalIsDeterministicAcrossWorkerCounts(t *testing.T) {
	req := testRequest(t, 8)
	a, err := NewLocal(1).Gradients(context.Background(), req)
	require.NoError(t, err)
	b, err := NewLocal(8).Gradients(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Loss, b.Loss)
	assert.True(t, a.Grads.Equal(b.Grads))
}

func TestWorkersForLongSequences(t *testing.T) {
	short := model.Config{InputWidth: 128, Heads: 4}
	assert.Equal(t, 8, WorkersFor(short, 8))

	// the frequency loader feeds every spectrum bin as a token
	long := model.Config{InputWidth: 8192, Heads: 4}
	assert.Equal(t, int64(6)<<30, SampleMemory(long))
	assert.Equal(t, 1, WorkersFor(long, 8))

	mid := model.Config{InputWidth: 2048, Heads: 4}
	assert.Equal(t, 10, WorkersFor(mid, 16))
	assert.Equal(t, 3, WorkersFor(mid, 3))
}

func TestLocalCapsWorkersWithoutChangingResults(t *testing.T) {
	req := testRequest(t, 4)
	want, err := NewLocal(1).Gradients(context.Background(), req)
	require.NoError(t, err)

	got, err := NewLocal(1<<40).Gradients(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want.Loss, got.Loss)
	assert.True(t, want.Grads.Equal(got.Grads))
}

func TestLossScaleScalesGradients(t *testing.T) {
	req := testRequest(t, 2)
	base, err := NewLocal(2).Gradients(context.Background(), req)
	require.NoError(t, err)

	req.LossScale = 8
	scaled, err := NewLocal(2).Gradients(context.Background(), req)
	require.NoError(t, err)

	base.Grads.Scale(8)
	assert.True(t, base.Grads.Equal(scaled.Grads))
	assert.Equal(t, base.Loss, scaled.Loss)
}

func TestHalfPrecisionOverflowsAtHugeScale(t *testing.T) {
	req := testRequest(t, 2)
	req.Precision = config.PrecisionHalf
	req.LossScale = 1e12

	res, err := NewLocal(2).Gradients(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Grads.Finite())
}

func TestLocalRejectsBadRequests(t *testing.T) {
	local := NewLocal(1)

	req := testRequest(t, 2)
	req.Targets = req.Targets[:1]
	_, err := local.Gradients(context.Background(), req)
	assert.Error(t, err)

	req = testRequest(t, 2)
	req.Inputs, req.Targets = nil, nil
	_, err = local.Gradients(context.Background(), req)
	assert.Error(t, err)

	req = testRequest(t, 2)
	req.Target = config.TargetFull
	_, err = local.Gradients(context.Background(), req)
	assert.Error(t, err)
}

func TestLocalHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(1).Gradients(ctx, testRequest(t, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewLocal(2)).Handler())
	defer srv.Close()

	req := testRequest(t, 4)
	want, err := NewLocal(2).Gradients(context.Background(), req)
	require.NoError(t, err)

	got, err := NewRemote(srv.URL+"/", 5*time.Second).Gradients(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want.Loss, got.Loss)
	assert.True(t, want.Grads.Equal(got.Grads))
}

func TestRemoteUnavailableIsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRemote(url, time.Second).Gradients(context.Background(), testRequest(t, 1))
	assert.ErrorIs(t, err, ErrBackend)
}

func TestServerRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewLocal(1)).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+GradientsPath, "application/x-gob", strings.NewReader("not gob"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServerErrorSurfacesAsBackendError(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewLocal(1)).Handler())
	defer srv.Close()

	req := testRequest(t, 2)
	req.Target = config.TargetFull // width mismatch, rejected server side
	_, err := NewRemote(srv.URL, time.Second).Gradients(context.Background(), req)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	b, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, b)

	cfg.Backend.Kind = config.BackendRemote
	cfg.Backend.Endpoint = "http://localhost:1"
	b, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Remote{}, b)
}
