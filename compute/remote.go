package compute

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-pitch/logging"
)

// Remote sends batches to a Server over HTTP. Failures are never retried.
type Remote struct {
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

// NewRemote creates a client for the backend at endpoint (e.g.
// http://gpu-box:7070)
func NewRemote(endpoint string, timeout time.Duration) *Remote {
	return &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger: logging.WithFields(logging.Fields{
			"component": "remote_backend",
			"endpoint":  endpoint,
		}),
	}
}

func (r *Remote) Gradients(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(req.toWire()); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+GradientsPath, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-gob")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.logger.Error(err, "Remote backend unreachable")
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, strings.TrimSpace(string(msg)))
		r.logger.Error(err, "Remote backend rejected batch")
		return nil, err
	}

	var out wireResult
	if err := gob.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrBackend, err)
	}
	grads, err := fromWire(req.Model, out.Grads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	r.logger.Debug("Remote batch complete", logging.Fields{
		"batch":   len(req.Inputs),
		"elapsed": time.Since(start).String(),
	})
	return &Result{Loss: out.Loss, Grads: grads}, nil
}
