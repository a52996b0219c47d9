package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mendersoftware/mender-sub000/pkg/deployment"
	"github.com/mendersoftware/mender-sub000/pkg/resumer"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
)

// autoCloseReader closes the underlying body once Read reports EOF or any
// other error, since runner.PayloadFile carries a plain io.Reader and never
// closes it itself.
type autoCloseReader struct {
	rc     io.ReadCloser
	closed bool
}

func (a *autoCloseReader) Read(p []byte) (int, error) {
	n, err := a.rc.Read(p)
	if err != nil && !a.closed {
		a.closed = true
		a.rc.Close()
	}
	return n, err
}

// fetchPayloads streams the single payload named by sd's artifact from its
// server-supplied source URI (§4.C resumable downloader), wiring it into
// the one runner.PayloadFile the machine's Download state needs. The core
// supports exactly one payload per artifact (spec.md §1 Glossary). Whether
// the module wants file sizes on the wire is a separate module probe
// (runner.ProvidePayloadFileSizes), not this HTTP layer's concern.
func fetchPayloads(downloader *resumer.Downloader) func(ctx context.Context, sd *deployment.StateData) ([]runner.PayloadFile, error) {
	return func(ctx context.Context, sd *deployment.StateData) ([]runner.PayloadFile, error) {
		uri := sd.UpdateInfo.Artifact.Source.URI
		if uri == "" {
			return nil, fmt.Errorf("deployment %s has no artifact source uri", sd.UpdateInfo.ID)
		}

		req, err := http.NewRequest(http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build artifact download request: %w", err)
		}

		resp, err := downloader.Get(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, fmt.Errorf("artifact download returned status %d", resp.StatusCode)
		}

		payloadType := "rootfs-image"
		if len(sd.UpdateInfo.Artifact.PayloadTypes) > 0 {
			payloadType = sd.UpdateInfo.Artifact.PayloadTypes[0]
		}

		return []runner.PayloadFile{{
			Name:   payloadType,
			Reader: &autoCloseReader{rc: resp.Body},
			Size:   resp.ContentLength,
		}}, nil
	}
}
