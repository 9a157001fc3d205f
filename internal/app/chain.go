package app

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/gath-stack/chainapp/internal/tracing"
	"github.com/gath-stack/chainapp/internal/web"
)

// chainHandler calls the three hops in order with the caller's trace
// context. The first failing hop ends the chain and its error is returned
// as is.
func (app *Application) chainHandler(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	log := app.logger(r)

	headers := tracing.Headers(ctx, app.stack.Propagator())
	if app.headersFile != "" {
		if err := tracing.DumpHeaders(app.headersFile, headers); err != nil {
			log.Warn("Failed to write chain headers file", zap.Error(err))
		}
	}
	log.Warn("Chain propagation headers", zap.Any("headers", headers))

	for _, url := range []string{
		app.selfURL + "/",
		app.targetOneURL + "/io_task",
		app.targetTwoURL + "/cpu_task",
	} {
		body, err := app.get(ctx, url, headers)
		if err != nil {
			return err
		}
		log.Info("Chain hop response",
			zap.String("url", url),
			zap.ByteString("body", body))
	}

	log.Info("Chain Finished")
	return web.JSON(w, http.StatusOK, map[string]string{"path": "/chain"})
}

// get performs one hop. ctx carries the active span only; no deadline is
// added.
func (app *Application) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownstreamError{URL: url, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.client.Do(req)
	if err != nil {
		return nil, &DownstreamError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownstreamError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownstreamError{URL: url, StatusCode: resp.StatusCode}
	}
	return body, nil
}
