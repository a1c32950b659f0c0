// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

// Package httpserve runs a script as an HTTP request handler: each request
// binds a fresh evaluation context whose ctx.request reflects the incoming
// request and whose input stream is the request body.
package httpserve

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/engine"
)

// Options configures the handler.
type Options struct {
	// Source is the handler script.
	Source *lmb.Source
	// Store is shared by every request.
	Store *lmb.Store
	// Timeout bounds each evaluation.
	Timeout time.Duration
	// AllowedEnv is passed through to the evaluation context.
	AllowedEnv []string
	// AllowedFSRoots is passed through to the evaluation context.
	AllowedFSRoots []string
}

// NewHandler returns the HTTP handler wrapped with request logging.
func NewHandler(opts *Options) http.Handler {
	h := http.Handler(&scriptHandler{opts: opts})
	return handlers.CustomLoggingHandler(io.Discard, h, logRequest)
}

func logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	log.Infof(params.Request.Context(), "%s %s -> %d (%d bytes)",
		params.Request.Method, params.URL.Path, params.StatusCode, params.Size)
}

type scriptHandler struct {
	opts *Options
}

func (h *scriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := uuid.New()
	log.Debugf(ctx, "Handling request %v", id)

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[strings.ToLower(name)] = r.Header.Get(name)
	}
	eval, err := engine.New(engine.Options{
		Source:  h.opts.Source,
		Input:   r.Body,
		Store:   h.opts.Store,
		Timeout: h.opts.Timeout,
		Request: &engine.Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.Query(),
			Headers: headers,
		},
		AllowedEnv:     h.opts.AllowedEnv,
		AllowedFSRoots: h.opts.AllowedFSRoots,
		Output:         io.Discard,
		Errout:         io.Discard,
	})
	if err != nil {
		log.Errorf(ctx, "Request %v: compile: %v", id, err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	result, err := eval.Invoke(ctx)
	if err != nil {
		log.Errorf(ctx, "Request %v: %v", id, err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if err := writeResponse(w, eval.ResponseValue(), result.Value); err != nil {
		// Validation errors happen before anything hits the wire, so the
		// error response still goes out clean.
		log.Errorf(ctx, "Request %v: write response: %v", id, err)
		http.Error(w, "", http.StatusInternalServerError)
	}
}

// writeResponse maps the script outcome onto the wire. The response object
// (ctx.response, or a returned map carrying status_code) contributes status
// and headers; the body is the object's body field when present, otherwise
// the script's return value. Container bodies are JSON with content-type
// application/json unless overridden; user headers win over defaults.
func writeResponse(w http.ResponseWriter, response, returned lmb.Value) error {
	status := http.StatusOK
	body := returned
	base64Encoded := false

	if response.IsNull() && isResponseObject(returned) {
		response = returned
		body = lmb.Null
	}
	if m := response.Map(); m != nil {
		if v, ok := m.GetString("status_code"); ok && !v.IsNull() {
			status = int(v.Int())
			if status < 100 || status > 599 {
				return lmb.NewError(lmb.KindRuntime, "invalid status code %d", status)
			}
		}
		if v, ok := m.GetString("body"); ok && !v.IsNull() {
			body = v
		}
		if v, ok := m.GetString("is_base64_encoded"); ok {
			base64Encoded = v.Bool()
		}
		if hv, ok := m.GetString("headers"); ok && hv.Map() != nil {
			for _, entry := range hv.Map().Entries() {
				value := entry.Value
				text := value.Text()
				if value.Type() != lmb.TypeString {
					text = value.String()
				}
				w.Header().Set(entry.Key.String(), text)
			}
		}
	}

	var payload []byte
	switch {
	case body.Type() == lmb.TypeString:
		payload = []byte(body.Text())
		if base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body.Text())
			if err != nil {
				return lmb.NewError(lmb.KindRuntime, "body is not base64")
			}
			payload = decoded
		}
	case body.IsNull():
		payload = nil
	default:
		data, err := body.AppendJSON(nil)
		if err != nil {
			return err
		}
		payload = data
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
	}

	w.WriteHeader(status)
	_, err := w.Write(payload)
	return err
}

func isResponseObject(v lmb.Value) bool {
	m := v.Map()
	if m == nil {
		return false
	}
	_, ok := m.GetString("status_code")
	return ok
}

// Serve accepts connections on l until ctx is canceled, then shuts down
// gracefully, giving in-flight requests a short grace period.
func Serve(ctx context.Context, l net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	stop := xcontext.CloseWhenDone(ctx, l)
	defer stop()

	err := srv.Serve(l)
	if ctx.Err() == nil {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
