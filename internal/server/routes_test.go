package server

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/proxy"
	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/utils/formutil"

	"go.uber.org/zap"
)

type stubInferer struct {
	resp types.InferResponse
	err  error
	got  []string
}

func (s *stubInferer) Infer(_ context.Context, image, ndjson types.Upload) (types.InferResponse, error) {
	s.got = []string{image.Filename, ndjson.Filename}
	return s.resp, s.err
}

type stubForwarder struct {
	reply     *proxy.Reply
	err       error
	requestID string
}

func (s *stubForwarder) Forward(ctx context.Context, _, _ types.Upload) (*proxy.Reply, error) {
	s.requestID = proxy.RequestIDFrom(ctx)
	return s.reply, s.err
}

type stubSubmitter struct {
	image, ndjson *types.Upload
}

func (s *stubSubmitter) Submit(_ context.Context, image, ndjson *types.Upload) string {
	s.image, s.ndjson = image, ndjson
	if image == nil || ndjson == nil {
		return "missing"
	}
	return "submitted " + image.Filename
}

func newTestServer(t *testing.T, component string, opts ...app.OptionFunc) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "test", Component: component}

	a, err := app.NewApp(cfg, append([]app.OptionFunc{app.WithLogger(zap.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)

	s, err := NewServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	switch component {
	case config.ComponentModel:
		s.SetupModelRoutes(a)
	case config.ComponentProxy:
		s.SetupProxyRoutes(a)
	case config.ComponentUI:
		s.SetupUIRoutes(a)
	}
	return s
}

func uploadRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	body, contentType, err := formutil.EncodeUploads(
		types.Upload{Filename: "a.png", Content: []byte("png")},
		types.Upload{Filename: "a.ndjson", Content: []byte(`{"img_name":"a.png"}`)},
	)
	if err != nil {
		t.Fatalf("encode uploads: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

// singleFieldRequest sends only the image part.
func singleFieldRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(types.ImageField, "a.png")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("png"))
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func assertJSON(t *testing.T, rec *httptest.ResponseRecorder, status int, body string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != body {
		t.Fatalf("expected body %s, got %s", body, got)
	}
}

func TestModelRoutes(t *testing.T) {
	cases := []struct {
		name   string
		stub   *stubInferer
		req    func(t *testing.T) *http.Request
		status int
		body   string
	}{
		{
			name:   "health",
			stub:   &stubInferer{},
			req:    func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) },
			status: http.StatusOK,
			body:   `{"message":"OCR FastAPI server is running."}`,
		},
		{
			name:   "result",
			stub:   &stubInferer{resp: types.InferResponse{Result: "Hello World"}},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/infer") },
			status: http.StatusOK,
			body:   `{"result":"Hello World"}`,
		},
		{
			name:   "no matching record",
			stub:   &stubInferer{resp: types.InferResponse{Error: "No JSON entry for: a.png"}},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/infer") },
			status: http.StatusOK,
			body:   `{"error":"No JSON entry for: a.png"}`,
		},
		{
			name:   "pipeline failure",
			stub:   &stubInferer{err: errors.New("encoder exploded")},
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/infer") },
			status: http.StatusInternalServerError,
			body:   `{"error":"Internal Server Error"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, config.ComponentModel, app.WithInferer(tc.stub))
			assertJSON(t, serve(s, tc.req(t)), tc.status, tc.body)
		})
	}
}

func TestInferPassesUploads(t *testing.T) {
	stub := &stubInferer{resp: types.InferResponse{Result: "ok"}}
	s := newTestServer(t, config.ComponentModel, app.WithInferer(stub))

	serve(s, uploadRequest(t, "/infer"))
	if len(stub.got) != 2 || stub.got[0] != "a.png" || stub.got[1] != "a.ndjson" {
		t.Fatalf("unexpected uploads %v", stub.got)
	}
}

func TestMissingFieldsAreUnprocessable(t *testing.T) {
	for _, component := range []string{config.ComponentModel, config.ComponentProxy} {
		path := "/infer"
		if component == config.ComponentProxy {
			path = "/frontend_infer"
		}
		s := newTestServer(t, component,
			app.WithInferer(&stubInferer{}),
			app.WithForwarder(&stubForwarder{}),
		)

		if rec := serve(s, singleFieldRequest(t, path)); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422 for a missing field, got %d", component, rec.Code)
		}

		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		if rec := serve(s, req); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422 for a non-multipart body, got %d", component, rec.Code)
		}
	}
}

func TestProxyRoutes(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		s := newTestServer(t, config.ComponentProxy, app.WithForwarder(&stubForwarder{}))
		assertJSON(t, serve(s, httptest.NewRequest(http.MethodGet, "/", nil)), http.StatusOK, `{"msg":"Backend proxy is up!"}`)
	})

	t.Run("relays status and body", func(t *testing.T) {
		body := []byte(`{"error": "Internal Server Error"}`)
		stub := &stubForwarder{reply: &proxy.Reply{StatusCode: http.StatusInternalServerError, Body: body}}
		s := newTestServer(t, config.ComponentProxy, app.WithForwarder(stub))

		req := uploadRequest(t, "/frontend_infer")
		req.Header.Set(proxy.RequestIDHeader, "req-1")
		rec := serve(s, req)

		if rec.Code != http.StatusInternalServerError || !bytes.Equal(rec.Body.Bytes(), body) {
			t.Fatalf("reply not relayed verbatim: %d %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get(proxy.RequestIDHeader) != "req-1" || stub.requestID != "req-1" {
			t.Fatalf("request id not propagated: header %q, forwarded %q",
				rec.Header().Get(proxy.RequestIDHeader), stub.requestID)
		}
	})

	t.Run("model server unreachable", func(t *testing.T) {
		stub := &stubForwarder{err: errors.New("connection refused")}
		s := newTestServer(t, config.ComponentProxy, app.WithForwarder(stub))

		rec := serve(s, uploadRequest(t, "/frontend_infer"))
		assertJSON(t, rec, http.StatusInternalServerError, `{"error":"Failed to contact model API: connection refused"}`)
		if rec.Header().Get(proxy.RequestIDHeader) == "" {
			t.Fatalf("a request id should be generated")
		}
	})
}

func TestUIRoutes(t *testing.T) {
	stub := &stubSubmitter{}
	s := newTestServer(t, config.ComponentUI, app.WithSubmitter(stub))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "OCR Full-Stack Demo") {
		t.Fatalf("upload page not served: %d", rec.Code)
	}

	assertJSON(t, serve(s, uploadRequest(t, "/submit")), http.StatusOK, `{"text":"submitted a.png"}`)
	if stub.ndjson == nil || string(stub.ndjson.Content) != `{"img_name":"a.png"}` {
		t.Fatalf("ndjson not passed through")
	}

	assertJSON(t, serve(s, singleFieldRequest(t, "/submit")), http.StatusOK, `{"text":"missing"}`)
	if stub.image == nil || stub.ndjson != nil {
		t.Fatalf("a missing field should reach the submitter as nil")
	}
}

func TestGetGinMode(t *testing.T) {
	for env, want := range map[string]string{"dev": "debug", "test": "test", "prod": "release", "": "release"} {
		if got := getGinMode(env); got != want {
			t.Fatalf("%q: expected %s, got %s", env, want, got)
		}
	}
}
