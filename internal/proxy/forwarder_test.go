package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/types"
)

var (
	testImage  = types.Upload{Filename: "a.png", Content: []byte("\x89PNG")}
	testNDJSON = types.Upload{Filename: "a.ndjson", Content: []byte(`{"img_name": "a.png"}`)}
)

type received struct {
	requestID string
	parts     map[string]string
	types     map[string]string
}

func modelServer(t *testing.T, status int, body string, got *received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.requestID = r.Header.Get(RequestIDHeader)
			got.parts = make(map[string]string)
			got.types = make(map[string]string)

			mr, err := r.MultipartReader()
			if err != nil {
				t.Errorf("not multipart: %v", err)
				return
			}
			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Errorf("next part: %v", err)
					return
				}
				data, _ := io.ReadAll(p)
				got.parts[p.FormName()] = p.FileName() + ":" + string(data)
				got.types[p.FormName()] = p.Header.Get("Content-Type")
			}
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestForwardRelaysReplyVerbatim(t *testing.T) {
	var got received
	body := `{ "result" : "Hello World" }`
	srv := modelServer(t, http.StatusOK, body, &got)

	reply, err := NewForwarder(srv.URL).Forward(WithRequestID(context.Background(), "abc"), testImage, testNDJSON)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if reply.StatusCode != http.StatusOK || !bytes.Equal(reply.Body, []byte(body)) {
		t.Fatalf("reply altered: %d %s", reply.StatusCode, reply.Body)
	}

	if got.parts[types.ImageField] != "a.png:\x89PNG" || got.parts[types.JSONField] != `a.ndjson:{"img_name": "a.png"}` {
		t.Fatalf("unexpected parts %v", got.parts)
	}
	if got.types[types.ImageField] != types.ImageContentType || got.types[types.JSONField] != types.JSONContentType {
		t.Fatalf("unexpected part types %v", got.types)
	}
	if got.requestID != "abc" {
		t.Fatalf("request id not forwarded, got %q", got.requestID)
	}
}

func TestForwardKeepsErrorStatus(t *testing.T) {
	srv := modelServer(t, http.StatusInternalServerError, `{"error": "Internal Server Error"}`, nil)

	reply, err := NewForwarder(srv.URL).Forward(context.Background(), testImage, testNDJSON)
	if err != nil {
		t.Fatalf("a JSON error body is still a reply: %v", err)
	}
	if reply.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status not relayed: %d", reply.StatusCode)
	}
}

func TestForwardRejectsNonJSON(t *testing.T) {
	srv := modelServer(t, http.StatusBadGateway, "<html>bad gateway</html>", nil)

	_, err := NewForwarder(srv.URL).Forward(context.Background(), testImage, testNDJSON)
	if !errors.Is(err, ErrNotJSON) {
		t.Fatalf("expected ErrNotJSON, got %v", err)
	}
}

func TestForwardUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewForwarder(url).Forward(context.Background(), testImage, testNDJSON); err == nil {
		t.Fatalf("expected a transport error")
	}
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewForwarder(srv.URL, WithTimeout(50*time.Millisecond)).Forward(context.Background(), testImage, testNDJSON)
	if err == nil {
		t.Fatalf("expected a timeout")
	}
}

func TestRequestIDFrom(t *testing.T) {
	if id := RequestIDFrom(context.Background()); id != "" {
		t.Fatalf("expected no id, got %q", id)
	}
	if id := RequestIDFrom(WithRequestID(context.Background(), "x")); id != "x" {
		t.Fatalf("expected x, got %q", id)
	}
}

func TestWithTimeoutKeepsCustomClient(t *testing.T) {
	transport := &http.Transport{}
	custom := &http.Client{Transport: transport}

	for _, opts := range [][]Option{
		{WithTimeout(time.Second), WithHTTPClient(custom)},
		{WithHTTPClient(custom), WithTimeout(time.Second)},
	} {
		f := NewForwarder("http://model", opts...)
		if f.httpClient.Timeout != time.Second || f.httpClient.Transport != transport {
			t.Fatalf("timeout %v transport kept %v", f.httpClient.Timeout, f.httpClient.Transport == transport)
		}
	}
	if custom.Timeout != 0 {
		t.Fatalf("caller's client must not be modified")
	}
}
