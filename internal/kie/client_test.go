package kie

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digkill/InfographicAI/internal/models"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		APIKey:       "kie-key",
		BaseURL:      baseURL,
		PollInterval: time.Millisecond,
		MaxAttempts:  5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateSuccess(t *testing.T) {
	polls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			if r.Header.Get("Authorization") != "Bearer kie-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["model"] != "nano-banana-pro" {
				t.Errorf("create body = %v, %v", body, err)
			}
			w.Write([]byte(`{"code":200,"msg":"ok","data":{"taskId":"task-1"}}`))
		case "/api/v1/jobs/recordInfo":
			if r.URL.Query().Get("taskId") != "task-1" {
				t.Errorf("taskId = %q", r.URL.Query().Get("taskId"))
			}
			polls++
			if polls < 2 {
				w.Write([]byte(`{"code":200,"data":{"state":"generating"}}`))
				return
			}
			result, _ := json.Marshal(map[string][]string{"resultUrls": {srv.URL + "/result.png"}})
			resp, _ := json.Marshal(map[string]any{"code": 200, "data": map[string]any{"state": "success", "resultJson": string(result)}})
			w.Write(resp)
		case "/result.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	img, err := newTestClient(srv.URL).Generate(context.Background(), models.GenerateOptions{Prompt: "coffee", AspectRatio: "9:16", ImageSize: "2K"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.MimeType != "image/png" || len(img.Data) != len(pngHeader) {
		t.Errorf("image = %+v", img)
	}
	if polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
}

func TestGenerateFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    models.FailureKind
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"msg":"bad key"}`))
			},
			want: models.FailureAuth,
		},
		{
			name: "envelope rate limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"code":429,"msg":"too many requests"}`))
			},
			want: models.FailureRateLimit,
		},
		{
			name: "task failed on content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/v1/jobs/createTask" {
					w.Write([]byte(`{"code":200,"data":{"taskId":"t"}}`))
					return
				}
				w.Write([]byte(`{"code":200,"data":{"state":"fail","failCode":"400","failMsg":"Sensitive content detected"}}`))
			},
			want: models.FailureSafety,
		},
		{
			name: "never finishes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/v1/jobs/createTask" {
					w.Write([]byte(`{"code":200,"data":{"taskId":"t"}}`))
					return
				}
				w.Write([]byte(`{"code":200,"data":{"state":"waiting"}}`))
			},
			want: models.FailureTransient,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := newTestClient(srv.URL).Generate(context.Background(), models.GenerateOptions{Prompt: "x"})
			var extErr *models.ExternalError
			if !errors.As(err, &extErr) {
				t.Fatalf("err = %v, want ExternalError", err)
			}
			if extErr.Kind != tc.want || extErr.Service != "kie" {
				t.Errorf("kind = %s, want %s (%v)", extErr.Kind, tc.want, err)
			}
		})
	}
}
