package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/digkill/InfographicAI/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{"blocked", &genai.BlockedError{}, models.FailureSafety},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), models.FailureTransient},
		{"http 403", &googleapi.Error{Code: 403}, models.FailureAuth},
		{"http 429", &googleapi.Error{Code: 429}, models.FailureRateLimit},
		{"http 503", &googleapi.Error{Code: 503}, models.FailureTransient},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "no"), models.FailureAuth},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "slow down"), models.FailureRateLimit},
		{"message api key", errors.New("API_KEY_INVALID"), models.FailureAuth},
		{"message quota", errors.New("Quota exceeded for project"), models.FailureRateLimit},
		{"message safety", errors.New("response blocked by SAFETY"), models.FailureSafety},
		{"other", errors.New("something odd"), models.FailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestExtractImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Here is your infographic."),
				genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}},
			}},
		}},
	}
	img := extractImage(resp)
	if img.MimeType != "image/png" || len(img.Data) != 3 {
		t.Fatalf("image = %+v", img)
	}
	if img.Text != "Here is your infographic." {
		t.Errorf("text = %q", img.Text)
	}

	textOnly := extractImage(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("no picture")}}}},
	})
	if len(textOnly.Data) != 0 || textOnly.Text != "no picture" {
		t.Errorf("text only = %+v", textOnly)
	}
	if empty := extractImage(nil); len(empty.Data) != 0 {
		t.Errorf("nil response = %+v", empty)
	}
}

func TestWithImageOptions(t *testing.T) {
	got := withImageOptions(models.GenerateOptions{Prompt: "brief", AspectRatio: "9:16", ImageSize: "2K"})
	if !strings.HasPrefix(got, "brief") || !strings.Contains(got, "aspect ratio 9:16") || !strings.Contains(got, "resolution 2K") {
		t.Errorf("prompt = %q", got)
	}
	if withImageOptions(models.GenerateOptions{Prompt: "brief"}) != "brief" {
		t.Error("options appended without values")
	}
}
