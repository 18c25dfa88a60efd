// Package gemini generates infographic images with Google's Gemini image models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/digkill/InfographicAI/internal/models"
)

const serviceName = "gemini"

type Client struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

func NewClient(ctx context.Context, apiKey, model string, log *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: model, log: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Generate sends the prompt and returns the first inline image of the answer
// together with any text the model produced. A reply without an image is not
// an error here; the caller decides.
func (c *Client) Generate(ctx context.Context, opts models.GenerateOptions) (*models.GeneratedImage, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetCandidateCount(1)

	resp, err := model.GenerateContent(ctx, genai.Text(withImageOptions(opts)))
	if err != nil {
		kind := Classify(err)
		c.log.Error("gemini request failed", "model", c.model, "kind", kind, "err", err)
		return nil, &models.ExternalError{Service: serviceName, Kind: kind, Err: err}
	}
	return extractImage(resp), nil
}

func withImageOptions(opts models.GenerateOptions) string {
	var b strings.Builder
	b.WriteString(opts.Prompt)
	if opts.AspectRatio != "" || opts.ImageSize != "" {
		b.WriteString("\n\nOutput format:")
		if opts.AspectRatio != "" {
			fmt.Fprintf(&b, " aspect ratio %s.", opts.AspectRatio)
		}
		if opts.ImageSize != "" {
			fmt.Fprintf(&b, " resolution %s.", opts.ImageSize)
		}
	}
	return b.String()
}

func extractImage(resp *genai.GenerateContentResponse) *models.GeneratedImage {
	out := &models.GeneratedImage{}
	if resp == nil {
		return out
	}
	var text []string
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Blob:
				if len(out.Data) == 0 && strings.HasPrefix(p.MIMEType, "image/") {
					out.Data = p.Data
					out.MimeType = p.MIMEType
				}
			case genai.Text:
				if s := strings.TrimSpace(string(p)); s != "" {
					text = append(text, s)
				}
			}
		}
		if len(out.Data) > 0 {
			break
		}
	}
	out.Text = strings.Join(text, "\n")
	return out
}

// Classify maps a Gemini error to a failure kind, looking at typed errors
// first and falling back to the message text.
func Classify(err error) models.FailureKind {
	if err == nil {
		return models.FailureUnknown
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return models.FailureSafety
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTransient
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if kind := kindFromHTTPStatus(apiErr.Code); kind != models.FailureUnknown {
			return kind
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return models.FailureAuth
		case codes.ResourceExhausted:
			return models.FailureRateLimit
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return models.FailureTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api_key") || strings.Contains(msg, "api key") || strings.Contains(msg, "permission denied"):
		return models.FailureAuth
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return models.FailureSafety
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource exhausted"):
		return models.FailureRateLimit
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.FailureTransient
	}
	return models.FailureUnknown
}

func kindFromHTTPStatus(code int) models.FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.FailureAuth
	case code == http.StatusTooManyRequests:
		return models.FailureRateLimit
	case code >= http.StatusInternalServerError:
		return models.FailureTransient
	}
	return models.FailureUnknown
}
