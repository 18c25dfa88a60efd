package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	got := ObjectKey("/infographics/", "user-1", "gen_01", "image/png")
	if got != "infographics/user-1/gen_01.png" {
		t.Errorf("ObjectKey = %q", got)
	}
	if got := ObjectKey("", "u", "g", "application/octet-stream"); got != "u/g.bin" {
		t.Errorf("ObjectKey without prefix = %q", got)
	}
}

func TestPublicURL(t *testing.T) {
	if got := PublicURL("https://cdn.example.com/", "a/b.png"); got != "https://cdn.example.com/a/b.png" {
		t.Errorf("PublicURL = %q", got)
	}
}

func TestNewUploaderValidates(t *testing.T) {
	if _, err := NewUploader(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
	u, err := NewUploader(Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn"})
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if got := u.Key("user", "gen", "image/jpeg"); got != "infographics/user/gen.jpg" {
		t.Errorf("Key = %q", got)
	}
}

func TestSignedURL(t *testing.T) {
	if _, err := NewUploader(Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s"}); err == nil {
		t.Error("public bucket without base url accepted")
	}
	u, err := NewUploader(Config{
		Endpoint: "https://s3.example.com", Region: "us-east-1", AccessKey: "a", SecretKey: "s",
		Bucket: "images", UsePathStyle: true, Private: true,
	})
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if !u.Private() {
		t.Fatal("uploader not private")
	}

	raw, err := u.SignedURL(context.Background(), "infographics/user/gen.png", 10*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if parsed.Host != "s3.example.com" || !strings.HasSuffix(parsed.Path, "/images/infographics/user/gen.png") {
		t.Errorf("signed url = %s", raw)
	}
	q := parsed.Query()
	if q.Get("X-Amz-Expires") != "600" || q.Get("X-Amz-Signature") == "" {
		t.Errorf("signed url query = %v", q)
	}
}
