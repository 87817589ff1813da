package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/MegaGrindStone/veo-web-ui/internal/services"
)

type receivedForm struct {
	prompt      string
	hasImage    bool
	filename    string
	contentType string
	image       []byte
	cookie      string
}

func TestNewVideoService(t *testing.T) {
	if _, err := services.NewVideoService("", discardLogger()); err == nil {
		t.Error("NewVideoService() with empty endpoint error = nil, want error")
	}
}

func TestVideoServiceGenerate(t *testing.T) {
	var got receivedForm
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		got = readForm(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"response":"Here is your video"}`)
	}))
	defer srv.Close()

	v, err := services.NewVideoService(srv.URL, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	reply, err := v.Generate(context.Background(), models.GenerateRequest{Prompt: "A cat on a skateboard"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "Here is your video" {
		t.Errorf("Generate() = %q, want %q", reply, "Here is your video")
	}
	if got.prompt != "A cat on a skateboard" {
		t.Errorf("prompt = %q, want %q", got.prompt, "A cat on a skateboard")
	}
	if got.hasImage {
		t.Error("image field sent without an image")
	}
}

func TestVideoServiceGenerateWithImage(t *testing.T) {
	var got receivedForm
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = readForm(t, r)
		_, _ = io.WriteString(w, `{"success":true,"response":"ok"}`)
	}))
	defer srv.Close()

	v, err := services.NewVideoService(srv.URL, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = v.Generate(context.Background(), models.GenerateRequest{
		Prompt: "animate this",
		Image: &models.Attachment{
			Filename:    "ref.png",
			ContentType: "image/png",
			Data:        []byte("png-bytes"),
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !got.hasImage {
		t.Fatal("image field missing")
	}
	if got.filename != "ref.png" {
		t.Errorf("filename = %q, want ref.png", got.filename)
	}
	if got.contentType != "image/png" {
		t.Errorf("content type = %q, want image/png", got.contentType)
	}
	if string(got.image) != "png-bytes" {
		t.Errorf("image = %q, want png-bytes", got.image)
	}
}

func TestVideoServiceFailures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransport bool
		wantMessage   string
	}{
		{
			name:          "server error status",
			status:        http.StatusInternalServerError,
			body:          `{"success":true,"response":"ignored"}`,
			wantTransport: true,
			wantMessage:   "HTTP error! status: 500",
		},
		{
			name:          "logical failure with reason",
			status:        http.StatusOK,
			body:          `{"success":false,"error":"Y"}`,
			wantTransport: false,
			wantMessage:   "Y",
		},
		{
			name:          "logical failure without reason",
			status:        http.StatusOK,
			body:          `{"success":false}`,
			wantTransport: false,
			wantMessage:   "Failed to generate video",
		},
		{
			name:          "unparsable body",
			status:        http.StatusOK,
			body:          `<html>oops</html>`,
			wantTransport: true,
			wantMessage:   "error decoding response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			v, err := services.NewVideoService(srv.URL, discardLogger())
			if err != nil {
				t.Fatal(err)
			}

			_, err = v.Generate(context.Background(), models.GenerateRequest{Prompt: "p"})
			if err == nil {
				t.Fatal("Generate() error = nil, want error")
			}

			var transportErr *services.TransportError
			var logicalErr *services.LogicalFailure
			if tt.wantTransport && !errors.As(err, &transportErr) {
				t.Errorf("Generate() error = %T, want *TransportError", err)
			}
			if !tt.wantTransport && !errors.As(err, &logicalErr) {
				t.Errorf("Generate() error = %T, want *LogicalFailure", err)
			}
			if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("Generate() error = %q, want to contain %q", err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestVideoServiceNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v, err := services.NewVideoService(url, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = v.Generate(context.Background(), models.GenerateRequest{Prompt: "p"})
	var transportErr *services.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Generate() error = %v, want *TransportError", err)
	}
	if transportErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", transportErr.StatusCode)
	}
}

func TestVideoServiceSendsCookies(t *testing.T) {
	var cookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := readForm(t, r)
		cookies = append(cookies, got.cookie)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = io.WriteString(w, `{"success":true,"response":"ok"}`)
	}))
	defer srv.Close()

	v, err := services.NewVideoService(srv.URL, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := v.Generate(context.Background(), models.GenerateRequest{Prompt: "p"}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}

	if cookies[0] != "" {
		t.Errorf("first request cookie = %q, want none", cookies[0])
	}
	if cookies[1] != "abc" {
		t.Errorf("second request cookie = %q, want abc", cookies[1])
	}
}

func readForm(t *testing.T, r *http.Request) receivedForm {
	t.Helper()

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Errorf("ParseMultipartForm() error = %v", err)
		return receivedForm{}
	}

	got := receivedForm{prompt: r.FormValue("prompt")}
	if c, err := r.Cookie("session"); err == nil {
		got.cookie = c.Value
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return got
	}
	defer file.Close()

	got.hasImage = true
	got.filename = header.Filename
	got.contentType = header.Header.Get("Content-Type")
	got.image, _ = io.ReadAll(file)
	return got
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
