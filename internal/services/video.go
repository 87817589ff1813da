package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/metrics"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"golang.org/x/net/publicsuffix"
)

// VideoService implements the Generator interface of the conversation package by posting prompts to
// an external video generation endpoint. Cookies set by the endpoint are kept and sent back on later
// requests, the way a browser includes credentials for the target origin.
type VideoService struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

type videoResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TransportError reports a request that did not yield a usable response: a network failure, a non-2xx
// status or a body that is not the expected JSON document.
type TransportError struct {
	StatusCode int
	Err        error
}

// LogicalFailure reports a response in which the service declared the generation failed.
type LogicalFailure struct {
	Reason string
}

const (
	promptField = "prompt"
	imageField  = "image"

	defaultFailureReason = "Failed to generate video"

	errLoggerKey = "err"
)

// NewVideoService creates a VideoService posting to endpoint. The HTTP client has no timeout of its
// own: a generation may take minutes and is never abandoned.
func NewVideoService(endpoint string, logger *slog.Logger) (VideoService, error) {
	if endpoint == "" {
		return VideoService{}, errors.New("endpoint is required")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return VideoService{}, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return VideoService{
		endpoint: endpoint,
		client:   &http.Client{Jar: jar},
		logger:   logger.With(slog.String("module", "video")),
	}, nil
}

// Generate sends the prompt, and the image when present, as a multipart form and returns the textual
// reply of the service. Failures are reported as *TransportError or *LogicalFailure.
func (v VideoService) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	start := time.Now()

	reply, err := v.generate(ctx, req)

	outcome := metrics.OutcomeSuccess
	var transportErr *TransportError
	var logicalErr *LogicalFailure
	switch {
	case errors.As(err, &transportErr):
		outcome = metrics.OutcomeTransportError
	case errors.As(err, &logicalErr):
		outcome = metrics.OutcomeLogicalFailure
	}
	metrics.RecordGeneration(outcome, req.Image != nil, time.Since(start).Seconds())

	if err != nil {
		v.logger.Warn("Video generation failed",
			slog.String("outcome", outcome),
			slog.Bool("withImage", req.Image != nil),
			slog.String(errLoggerKey, err.Error()))
		return "", err
	}

	v.logger.Debug("Video generation succeeded",
		slog.Bool("withImage", req.Image != nil),
		slog.Duration("elapsed", time.Since(start)))
	return reply, nil
}

func (v VideoService) generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{StatusCode: resp.StatusCode}
	}

	var res videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", &TransportError{Err: fmt.Errorf("error decoding response: %w", err)}
	}

	if !res.Success {
		return "", &LogicalFailure{Reason: res.Error}
	}

	return res.Response, nil
}

func encodeForm(req models.GenerateRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField(promptField, req.Prompt); err != nil {
		return nil, "", fmt.Errorf("error writing prompt: %w", err)
	}

	if req.Image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     imageField,
			"filename": imageFilename(*req.Image),
		}))
		contentType := req.Image.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("error creating image part: %w", err)
		}
		if _, err := part.Write(req.Image.Data); err != nil {
			return nil, "", fmt.Errorf("error writing image: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func imageFilename(img models.Attachment) string {
	if img.Filename == "" {
		return "blob"
	}
	return img.Filename
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	if e.Err == nil {
		return defaultFailureReason
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *LogicalFailure) Error() string {
	if e.Reason == "" {
		return defaultFailureReason
	}
	return e.Reason
}
