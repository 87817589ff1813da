package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/google/uuid"
)

// Generator sends a prompt, and optionally a reference image, to the video generation service and
// returns the textual reply of the service.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
}

// PreviewStore hands out displayable references for staged images. A reference stays valid until it
// is released.
type PreviewStore interface {
	Acquire(ctx context.Context, image models.Attachment) (string, error)
	Release(ctx context.Context, url string) error
}

// State is a snapshot of a conversation.
type State struct {
	Messages     []models.Message   `json:"messages"`
	DraftText    string             `json:"draftText"`
	DraftImage   *models.Attachment `json:"-"`
	DraftPreview string             `json:"draftPreview,omitempty"`
	IsSubmitting bool               `json:"isSubmitting"`
	// Version grows with every transition, so a newer snapshot always carries a higher value.
	Version uint64 `json:"version"`
}

// Controller owns the state of one conversation and runs at most one generation request at a time.
type Controller struct {
	mu    sync.Mutex
	state State
	// previews owned by messages of the transcript, released on Close.
	owned []string

	generator Generator
	previews  PreviewStore

	placeholder string
	observer    func(State)
	newID       func() string
	now         func() time.Time
	logger      *slog.Logger

	inflight sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

const (
	// DefaultPlaceholder is the content of the message shown while a video is being generated.
	DefaultPlaceholder = "Generating your video with Veo-v3... This may take a few moments."

	errorPrefix     = "Error: "
	fallbackFailure = "Failed to generate video"

	errLoggerKey = "err"
)

// WithGreeting starts the conversation with an assistant message carrying the given content.
func WithGreeting(content string) Option {
	return func(c *Controller) {
		if content == "" {
			return
		}
		c.state.Messages = append(c.state.Messages, c.message(models.RoleAssistant, content))
	}
}

// WithObserver registers fn to be called with a snapshot after every state transition. The function
// is called while the controller is locked, so it must not call back into the controller.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithPlaceholder overrides the content of the generating placeholder.
func WithPlaceholder(content string) Option {
	return func(c *Controller) {
		c.placeholder = content
	}
}

// WithClock overrides the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator overrides the source of message ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// WithLogger sets the logger used for failures that never reach the transcript.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a Controller backed by the given generator and preview store. Options are applied in
// order, so WithClock and WithIDGenerator must precede WithGreeting to affect the greeting.
func New(generator Generator, previews PreviewStore, opts ...Option) *Controller {
	c := &Controller{
		generator:   generator,
		previews:    previews,
		placeholder: DefaultPlaceholder,
		newID:       newMessageID,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("module", "conversation"))
	return c
}

// newMessageID returns a time-ordered UUID, so ids stay unique under rapid submissions and still sort
// in creation order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// SetDraftText replaces the text of the draft.
func (c *Controller) SetDraftText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.DraftText = text
	c.notify()
}

// StageImage makes image the draft attachment, replacing and releasing any image staged before.
func (c *Controller) StageImage(ctx context.Context, image models.Attachment) error {
	url, err := c.previews.Acquire(ctx, image)
	if err != nil {
		return fmt.Errorf("failed to acquire preview: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.DraftPreview
	c.state.DraftImage = &image
	c.state.DraftPreview = url
	c.notify()

	c.releaseDraftPreview(ctx, prev)
	return nil
}

// ClearStagedImage removes the draft attachment, if any.
func (c *Controller) ClearStagedImage(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.DraftPreview
	c.state.DraftImage = nil
	c.state.DraftPreview = ""
	c.notify()

	c.releaseDraftPreview(ctx, prev)
}

// Submit sends the draft to the video generation service. It reports false, leaving the state
// untouched, when the draft is empty or another submission has not settled yet.
//
// The user message and the generating placeholder are appended before Submit returns. The request
// itself runs in the background and is never cancelled, not even by ctx; once it settles the
// placeholder is replaced by the reply, or by an error message, in a single transition.
func (c *Controller) Submit(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepts(c.state.DraftText) {
		return false
	}
	c.submit(ctx)
	return true
}

// SubmitPrompt sets the draft text to text and submits the draft in one step. A submit that would be
// skipped leaves the draft text as it was.
func (c *Controller) SubmitPrompt(ctx context.Context, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepts(text) {
		return false
	}
	c.state.DraftText = text
	c.submit(ctx)
	return true
}

func (c *Controller) accepts(text string) bool {
	if c.state.IsSubmitting {
		return false
	}
	return strings.TrimSpace(text) != "" || c.state.DraftImage != nil
}

// submit must be called with c.mu held.
func (c *Controller) submit(ctx context.Context) {

	req := models.GenerateRequest{Prompt: c.state.DraftText}
	if c.state.DraftImage != nil {
		img := *c.state.DraftImage
		req.Image = &img
	}
	preview := c.state.DraftPreview

	userMsg := c.message(models.RoleUser, c.state.DraftText)
	userMsg.ImageURL = preview
	if preview != "" {
		c.owned = append(c.owned, preview)
	}

	placeholder := c.message(models.RoleAssistant, c.placeholder)
	placeholder.IsGenerating = true

	c.state.Messages = append(c.state.Messages, userMsg, placeholder)
	c.state.DraftText = ""
	c.state.IsSubmitting = true
	c.notify()

	c.inflight.Add(1)
	go c.generate(context.WithoutCancel(ctx), req)
}

// Wait blocks until the running submission, if any, has settled.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close releases every preview owned by the conversation. It waits for a running submission first.
func (c *Controller) Close(ctx context.Context) error {
	c.Wait()

	c.mu.Lock()
	urls := c.owned
	c.owned = nil
	if c.state.DraftPreview != "" {
		urls = append(urls, c.state.DraftPreview)
		c.state.DraftImage = nil
		c.state.DraftPreview = ""
	}
	c.mu.Unlock()

	var errs []error
	for _, url := range urls {
		if err := c.previews.Release(ctx, url); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to release %d previews: %w", len(errs), errs[0])
	}
	return nil
}

func (c *Controller) generate(ctx context.Context, req models.GenerateRequest) {
	defer c.inflight.Done()

	reply, err := c.generator.Generate(ctx, req)

	var terminal models.Message
	if err != nil {
		terminal = c.message(models.RoleAssistant, errorContent(err))
	} else {
		terminal = c.message(models.RoleAssistant, reply)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Messages = slices.DeleteFunc(c.state.Messages, func(m models.Message) bool {
		return m.IsGenerating
	})
	c.state.Messages = append(c.state.Messages, terminal)
	c.state.IsSubmitting = false

	// An image staged while the request was running is dropped too. The submitted one belongs to
	// the user message and is skipped by releaseDraftPreview.
	stale := c.state.DraftPreview
	c.state.DraftImage = nil
	c.state.DraftPreview = ""
	c.notify()

	c.releaseDraftPreview(ctx, stale)
}

func errorContent(err error) string {
	msg := err.Error()
	if msg == "" {
		msg = fallbackFailure
	}
	return errorPrefix + msg
}

func (c *Controller) message(role models.Role, content string) models.Message {
	return models.Message{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
}

func (c *Controller) releaseDraftPreview(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if slices.Contains(c.owned, url) {
		return
	}
	if err := c.previews.Release(ctx, url); err != nil {
		c.logger.Warn("Failed to release preview",
			slog.String("url", url),
			slog.String(errLoggerKey, err.Error()))
	}
}

// notify must be called with c.mu held.
func (c *Controller) notify() {
	c.state.Version++
	if c.observer == nil {
		return
	}
	c.observer(c.snapshot())
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Messages = slices.Clone(c.state.Messages)
	if c.state.DraftImage != nil {
		img := *c.state.DraftImage
		s.DraftImage = &img
	}
	return s
}
