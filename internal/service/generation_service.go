package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

var ErrNoImage = errors.New("the model did not generate an image, please try again with a different prompt")

const (
	maxPromptLength     = 4000
	compensationTimeout = 30 * time.Second
	staleBatchSize      = 100
	signedURLTTL        = 15 * time.Minute

	interruptedMessage = "Generation was interrupted. Your credits have been refunded."
)

// ImageGenerator produces an image for a fully built prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, opts models.GenerateOptions) (*models.GeneratedImage, error)
}

// ArtifactStore persists generated images and returns a public URL.
type ArtifactStore interface {
	Key(userID, generationID, contentType string) string
	Put(ctx context.Context, data []byte, contentType, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// privateStore is implemented by stores whose objects are read through
// short-lived presigned URLs.
type privateStore interface {
	Private() bool
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

type GenerationService struct {
	db          *sql.DB
	generations *repository.GenerationRepository
	ledger      *LedgerService
	generator   ImageGenerator
	store       ArtifactStore
	notifier    Notifier
	credits     int
	timeout     time.Duration
	log         *slog.Logger
}

type GenerationConfig struct {
	CreditsPerGeneration int
	Timeout              time.Duration
}

type CreateGenerationInput struct {
	Prompt          string
	AspectRatio     string
	ImageSize       string
	CreditsRequired int
}

type CompleteInput struct {
	Data         []byte
	MimeType     string
	URL          string
	TextResponse string
}

type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	ImageSize   string `json:"image_size"`
}

type GenerateResult struct {
	Generation *models.Generation `json:"generation"`
	Balance    *models.Balance    `json:"balance,omitempty"`
}

// NewGenerationService wires the workflow. store may be nil, in which case
// images are always kept inline.
func NewGenerationService(db *sql.DB, generations *repository.GenerationRepository, ledger *LedgerService, generator ImageGenerator, store ArtifactStore, notifier Notifier, cfg GenerationConfig, log *slog.Logger) *GenerationService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &GenerationService{
		db:          db,
		generations: generations,
		ledger:      ledger,
		generator:   generator,
		store:       store,
		notifier:    notifier,
		credits:     cfg.CreditsPerGeneration,
		timeout:     cfg.Timeout,
		log:         log,
	}
}

// Create inserts a pending generation and debits its cost in one transaction.
func (s *GenerationService) Create(ctx context.Context, userID string, in CreateGenerationInput) (*models.Generation, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, models.Validationf("please provide a description for your infographic")
	}
	if len(prompt) > maxPromptLength {
		return nil, models.Validationf("prompt is longer than %d characters", maxPromptLength)
	}
	aspectRatio, imageSize, err := normalizeImageOptions(in.AspectRatio, in.ImageSize)
	if err != nil {
		return nil, models.Validationf("%v", err)
	}
	credits := in.CreditsRequired
	if credits < 0 {
		return nil, models.Validationf("credits required must not be negative")
	}
	if credits == 0 {
		credits = s.credits
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.Balance < credits {
		return nil, models.ErrInsufficientCredits
	}

	gen := &models.Generation{
		ID:          ids.New(ids.Generation),
		UserID:      userID,
		Prompt:      prompt,
		AspectRatio: aspectRatio,
		ImageSize:   imageSize,
		Status:      models.GenerationPending,
		CreditsUsed: credits,
		CreatedAt:   time.Now().UTC(),
	}
	err = database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.generations.WithTx(tx).Create(ctx, gen); err != nil {
			return err
		}
		_, err := s.ledger.DebitTx(ctx, tx, userID, credits, gen.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	return gen, nil
}

// Complete stores the result of a generation owned by userID. A URL wins over
// inline data.
func (s *GenerationService) Complete(ctx context.Context, userID, generationID string, in CompleteInput) (*models.Generation, error) {
	var metadata map[string]string
	if in.TextResponse != "" {
		metadata = map[string]string{"text_response": in.TextResponse}
	}
	if in.URL == "" && len(in.Data) == 0 {
		return nil, models.Validationf("completion needs an image url or image data")
	}
	ok, err := s.generations.Complete(ctx, userID, generationID, in.URL, in.Data, in.MimeType, metadata, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, userID, generationID)
	}
	gen, err := s.generations.GetForUser(ctx, userID, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
	}
	return gen, nil
}

// Fail marks the generation failed and refunds its credits in one transaction.
// On an already terminal generation it does nothing and reports no refund.
func (s *GenerationService) Fail(ctx context.Context, userID, generationID, message string) (bool, error) {
	refunded := false
	err := database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		generations := s.generations.WithTx(tx)
		ok, err := generations.Fail(ctx, userID, generationID, message, time.Now().UTC())
		if err != nil {
			return err
		}
		gen, err := generations.GetForUser(ctx, userID, generationID)
		if err != nil {
			return err
		}
		if gen == nil {
			return fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
		}
		if !ok {
			return nil
		}
		refunded, err = s.ledger.RefundTx(ctx, tx, gen)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("fail generation: %w", err)
	}
	return refunded, nil
}

func (s *GenerationService) transitionError(ctx context.Context, userID, generationID string) error {
	gen, err := s.generations.GetForUser(ctx, userID, generationID)
	if err != nil {
		return err
	}
	if gen == nil {
		return fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
	}
	return fmt.Errorf("generation %s is already %s: %w", generationID, gen.Status, models.ErrConflict)
}

// Generate runs the whole workflow: charge, call the model, store the image and
// complete, or fail and refund. Everything after the charge is detached from
// the caller's cancellation so credits are never stranded by a dropped
// connection.
func (s *GenerationService) Generate(ctx context.Context, identity models.Identity, req GenerateRequest) (*GenerateResult, error) {
	if identity.UserID == "" {
		return nil, models.ErrUnauthenticated
	}
	gen, err := s.Create(ctx, identity.UserID, CreateGenerationInput{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.run(runCtx, identity.UserID, gen)
}

func (s *GenerationService) run(ctx context.Context, userID string, gen *models.Generation) (result *GenerateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("generation panicked", "generation_id", gen.ID, "panic", r)
			result, err = nil, s.failGeneration(ctx, userID, gen, fmt.Errorf("generation panicked: %v", r))
		}
	}()

	if _, err := s.generations.MarkProcessing(ctx, userID, gen.ID); err != nil {
		s.log.Warn("failed to mark generation processing", "generation_id", gen.ID, "err", err)
	}

	start := time.Now()
	image, err := s.generator.Generate(ctx, models.GenerateOptions{
		Prompt:      buildInfographicPrompt(gen.Prompt),
		AspectRatio: gen.AspectRatio,
		ImageSize:   gen.ImageSize,
	})
	if err != nil {
		return nil, s.failGeneration(ctx, userID, gen, err)
	}
	if image == nil || len(image.Data) == 0 {
		if image != nil && image.Text != "" {
			s.log.Info("model answered without an image", "generation_id", gen.ID, "text", image.Text)
		}
		return nil, s.failGeneration(ctx, userID, gen, ErrNoImage)
	}
	s.log.Info("image generated", "generation_id", gen.ID, "bytes", len(image.Data), "duration", time.Since(start))

	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	complete := CompleteInput{MimeType: mimeType, TextResponse: image.Text}
	var storedKey string
	if s.store != nil {
		key := s.store.Key(userID, gen.ID, mimeType)
		url, err := s.store.Put(ctx, image.Data, mimeType, key)
		if err != nil {
			s.log.Warn("artifact upload failed, keeping image inline", "generation_id", gen.ID, "err", err)
			complete.Data = image.Data
		} else {
			complete.URL = url
			storedKey = key
		}
	} else {
		complete.Data = image.Data
	}

	completed, err := s.Complete(ctx, userID, gen.ID, complete)
	if err != nil {
		if storedKey != "" {
			s.removeArtifact(ctx, gen.ID, storedKey)
		}
		return nil, s.failGeneration(ctx, userID, gen, err)
	}

	result = &GenerateResult{Generation: completed}
	if balance, err := s.ledger.GetBalance(ctx, userID); err != nil {
		s.log.Warn("failed to read balance after generation", "user_id", userID, "err", err)
	} else {
		result.Balance = balance
	}
	return result, nil
}

// failGeneration runs the compensation on a fresh deadline, since the
// generation context may already be expired, and returns cause wrapped.
func (s *GenerationService) failGeneration(ctx context.Context, userID string, gen *models.Generation, cause error) error {
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	s.log.Error("generation failed", "generation_id", gen.ID, "user_id", userID, "err", cause)
	refunded, err := s.Fail(compCtx, userID, gen.ID, failureMessage(cause))
	if err != nil {
		s.log.Error("failed to refund generation", "generation_id", gen.ID, "credits", gen.CreditsUsed, "err", err)
		if s.notifier != nil {
			body := fmt.Sprintf("generation %s of user %s failed and %d credits could not be refunded: %v", gen.ID, userID, gen.CreditsUsed, err)
			if nerr := s.notifier.Notify(compCtx, "Refund failed", body); nerr != nil {
				s.log.Error("failed to send alert", "err", nerr)
			}
		}
	} else if refunded {
		s.log.Info("generation refunded", "generation_id", gen.ID, "credits", gen.CreditsUsed)
	}
	return fmt.Errorf("generation %s: %w", gen.ID, cause)
}

// removeArtifact deletes an uploaded image that no generation row points to.
func (s *GenerationService) removeArtifact(ctx context.Context, generationID, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.store.Delete(delCtx, key); err != nil {
		s.log.Warn("failed to delete orphaned image", "generation_id", generationID, "key", key, "err", err)
	}
}

// DrainTimeout is the longest a Generate call can run once credits are
// charged: the generation deadline plus the compensation deadline.
func (s *GenerationService) DrainTimeout() time.Duration {
	return s.timeout + compensationTimeout
}

// RecoverStale fails and refunds generations still pending or processing
// olderThan after creation. Those were interrupted by a crash or a hard kill;
// a live Generate finishes within DrainTimeout. It returns the number of
// generations refunded.
func (s *GenerationService) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < s.DrainTimeout() {
		olderThan = s.DrainTimeout()
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	recovered := 0
	for {
		stale, err := s.generations.ListStale(ctx, cutoff, staleBatchSize)
		if err != nil {
			return recovered, fmt.Errorf("list stale generations: %w", err)
		}
		var errs []error
		for _, gen := range stale {
			refunded, err := s.Fail(ctx, gen.UserID, gen.ID, interruptedMessage)
			if err != nil {
				s.log.Error("failed to recover interrupted generation", "generation_id", gen.ID, "user_id", gen.UserID, "err", err)
				errs = append(errs, err)
				continue
			}
			s.log.Warn("recovered interrupted generation", "generation_id", gen.ID, "user_id", gen.UserID, "status", gen.Status, "refunded", refunded)
			if refunded {
				recovered++
			}
		}
		// rows that failed to recover are still stale; stop rather than relist them
		if len(errs) > 0 {
			return recovered, errors.Join(errs...)
		}
		if len(stale) < staleBatchSize {
			return recovered, nil
		}
	}
}

func failureMessage(err error) string {
	var extErr *models.ExternalError
	if errors.As(err, &extErr) {
		return extErr.UserMessage()
	}
	if errors.Is(err, ErrNoImage) {
		return "The AI did not generate an image. Please try again with a different prompt."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Generation timed out. Please try again."
	}
	return "Failed to generate infographic. Please try again."
}

func (s *GenerationService) Get(ctx context.Context, userID, generationID string) (*models.Generation, error) {
	if err := ids.Validate(generationID, ids.Generation); err != nil {
		return nil, fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
	}
	gen, err := s.generations.GetForUser(ctx, userID, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("generation %s: %w", generationID, models.ErrNotFound)
	}
	return gen, nil
}

func (s *GenerationService) List(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	gens, err := s.generations.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return gens, nil
}

// ImageLink returns where the generation's stored image can be fetched: a
// presigned URL for private buckets, the stored URL otherwise. It is empty
// for inline images.
func (s *GenerationService) ImageLink(ctx context.Context, gen *models.Generation) (string, error) {
	if gen.ImageURL == "" {
		return "", nil
	}
	ps, ok := s.store.(privateStore)
	if !ok || !ps.Private() {
		return gen.ImageURL, nil
	}
	link, err := ps.SignedURL(ctx, s.store.Key(gen.UserID, gen.ID, gen.ImageMime), signedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign image url: %w", err)
	}
	return link, nil
}

// Delete removes a finished generation and, best effort, its stored image.
func (s *GenerationService) Delete(ctx context.Context, userID, generationID string) error {
	gen, err := s.Get(ctx, userID, generationID)
	if err != nil {
		return err
	}
	if !gen.Status.Terminal() {
		return fmt.Errorf("generation %s is still %s: %w", generationID, gen.Status, models.ErrConflict)
	}
	ok, err := s.generations.Delete(ctx, userID, generationID)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionError(ctx, userID, generationID)
	}
	if gen.ImageURL != "" && s.store != nil {
		if err := s.store.Delete(ctx, s.store.Key(userID, generationID, gen.ImageMime)); err != nil {
			s.log.Warn("failed to delete stored image", "generation_id", generationID, "err", err)
		}
	}
	return nil
}
