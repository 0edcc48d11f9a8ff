package refill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/petrol-logger/internal/extract"
	"github.com/zombor/petrol-logger/internal/inbox"
	"github.com/zombor/petrol-logger/internal/ledger"
)

// Extractor parses a decoded email body into a receipt
type Extractor interface {
	Extract(body string) (*extract.Receipt, error)
}

// Confirmer obtains a mileage strictly greater than previous from the user
type Confirmer interface {
	Confirm(ctx context.Context, previous int) (int, error)
}

// IDGenerator generates unique IDs for journal entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs inbound messages through extraction, confirmation and the ledger
type Service struct {
	db          DB
	extractor   Extractor
	confirmer   Confirmer
	ledger      ledger.Writer
	baseline    ledger.BaselineStore
	archive     Archive
	idGenerator IDGenerator
	timeSource  TimeSource

	// mu serializes baseline load through baseline save
	mu sync.Mutex
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor Extractor, confirmer Confirmer, writer ledger.Writer, baseline ledger.BaselineStore, archive Archive) *Service {
	return NewServiceWithDeps(db, extractor, confirmer, writer, baseline, archive, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, confirmer Confirmer, writer ledger.Writer, baseline ledger.BaselineStore, archive Archive, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		confirmer:   confirmer,
		ledger:      writer,
		baseline:    baseline,
		archive:     archive,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// HandleMessage implements inbox.Handler
func (s *Service) HandleMessage(ctx context.Context, env inbox.Envelope) error {
	_, err := s.ProcessMessage(ctx, env)
	return err
}

// ProcessMessage logs the refill described by env.
// It returns (nil, nil) for messages that are not receipts.
func (s *Service) ProcessMessage(ctx context.Context, env inbox.Envelope) (*Refill, error) {
	receipt, err := s.extractor.Extract(env.Body)
	if errors.Is(err, extract.ErrNotApplicable) {
		slog.Debug("Ignoring message without receipt marker", "sender", env.From, "subject", env.Subject)
		return nil, nil
	}
	if err != nil {
		s.reject(env, err)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.baseline.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}

	mileage, err := s.confirmer.Confirm(ctx, previous)
	if err != nil {
		return nil, fmt.Errorf("confirming mileage: %w", err)
	}

	entry := ledger.Entry{
		Date:         receipt.DDMMYY(),
		Mileage:      mileage,
		Refilled:     receipt.VolumeLitres,
		CostPerLitre: receipt.PricePerLitre,
	}
	row, err := s.ledger.AppendRecord(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("appending to ledger: %w", err)
	}
	slog.Info("Logged refill", "date", entry.Date, "mileage", entry.Mileage, "refilled", entry.Refilled, "cost_per_litre", entry.CostPerLitre, "row", row)

	if err := s.baseline.Save(ctx, mileage); err != nil {
		return nil, fmt.Errorf("saving baseline: %w", err)
	}

	refill := &Refill{
		ID:            s.idGenerator.Generate(),
		Date:          entry.Date,
		Mileage:       mileage,
		VolumeLitres:  entry.Refilled,
		PricePerLitre: entry.CostPerLitre,
		Previous:      previous,
		Row:           row,
		Sender:        env.From,
		MessageID:     env.MessageID,
		CreatedAt:     s.timeSource.Now(),
	}
	if err := s.db.SaveRefill(refill); err != nil {
		// The ledger row is already written; only the journal entry is missing
		slog.Warn("Failed to journal refill", "row", row, "error", err)
	}
	return refill, nil
}

// reject records a receipt that could not be parsed and archives its raw message
func (s *Service) reject(env inbox.Envelope, cause error) {
	reject := &Reject{
		ID:        s.idGenerator.Generate(),
		Sender:    env.From,
		MessageID: env.MessageID,
		Subject:   env.Subject,
		Reason:    cause.Error(),
		CreatedAt: s.timeSource.Now(),
	}
	var perr *extract.ParseError
	if errors.As(cause, &perr) {
		reject.Step = string(perr.Step)
		reject.Field = string(perr.Field)
	}

	if len(env.Raw) > 0 {
		name, err := s.archive.Save(reject.ID, env.Raw)
		if err != nil {
			slog.Warn("Failed to archive rejected message", "sender", env.From, "error", err)
		} else {
			reject.Filename = name
		}
	}

	if err := s.db.SaveReject(reject); err != nil {
		slog.Warn("Failed to record rejected message", "sender", env.From, "error", err)
		if reject.Filename != "" {
			if err := s.archive.Delete(reject.Filename); err != nil {
				slog.Warn("Failed to remove archived message", "filename", reject.Filename, "error", err)
			}
		}
	}
}

// GetRefill retrieves a refill by ID
func (s *Service) GetRefill(id string) (*Refill, error) {
	refill, err := s.db.GetRefill(id)
	if err != nil {
		return nil, fmt.Errorf("getting refill: %w", err)
	}
	return refill, nil
}

// ListRefills returns all refills
func (s *Service) ListRefills() ([]*Refill, error) {
	refills, err := s.db.ListRefills()
	if err != nil {
		return nil, fmt.Errorf("listing refills: %w", err)
	}
	return refills, nil
}

// ListRejects returns all rejected receipts
func (s *Service) ListRejects() ([]*Reject, error) {
	rejects, err := s.db.ListRejects()
	if err != nil {
		return nil, fmt.Errorf("listing rejects: %w", err)
	}
	return rejects, nil
}

// GetRejectRaw retrieves the archived message of a rejected receipt
func (s *Service) GetRejectRaw(id string) ([]byte, error) {
	reject, err := s.db.GetReject(id)
	if err != nil {
		return nil, fmt.Errorf("getting reject: %w", err)
	}
	if reject.Filename == "" {
		return nil, fmt.Errorf("reject %s has no archived message", id)
	}
	data, err := s.archive.Get(reject.Filename)
	if err != nil {
		return nil, fmt.Errorf("getting archived message: %w", err)
	}
	return data, nil
}

// Baseline returns the current baseline mileage
func (s *Service) Baseline(ctx context.Context) (int, error) {
	mileage, err := s.baseline.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading baseline: %w", err)
	}
	return mileage, nil
}
