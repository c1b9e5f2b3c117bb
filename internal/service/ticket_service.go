package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
)

const defaultTicketAttempts = 10

type ticketBackend interface {
	IssueTicket(ctx context.Context, p string) (string, error)
	GetMetadata(ctx context.Context, p string) (map[string]string, error)
	SetMetadata(ctx context.Context, p string, values map[string]string) error
	RemoveMetadata(ctx context.Context, p, key string) error
}

// IssuedTicket is a URL-safe ticket and its encoded form.
type IssuedTicket struct {
	Raw     string
	Encoded string
}

// TicketService obtains capability tickets and persists them as artifact metadata.
type TicketService struct {
	backend     ticketBackend
	metrics     *MetricsService
	logger      *zap.Logger
	maxAttempts int
}

// NewTicketService constructs a ticket service. maxAttempts bounds resampling.
func NewTicketService(backend ticketBackend, metrics *MetricsService, logger *zap.Logger, maxAttempts int) *TicketService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultTicketAttempts
	}
	return &TicketService{backend: backend, metrics: metrics, logger: logger, maxAttempts: maxAttempts}
}

// EncodeTicket returns the form of a ticket embedded in URLs and stored as iticket_code.
func EncodeTicket(raw string) string {
	return url.QueryEscape(raw)
}

// Issue requests tickets until one without '/' or '%' is returned.
func (s *TicketService) Issue(ctx context.Context, p string) (*IssuedTicket, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		raw, err := s.backend.IssueTicket(ctx, p)
		if err != nil {
			return nil, mapBackendError(err, "failed to issue download ticket")
		}
		if !strings.ContainsAny(raw, "/%") {
			return &IssuedTicket{Raw: raw, Encoded: EncodeTicket(raw)}, nil
		}
		s.metrics.RecordTicketResample()
		s.logger.Debug("discarding ticket that is not url safe", zap.String("path", p), zap.Int("attempt", attempt))
	}

	s.logger.Error("ticket resampling exhausted", zap.String("path", p), zap.Int("attempts", s.maxAttempts))
	return nil, appErrors.ErrTicketExhausted
}

// Persist replaces the ticket record of an artifact and bumps its version.
// The replacement is remove-then-set; the last writer wins.
func (s *TicketService) Persist(ctx context.Context, p, encoded, downloadURL string) (*models.TicketRecord, error) {
	current, err := s.Load(ctx, p)
	if err != nil {
		return nil, err
	}

	for _, key := range []string{models.MetadataTicketCode, models.MetadataDownloadURL} {
		if err := s.backend.RemoveMetadata(ctx, p, key); err != nil {
			return nil, mapBackendError(err, "failed to reset download ticket")
		}
	}

	record := &models.TicketRecord{Code: encoded, URL: downloadURL, Version: current.Version + 1}
	err = s.backend.SetMetadata(ctx, p, map[string]string{
		models.MetadataTicketCode:    record.Code,
		models.MetadataDownloadURL:   record.URL,
		models.MetadataTicketVersion: strconv.FormatInt(record.Version, 10),
	})
	if err != nil {
		return nil, mapBackendError(err, "failed to store download ticket")
	}

	s.metrics.RecordTicketIssued()
	return record, nil
}

// Load reads the ticket record of an artifact. Missing keys yield empty fields.
func (s *TicketService) Load(ctx context.Context, p string) (*models.TicketRecord, error) {
	meta, err := s.backend.GetMetadata(ctx, p)
	if err != nil {
		return nil, mapBackendError(err, "failed to read artifact metadata")
	}
	record := &models.TicketRecord{
		Code: meta[models.MetadataTicketCode],
		URL:  meta[models.MetadataDownloadURL],
	}
	if raw := meta[models.MetadataTicketVersion]; raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			record.Version = v
		}
	}
	return record, nil
}
