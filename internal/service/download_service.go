package service

import (
	"context"
	"io"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/storage"
)

type downloadStorage interface {
	IsDataObject(ctx context.Context, p string) (bool, error)
	AnonymousSession(ctx context.Context) (storage.TicketSession, error)
}

type ticketLoader interface {
	Load(ctx context.Context, p string) (*models.TicketRecord, error)
}

// Download is an artifact ready to be streamed to an anonymous caller.
type Download struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.ReadCloser
}

// accessDecision is the single outcome of the download gate. reason is logged, never returned.
type accessDecision struct {
	granted bool
	reason  string
	session storage.TicketSession
	version int64
}

func deny(reason string) accessDecision {
	return accessDecision{reason: reason}
}

// DownloadService gates public downloads behind persisted capability tickets.
type DownloadService struct {
	storage    downloadStorage
	tickets    ticketLoader
	metrics    *MetricsService
	logger     *zap.Logger
	ordersRoot string
}

// NewDownloadService constructs the download gate.
func NewDownloadService(store downloadStorage, tickets ticketLoader, metrics *MetricsService, logger *zap.Logger, ordersRoot string) *DownloadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ordersRoot == "" {
		ordersRoot = "/orders"
	}
	return &DownloadService{storage: store, tickets: tickets, metrics: metrics, logger: logger, ordersRoot: ordersRoot}
}

// Open validates the code against the artifact ticket and opens the artifact stream
// on an anonymous session. Every denial yields the same Not-Found error.
func (s *DownloadService) Open(ctx context.Context, orderID, ftype, code string) (*Download, error) {
	restricted, index, err := models.ParseFtype(ftype)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "Invalid file type "+ftype)
	}

	name := models.ArtifactName(orderID, restricted, index)
	artifactPath := storage.Join(orderPath(s.ordersRoot, orderID), name)

	decision, err := s.decide(ctx, orderID, artifactPath, code)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDownloadDecision(decision.granted)
	if !decision.granted {
		s.logger.Info("download denied",
			zap.String("order_id", orderID),
			zap.String("ftype", ftype),
			zap.String("reason", decision.reason),
		)
		return nil, OrderNotFound(orderID)
	}

	if current, err := s.tickets.Load(ctx, artifactPath); err == nil && current.Version != decision.version {
		s.logger.Warn("ticket re-issued during download",
			zap.String("order_id", orderID),
			zap.String("artifact", name),
			zap.Int64("redeemed_version", decision.version),
			zap.Int64("current_version", current.Version),
		)
	}

	stream, err := decision.session.StreamTicket(ctx, artifactPath)
	if err != nil {
		_ = decision.session.Close()
		return nil, mapBackendError(err, "failed to open artifact")
	}

	return &Download{
		Name:        name,
		Size:        stream.Size,
		ContentType: stream.ContentType,
		Body:        &sessionReadCloser{ReadCloser: stream.Body, session: decision.session},
	}, nil
}

func (s *DownloadService) decide(ctx context.Context, orderID, artifactPath, code string) (accessDecision, error) {
	if !validOrderID(orderID) {
		return deny("invalid order id"), nil
	}

	isObject, err := s.storage.IsDataObject(ctx, artifactPath)
	if err != nil {
		return accessDecision{}, mapBackendError(err, "failed to check artifact")
	}
	if !isObject {
		return deny("artifact not found"), nil
	}

	record, err := s.tickets.Load(ctx, artifactPath)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return deny("artifact removed while checking"), nil
		}
		return accessDecision{}, err
	}
	if record.Code == "" {
		return deny("no ticket issued"), nil
	}
	if EncodeTicket(code) != record.Code {
		return deny("code mismatch"), nil
	}

	raw, err := url.QueryUnescape(record.Code)
	if err != nil {
		return deny("stored ticket is malformed"), nil
	}

	session, err := s.storage.AnonymousSession(ctx)
	if err != nil {
		return accessDecision{}, mapBackendError(err, "failed to open anonymous session")
	}
	session.SupplyTicket(raw)
	ok, err := session.TestTicket(ctx, artifactPath)
	if err != nil {
		_ = session.Close()
		return accessDecision{}, mapBackendError(err, "failed to redeem ticket")
	}
	if !ok {
		_ = session.Close()
		return deny("ticket redemption failed"), nil
	}

	return accessDecision{granted: true, session: session, version: record.Version}, nil
}

type sessionReadCloser struct {
	io.ReadCloser
	session storage.TicketSession
}

func (r *sessionReadCloser) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.session.Close(); err == nil {
		err = cerr
	}
	return err
}
