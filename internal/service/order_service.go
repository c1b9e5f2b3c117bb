package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	appErrors "github.com/noah-isme/orders-api/pkg/errors"
	"github.com/noah-isme/orders-api/pkg/storage"
)

const backupSuffix = ".bak"

type orderStorage interface {
	IsCollection(ctx context.Context, p string) (bool, error)
	IsDataObject(ctx context.Context, p string) (bool, error)
	List(ctx context.Context, p string) (map[string]storage.Entry, error)
	CreateCollectionInheritable(ctx context.Context, p, owner string) error
	GetMetadata(ctx context.Context, p string) (map[string]string, error)
}

type orderTicketIssuer interface {
	Issue(ctx context.Context, p string) (*IssuedTicket, error)
	Persist(ctx context.Context, p, encoded, downloadURL string) (*models.TicketRecord, error)
}

type taskDispatcher interface {
	Dispatch(ctx context.Context, name string, payload interface{}) (string, error)
}

// OrderServiceConfig locates order collections and shapes download links.
type OrderServiceConfig struct {
	OrdersRoot string
	LocalRoot  string
	PublicHost string
	APIPrefix  string
}

// OrderService implements the authenticated order operations.
type OrderService struct {
	storage    orderStorage
	tickets    orderTicketIssuer
	dispatcher taskDispatcher
	validator  *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        OrderServiceConfig
}

// NewOrderService constructs the service with defaults.
func NewOrderService(store orderStorage, tickets orderTicketIssuer, dispatcher taskDispatcher, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg OrderServiceConfig) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.OrdersRoot == "" {
		cfg.OrdersRoot = "/orders"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	cfg.PublicHost = bareHost(cfg.PublicHost)
	return &OrderService{
		storage:    store,
		tickets:    tickets,
		dispatcher: dispatcher,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// OrderNotFound is the single error returned for absent or inaccessible orders.
func OrderNotFound(orderID string) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("Order '%s' not found (or no permissions)", orderID))
}

// OrderPath returns the collection path of an order.
func (s *OrderService) OrderPath(orderID string) string {
	return orderPath(s.cfg.OrdersRoot, orderID)
}

// List returns the visible entries of an order with their last issued download URL.
func (s *OrderService) List(ctx context.Context, orderID string) ([]models.OrderEntry, error) {
	if !validOrderID(orderID) {
		return nil, OrderNotFound(orderID)
	}
	p := s.OrderPath(orderID)

	entries, err := s.existingEntries(ctx, orderID, p)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(entries))
	for name := range entries {
		names[name] = struct{}{}
	}
	hidden := models.SupersededNames(orderID, names)

	result := make([]models.OrderEntry, 0, len(entries))
	for name, entry := range entries {
		if _, skip := hidden[name]; skip || strings.HasSuffix(name, backupSuffix) {
			continue
		}
		item := models.OrderEntry{
			Name:          entry.Name,
			Path:          entry.Path,
			ContentLength: entry.ContentLength,
			ModifiedAt:    entry.ModifiedAt,
			Collection:    entry.Collection,
		}
		if !entry.Collection {
			meta, err := s.storage.GetMetadata(ctx, entry.Path)
			if err != nil {
				return nil, mapBackendError(err, "failed to read order metadata")
			}
			item.URL = meta[models.MetadataDownloadURL]
		}
		result = append(result, item)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Prepare validates a preparation request, creates the order collection when needed
// and dispatches the archive build unless the archive already exists.
func (s *OrderService) Prepare(ctx context.Context, owner string, input map[string]interface{}) (*models.PrepareOrderResult, error) {
	params, err := s.normalizePrepareParams(input)
	if err != nil {
		return nil, err
	}

	p := s.OrderPath(params.OrderID)
	exists, err := s.storage.IsCollection(ctx, p)
	if err != nil {
		return nil, mapBackendError(err, "failed to check order collection")
	}
	if !exists {
		if err := s.storage.CreateCollectionInheritable(ctx, p, owner); err != nil {
			return nil, mapBackendError(err, "failed to create order collection")
		}
		s.logger.Info("order collection created", zap.String("order_id", params.OrderID), zap.String("owner", owner))
	}

	zipPath := storage.Join(p, params.FileName)
	built, err := s.storage.IsDataObject(ctx, zipPath)
	if err != nil {
		return nil, mapBackendError(err, "failed to check order archive")
	}
	if built {
		s.logger.Info("order archive already exists", zap.String("order_id", params.OrderID), zap.String("path", zipPath))
		return &models.PrepareOrderResult{Status: models.PrepareStatusExists}, nil
	}

	if len(params.PIDs) == 0 {
		return &models.PrepareOrderResult{Status: models.PrepareStatusEnabled}, nil
	}

	taskID, err := s.dispatcher.Dispatch(ctx, models.TaskPrepareOrder, models.PrepareOrderTask{
		OrderID:    params.OrderID,
		OrderPath:  p,
		ZipName:    params.FileName,
		Parameters: params.Raw,
		Owner:      owner,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch order preparation")
	}
	s.metrics.RecordTaskDispatched(models.TaskPrepareOrder)
	return &models.PrepareOrderResult{TaskID: taskID}, nil
}

// IssueDownloadLinks issues a fresh ticket and public URL for every artifact of an order.
func (s *OrderService) IssueDownloadLinks(ctx context.Context, orderID string) ([]models.DownloadLink, error) {
	if !validOrderID(orderID) {
		return nil, OrderNotFound(orderID)
	}
	p := s.OrderPath(orderID)

	entries, err := s.existingEntries(ctx, orderID, p)
	if err != nil {
		return nil, err
	}
	exists := func(name string) bool {
		entry, ok := entries[name]
		return ok && !entry.Collection
	}

	links := make([]models.DownloadLink, 0)
	for _, restricted := range models.RestrictionClasses {
		for _, artifact := range models.DiscoverSeries(orderID, restricted, exists) {
			name := artifact.Name()
			artifactPath := storage.Join(p, name)

			ticket, err := s.tickets.Issue(ctx, artifactPath)
			if err != nil {
				return nil, err
			}
			link := s.DownloadURL(orderID, artifact.Ftype(), ticket.Encoded)
			if _, err := s.tickets.Persist(ctx, artifactPath, ticket.Encoded, link); err != nil {
				return nil, err
			}

			links = append(links, models.DownloadLink{Name: name, URL: link, Size: entries[name].ContentLength})
		}
	}

	if len(links) == 0 {
		return nil, OrderNotFound(orderID)
	}
	return links, nil
}

// RequestDeletion dispatches a bulk deletion. Parameter validation happens in the task
// so that failures are reported through the completion callback.
func (s *OrderService) RequestDeletion(ctx context.Context, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	taskID, err := s.dispatcher.Dispatch(ctx, models.TaskDeleteOrders, models.DeleteOrdersTask{
		OrdersRoot: s.cfg.OrdersRoot,
		LocalRoot:  s.cfg.LocalRoot,
		Parameters: params,
	})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch order deletion")
	}
	s.metrics.RecordTaskDispatched(models.TaskDeleteOrders)
	return taskID, nil
}

// DownloadURL builds the public download URL of an artifact.
func (s *OrderService) DownloadURL(orderID, ftype, encodedCode string) string {
	return fmt.Sprintf("%s%s/orders/%s/download/%s/c/%s", s.cfg.PublicHost, s.cfg.APIPrefix, orderID, ftype, encodedCode)
}

func (s *OrderService) existingEntries(ctx context.Context, orderID, p string) (map[string]storage.Entry, error) {
	exists, err := s.storage.IsCollection(ctx, p)
	if err != nil {
		return nil, mapBackendError(err, "failed to check order collection")
	}
	if !exists {
		return nil, OrderNotFound(orderID)
	}
	entries, err := s.storage.List(ctx, p)
	if err != nil {
		mapped := mapBackendError(err, "failed to list order collection")
		if appErrors.FromError(mapped).Code == appErrors.ErrNotFound.Code {
			return nil, OrderNotFound(orderID)
		}
		return nil, mapped
	}
	return entries, nil
}

func (s *OrderService) normalizePrepareParams(body map[string]interface{}) (*models.PrepareOrderParams, error) {
	input := body
	nested, isNested := body["parameters"].(map[string]interface{})
	if isNested {
		input = nested
	}
	if len(input) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty parameters")
	}

	orderID := stringValue(input["order_number"])
	if orderID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "parameter 'order_number' is required")
	}
	if !validOrderID(orderID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid 'order_number'")
	}

	pids, err := stringSlice(input["pids"])
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "parameter 'pids' must be a list of strings")
	}

	fileName := models.ArtifactName(orderID, false, 0)
	if requested := stringValue(input["file_name"]); requested != "" && requested != fileName {
		s.logger.Warn("ignoring requested archive name", zap.String("order_id", orderID), zap.String("requested", requested), zap.String("file_name", fileName))
	}

	raw := copyMap(body)
	if isNested {
		inner := copyMap(nested)
		inner["file_name"] = fileName
		raw["parameters"] = inner
	} else {
		raw["file_name"] = fileName
	}

	params := &models.PrepareOrderParams{OrderID: orderID, PIDs: pids, FileName: fileName, Raw: raw}
	if err := s.validator.Struct(params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid order parameters")
	}
	return params, nil
}

func orderPath(root, orderID string) string {
	return storage.Join(root, orderID)
}

func validOrderID(orderID string) bool {
	if orderID == "" || orderID == "." || orderID == ".." {
		return false
	}
	return !strings.ContainsAny(orderID, `/\`)
}

func bareHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func stringSlice(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return val, nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected list item %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}
