package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	omsv1 "github.com/vladislavdragonenkov/storefront/api/oms/v1"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// IdempotencyKeyHeader — metadata с ключом идемпотентности CreateOrder.
	IdempotencyKeyHeader = "idempotency-key"

	// ErrorCodeTrailer — trailer со стабильным кодом ошибки (domain.ErrorCode).
	ErrorCodeTrailer = "x-error-code"
	// ReservationTrailer — trailer с ID резерва, оставшегося без заказа.
	ReservationTrailer = "x-reservation-id"
)

// Orders — use case заказов, который обслуживает gRPC API.
type Orders interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	DeleteOrder(ctx context.Context, id int64) (domain.Order, error)
	Timeline(ctx context.Context, id int64) ([]domain.TimelineEvent, error)
}

// OrderService реализует oms.v1.OrderService поверх оркестратора заказов.
type OrderService struct {
	omsv1.UnimplementedOrderServiceServer

	orders   Orders
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewOrderService конструирует сервис. idemRepo может быть nil: тогда
// idempotency-key не требуется и ответы не кешируются.
func NewOrderService(orders Orders, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder оформляет заказ. Повтор с тем же idempotency-key отдаёт
// сохранённый ответ или ошибку и не списывает сток повторно.
func (s *OrderService) CreateOrder(ctx context.Context, req *omsv1.CreateOrderRequest) (*omsv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return s.withIdempotency(ctx, omsv1.OrderService_CreateOrder_FullMethodName, req, func(ctx context.Context) (*omsv1.CreateOrderResponse, error) {
		order, err := s.orders.CreateOrder(ctx, domain.OrderRequest{
			UserID:    req.GetUserId(),
			ProductID: req.GetProductId(),
			Quantity:  req.GetQuantity(),
		})
		if err != nil {
			return nil, err
		}
		return &omsv1.CreateOrderResponse{Order: toProtoOrder(order)}, nil
	})
}

// GetOrder возвращает заказ вместе с таймлайном.
func (s *OrderService) GetOrder(ctx context.Context, req *omsv1.GetOrderRequest) (*omsv1.GetOrderResponse, error) {
	if req.GetOrderId() <= 0 {
		return nil, s.toStatus(ctx, "GetOrder", fmt.Errorf("%w: order_id must be positive", domain.ErrInvalidRequest))
	}
	order, err := s.orders.GetOrder(ctx, req.GetOrderId())
	if err != nil {
		return nil, s.toStatus(ctx, "GetOrder", err)
	}

	resp := &omsv1.GetOrderResponse{Order: toProtoOrder(order)}
	events, err := s.orders.Timeline(ctx, order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to load order timeline")
		return resp, nil
	}
	for _, ev := range events {
		resp.Timeline = append(resp.Timeline, &omsv1.TimelineEvent{
			Type:       ev.Type,
			Reason:     ev.Reason,
			OccurredAt: ev.Occurred,
		})
	}
	return resp, nil
}

// ListOrders возвращает все заказы.
func (s *OrderService) ListOrders(ctx context.Context, _ *omsv1.ListOrdersRequest) (*omsv1.ListOrdersResponse, error) {
	orders, err := s.orders.ListOrders(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "ListOrders", err)
	}
	resp := &omsv1.ListOrdersResponse{Orders: make([]*omsv1.Order, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toProtoOrder(o))
	}
	return resp, nil
}

// DeleteOrder отменяет заказ. Сток не возвращается.
func (s *OrderService) DeleteOrder(ctx context.Context, req *omsv1.DeleteOrderRequest) (*omsv1.DeleteOrderResponse, error) {
	if req.GetOrderId() <= 0 {
		return nil, s.toStatus(ctx, "DeleteOrder", fmt.Errorf("%w: order_id must be positive", domain.ErrInvalidRequest))
	}
	order, err := s.orders.DeleteOrder(ctx, req.GetOrderId())
	if err != nil {
		return nil, s.toStatus(ctx, "DeleteOrder", err)
	}
	return &omsv1.DeleteOrderResponse{Order: toProtoOrder(order)}, nil
}

// GRPCCode сопоставляет доменный код ошибки с кодом gRPC.
func GRPCCode(code domain.ErrorCode) codes.Code {
	switch code {
	case domain.CodeInvalidRequest:
		return codes.InvalidArgument
	case domain.CodeUserNotFound, domain.CodeProductNotFound,
		domain.CodeOrderNotFound, domain.CodeReservationNotFound:
		return codes.NotFound
	case domain.CodeInsufficientStock, domain.CodeConflict:
		return codes.FailedPrecondition
	case domain.CodeCollaboratorUnavailable:
		return codes.Unavailable
	case domain.CodePersistenceFailure:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// failure — ошибка, разложенная для транспорта и кеша идемпотентности.
type failure struct {
	grpcCode      codes.Code
	message       string
	errorCode     domain.ErrorCode
	reservationID string
}

func describe(err error) failure {
	code := domain.CodeOf(err)
	f := failure{
		grpcCode:  GRPCCode(code),
		message:   err.Error(),
		errorCode: code,
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		f.reservationID = perr.ReservationID
	}
	if f.grpcCode == codes.Internal {
		f.message = "internal error"
	}
	return f
}

// grpcError выставляет trailer с доменным кодом и возвращает gRPC-ошибку.
func (f failure) grpcError(ctx context.Context) error {
	trailer := metadata.Pairs(ErrorCodeTrailer, string(f.errorCode))
	if f.reservationID != "" {
		trailer.Append(ReservationTrailer, f.reservationID)
	}
	setTrailer(ctx, trailer)
	return status.Error(f.grpcCode, f.message)
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *OrderService) toStatus(ctx context.Context, operation string, err error) error {
	f := describe(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"code":      f.errorCode,
	})
	if f.grpcCode == codes.Internal || f.grpcCode == codes.DataLoss {
		entry.Error("order request failed")
	} else {
		entry.Debug("order request rejected")
	}
	return f.grpcError(ctx)
}

// setTrailer не падает вне gRPC-вызова (прямые вызовы в тестах).
func setTrailer(ctx context.Context, md metadata.MD) {
	if grpc.ServerTransportStreamFromContext(ctx) == nil {
		return
	}
	_ = grpc.SetTrailer(ctx, md)
}

type idempotencyErrorPayload struct {
	Code          int32  `json:"code"`
	Message       string `json:"message"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ReservationID string `json:"reservationId,omitempty"`
}

func (s *OrderService) withIdempotency(
	ctx context.Context,
	method string,
	req *omsv1.CreateOrderRequest,
	handler func(context.Context) (*omsv1.CreateOrderResponse, error),
) (*omsv1.CreateOrderResponse, error) {
	if s.idemRepo == nil {
		resp, err := handler(ctx)
		if err != nil {
			return nil, s.toStatus(ctx, "CreateOrder", err)
		}
		return resp, nil
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(idemKey, reqHash, s.now().Add(domain.DefaultIdempotencyTTL))
	if err != nil {
		return s.replayIdempotency(ctx, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if f := describe(runErr); f.errorCode == domain.CodeCollaboratorUnavailable {
			s.releaseIdempotency(idemKey)
		} else {
			s.cacheIdempotencyFailure(idemKey, f)
		}
		return nil, s.toStatus(ctx, "CreateOrder", runErr)
	}
	if cacheErr := s.cacheIdempotencySuccess(idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func (s *OrderService) replayIdempotency(ctx context.Context, createErr error, record domain.IdempotencyRecord) (*omsv1.CreateOrderResponse, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(omsv1.CreateOrderResponse)
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(ctx, record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderService) cacheIdempotencySuccess(key string, resp *omsv1.CreateOrderResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(key, data, int(codes.OK))
}

// cacheIdempotencyFailure сохраняет код gRPC вместе с доменным кодом,
// чтобы повтор получил ту же ошибку целиком.
func (s *OrderService) cacheIdempotencyFailure(key string, f failure) {
	data, err := json.Marshal(idempotencyErrorPayload{
		Code:          int32(f.grpcCode), //nolint:gosec // codes.Code is a bounded enum value.
		Message:       f.message,
		ErrorCode:     string(f.errorCode),
		ReservationID: f.reservationID,
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		data = nil
	}
	if err := s.idemRepo.MarkFailed(key, data, int(f.grpcCode)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// releaseIdempotency снимает ключ после временной ошибки: повтор должен выполниться заново.
func (s *OrderService) releaseIdempotency(key string) {
	if err := s.idemRepo.Release(key); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func decodeIdempotencyFailure(ctx context.Context, record domain.IdempotencyRecord) error {
	const fallback = "previous request with the same idempotency key failed"

	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt(int(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = fallback
				}
				if payload.ErrorCode == "" {
					return status.Error(code, payload.Message)
				}
				return failure{
					grpcCode:      code,
					message:       payload.Message,
					errorCode:     domain.ErrorCode(payload.ErrorCode),
					reservationID: payload.ReservationID,
				}.grpcError(ctx)
			}
		}
	}
	if record.ResultCode > 0 {
		if code, ok := grpcCodeFromInt(record.ResultCode); ok && code != codes.OK {
			return status.Error(code, fallback)
		}
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if key := strings.TrimSpace(firstValue(md, IdempotencyKeyHeader)); key != "" {
			return key, nil
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if key := strings.TrimSpace(firstValue(md, IdempotencyKeyHeader)); key != "" {
			return key, nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func toProtoOrder(order domain.Order) *omsv1.Order {
	return &omsv1.Order{
		Id:            order.ID,
		UserId:        order.UserID,
		UserName:      order.UserName,
		ProductId:     order.ProductID,
		ProductName:   order.ProductName,
		Quantity:      order.Quantity,
		UnitPrice:     order.UnitPrice.StringFixed(domain.MoneyScale),
		TotalAmount:   order.TotalAmount.StringFixed(domain.MoneyScale),
		Status:        toProtoStatus(order.Status),
		ReservationId: order.ReservationID,
		OrderDate:     order.CreatedAt,
	}
}

func toProtoStatus(s domain.OrderStatus) omsv1.OrderStatus {
	switch s {
	case domain.OrderStatusCreated:
		return omsv1.OrderStatus_ORDER_STATUS_CREATED
	case domain.OrderStatusCancelled:
		return omsv1.OrderStatus_ORDER_STATUS_CANCELLED
	default:
		return omsv1.OrderStatus_ORDER_STATUS_UNSPECIFIED
	}
}
