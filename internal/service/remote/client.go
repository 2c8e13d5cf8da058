package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
)

const (
	defaultTimeout  = 3 * time.Second
	maxErrorBodyLen = 64 << 10
)

// Option настраивает HTTP-клиенты коллабораторов.
type Option func(*client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type client struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

func newClient(baseURL, component string, opts ...Option) (*client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &client{
		baseURL: u.String(),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  log.WithField("component", component),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do выполняет запрос и декодирует ответ в out (если out != nil).
// notFound — sentinel для 404 без распознанного кода.
func (c *client) do(ctx context.Context, method, path string, in, out any, notFound error) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"method": method,
			"path":   path,
		}).Warn("collaborator request failed")
		return fmt.Errorf("%w: %s %s: %w", domain.ErrCollaboratorUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, notFound)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", domain.ErrCollaboratorUnavailable, method, path, err)
	}
	return nil
}

// decodeError переводит ответ с ошибкой в доменный sentinel.
func decodeError(resp *http.Response, notFound error) error {
	var body httpapi.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	_ = json.Unmarshal(raw, &body)

	if sentinel := sentinelFor(domain.ErrorCode(body.Code)); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, body.Message)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrInsufficientStock
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, strings.TrimSpace(string(raw)))
	default:
		return fmt.Errorf("%w: status %d", domain.ErrCollaboratorUnavailable, resp.StatusCode)
	}
}

func sentinelFor(code domain.ErrorCode) error {
	switch code {
	case domain.CodeUserNotFound:
		return domain.ErrUserNotFound
	case domain.CodeProductNotFound:
		return domain.ErrProductNotFound
	case domain.CodeInsufficientStock:
		return domain.ErrInsufficientStock
	case domain.CodeReservationNotFound:
		return domain.ErrReservationNotFound
	case domain.CodeConflict:
		return domain.ErrReservationState
	case domain.CodeInvalidRequest:
		return domain.ErrInvalidRequest
	case domain.CodeCollaboratorUnavailable, domain.CodeInternal, domain.CodePersistenceFailure:
		return domain.ErrCollaboratorUnavailable
	default:
		return nil
	}
}

// UserDirectory — справочник пользователей другого экземпляра сервиса.
type UserDirectory struct {
	c *client
}

// NewUserDirectory создаёт клиента справочника по базовому URL.
func NewUserDirectory(baseURL string, opts ...Option) (*UserDirectory, error) {
	c, err := newClient(baseURL, "remote-user-directory", opts...)
	if err != nil {
		return nil, err
	}
	return &UserDirectory{c: c}, nil
}

// Lookup реализует domain.UserDirectory.
func (d *UserDirectory) Lookup(ctx context.Context, id int64) (domain.User, error) {
	var resp httpapi.UserResponse
	if err := d.c.do(ctx, http.MethodGet, "/api/users/"+strconv.FormatInt(id, 10), nil, &resp, domain.ErrUserNotFound); err != nil {
		return domain.User{}, err
	}
	return resp.User(), nil
}

// ProductCatalog — каталог и сток другого экземпляра сервиса.
type ProductCatalog struct {
	c *client
}

// NewProductCatalog создаёт клиента каталога по базовому URL.
func NewProductCatalog(baseURL string, opts ...Option) (*ProductCatalog, error) {
	c, err := newClient(baseURL, "remote-product-catalog", opts...)
	if err != nil {
		return nil, err
	}
	return &ProductCatalog{c: c}, nil
}

// Lookup реализует domain.ProductCatalog.
func (p *ProductCatalog) Lookup(ctx context.Context, id int64) (domain.Product, error) {
	var resp httpapi.ProductResponse
	if err := p.c.do(ctx, http.MethodGet, "/api/products/"+strconv.FormatInt(id, 10), nil, &resp, domain.ErrProductNotFound); err != nil {
		return domain.Product{}, err
	}
	return resp.Product(), nil
}

// ReserveStock списывает сток на стороне каталога.
func (p *ProductCatalog) ReserveStock(ctx context.Context, productID, qty int64) (domain.Reservation, error) {
	var resp httpapi.ReservationResponse
	path := "/api/products/" + strconv.FormatInt(productID, 10) + "/reservations"
	if err := p.c.do(ctx, http.MethodPost, path, httpapi.ReservationRequest{Quantity: qty}, &resp, domain.ErrProductNotFound); err != nil {
		return domain.Reservation{}, err
	}
	return resp.Reservation(), nil
}

// CommitReservation привязывает резерв к заказу.
func (p *ProductCatalog) CommitReservation(ctx context.Context, reservationID string, orderID int64) error {
	path := "/api/reservations/" + url.PathEscape(reservationID) + "/commit"
	return p.c.do(ctx, http.MethodPost, path, httpapi.CommitReservationRequest{OrderID: orderID}, nil, domain.ErrReservationNotFound)
}

// ReleaseReservation возвращает сток по резерву.
func (p *ProductCatalog) ReleaseReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	var resp httpapi.ReservationResponse
	path := "/api/reservations/" + url.PathEscape(reservationID) + "/release"
	if err := p.c.do(ctx, http.MethodPost, path, nil, &resp, domain.ErrReservationNotFound); err != nil {
		return domain.Reservation{}, err
	}
	return resp.Reservation(), nil
}

// ListReservations читает журнал резервов каталога.
func (p *ProductCatalog) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if !filter.CreatedBefore.IsZero() {
		q.Set("createdBefore", filter.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/reservations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp []httpapi.ReservationResponse
	if err := p.c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return nil, err
	}
	out := make([]domain.Reservation, 0, len(resp))
	for _, r := range resp {
		out = append(out, r.Reservation())
	}
	return out, nil
}

var (
	_ domain.UserDirectory     = (*UserDirectory)(nil)
	_ domain.ProductCatalog    = (*ProductCatalog)(nil)
	_ domain.ReservationLedger = (*ProductCatalog)(nil)
)
