package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/directory"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "http-api-test")
}

type testAPI struct {
	server   *httptest.Server
	users    *directory.Service
	products *catalog.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.NewStore()
	users := directory.NewService(store.Users)
	products := catalog.NewService(store.Products, catalog.WithLogger(quietLogger()))
	orders := ordering.NewOrchestrator(users, products, store.Orders, ordering.WithLogger(quietLogger()))

	h := NewHandler(users, products, orders, WithLogger(quietLogger()))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, users: users, products: products}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(data)
		}
		reader = bytes.NewBufferString(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) seed(t *testing.T) (domain.User, domain.Product) {
	t.Helper()
	ctx := context.Background()
	user, err := a.users.Create(ctx, domain.User{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	product, err := a.products.Create(ctx, domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("9.50"),
		Stock: 5,
	})
	require.NoError(t, err)
	return user, product
}

func TestOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)
	user, product := api.seed(t)

	resp := api.do(t, http.MethodPost, "/api/orders", OrderRequest{UserID: user.ID, ProductID: product.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"totalAmount":19.00`)
	require.Contains(t, string(raw), `"unitPrice":9.50`)

	var created OrderResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, "Ada", created.UserName)
	require.Equal(t, "Widget", created.ProductName)
	require.Equal(t, "CREATED", created.Status)
	require.NotEmpty(t, created.ReservationID)
	require.Equal(t, "/api/orders/1", resp.Header.Get("Location"))

	stock := decodeBody[ProductResponse](t, api.do(t, http.MethodGet, "/api/products/1", nil))
	require.EqualValues(t, 3, stock.Stock)

	got := decodeBody[OrderResponse](t, api.do(t, http.MethodGet, "/api/orders/1", nil))
	require.Equal(t, created.ID, got.ID)

	list := decodeBody[[]OrderResponse](t, api.do(t, http.MethodGet, "/api/orders", nil))
	require.Len(t, list, 1)

	resp = api.do(t, http.MethodDelete, "/api/orders/1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got = decodeBody[OrderResponse](t, api.do(t, http.MethodGet, "/api/orders/1", nil))
	require.Equal(t, "CANCELLED", got.Status)

	// Отмена не возвращает сток; повторное удаление не ошибка.
	stock = decodeBody[ProductResponse](t, api.do(t, http.MethodGet, "/api/products/1", nil))
	require.EqualValues(t, 3, stock.Stock)
	resp = api.do(t, http.MethodDelete, "/api/orders/1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateOrderErrors(t *testing.T) {
	api := newTestAPI(t)
	user, product := api.seed(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   domain.ErrorCode
	}{
		{"zero quantity", OrderRequest{UserID: user.ID, ProductID: product.ID}, http.StatusBadRequest, domain.CodeInvalidRequest},
		{"malformed json", `{"userId":`, http.StatusBadRequest, domain.CodeInvalidRequest},
		{"unknown product", OrderRequest{UserID: user.ID, ProductID: 99, Quantity: 1}, http.StatusNotFound, domain.CodeProductNotFound},
		{"unknown user", OrderRequest{UserID: 99, ProductID: product.ID, Quantity: 1}, http.StatusNotFound, domain.CodeUserNotFound},
		{"both unknown reports product", OrderRequest{UserID: 98, ProductID: 99, Quantity: 1}, http.StatusNotFound, domain.CodeProductNotFound},
		{"insufficient stock", OrderRequest{UserID: user.ID, ProductID: product.ID, Quantity: 6}, http.StatusConflict, domain.CodeInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPost, "/api/orders", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			require.Equal(t, tt.status, body.Status)
			require.Equal(t, string(tt.code), body.Code)
			require.NotEmpty(t, body.Message)
		})
	}

	stock := decodeBody[ProductResponse](t, api.do(t, http.MethodGet, "/api/products/1", nil))
	require.EqualValues(t, 5, stock.Stock)
}

type stubOrders struct {
	err error
}

func (s stubOrders) CreateOrder(context.Context, domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, s.err
}

func (s stubOrders) GetOrder(context.Context, int64) (domain.Order, error) {
	return domain.Order{}, s.err
}

func (s stubOrders) ListOrders(context.Context) ([]domain.Order, error) { return nil, s.err }

func (s stubOrders) DeleteOrder(context.Context, int64) (domain.Order, error) {
	return domain.Order{}, s.err
}

func TestOrderFailureMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		status        int
		code          domain.ErrorCode
		reservationID string
	}{
		{
			name:          "persistence failure keeps reservation handle",
			err:           &domain.PersistenceError{ReservationID: "res-1", ProductID: 3, Quantity: 2, Err: errors.New("disk full")},
			status:        http.StatusInternalServerError,
			code:          domain.CodePersistenceFailure,
			reservationID: "res-1",
		},
		{
			name:   "collaborator unavailable",
			err:    domain.ErrCollaboratorUnavailable,
			status: http.StatusServiceUnavailable,
			code:   domain.CodeCollaboratorUnavailable,
		},
		{
			name:   "unexpected error",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   domain.CodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, nil, stubOrders{err: tt.err}, WithLogger(quietLogger()))
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"userId":1,"productId":1,"quantity":1}`))
			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.Equal(t, string(tt.code), body.Code)
			require.Equal(t, tt.reservationID, body.ReservationID)
			if tt.code == domain.CodeInternal {
				require.Equal(t, "Internal Server Error", body.Message)
			}
		})
	}
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/users", UserRequest{Name: "Ada", Email: "ada@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[UserResponse](t, resp)
	require.EqualValues(t, 1, created.ID)

	resp = api.do(t, http.MethodPost, "/api/users", UserRequest{Name: "Bob"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPatch, "/api/users/1", map[string]string{"name": "Ada Lovelace"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patched := decodeBody[UserResponse](t, resp)
	require.Equal(t, "Ada Lovelace", patched.Name)
	require.Equal(t, "ada@example.com", patched.Email)

	resp = api.do(t, http.MethodPut, "/api/users/1", UserRequest{Name: "Ada"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/users/1", UserRequest{Name: "Ada", Email: "ada@lovelace.dev"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ada@lovelace.dev", decodeBody[UserResponse](t, resp).Email)

	list := decodeBody[[]UserResponse](t, api.do(t, http.MethodGet, "/api/users", nil))
	require.Len(t, list, 1)

	resp = api.do(t, http.MethodDelete, "/api/users/1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/users/1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(domain.CodeUserNotFound), decodeBody[ErrorResponse](t, resp).Code)

	resp = api.do(t, http.MethodGet, "/api/users/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/products", `{"name":"Widget","description":"blue","price":"9.5","stock":5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[ProductResponse](t, resp)
	require.True(t, created.Price.Decimal().Equal(decimal.RequireFromString("9.50")))

	resp = api.do(t, http.MethodPost, "/api/products", `{"name":"Broken","price":-1,"stock":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/products/1", `{"name":"Widget","description":"red","price":10.25,"stock":7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[ProductResponse](t, resp)
	require.Equal(t, "red", updated.Description)
	require.EqualValues(t, 7, updated.Stock)

	resp = api.do(t, http.MethodDelete, "/api/products/1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = api.do(t, http.MethodDelete, "/api/products/1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReservationEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, product := api.seed(t)

	resp := api.do(t, http.MethodPost, "/api/products/1/reservations", ReservationRequest{Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decodeBody[ReservationResponse](t, resp)
	require.Equal(t, product.ID, res.ProductID)
	require.Equal(t, string(domain.ReservationStatusReserved), res.Status)

	resp = api.do(t, http.MethodPost, "/api/products/1/reservations", ReservationRequest{Quantity: 4})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, string(domain.CodeInsufficientStock), decodeBody[ErrorResponse](t, resp).Code)

	resp = api.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(domain.ReservationStatusReleased), decodeBody[ReservationResponse](t, resp).Status)

	stock := decodeBody[ProductResponse](t, api.do(t, http.MethodGet, "/api/products/1", nil))
	require.EqualValues(t, 5, stock.Stock)

	resp = api.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/release", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/commit", CommitReservationRequest{OrderID: 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/reservations/missing/commit", CommitReservationRequest{OrderID: 1})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(domain.CodeReservationNotFound), decodeBody[ErrorResponse](t, resp).Code)

	resp = api.do(t, http.MethodPost, "/api/reservations/missing/commit", CommitReservationRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/reservations/"+res.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decodeBody[[]ReservationResponse](t, api.do(t, http.MethodGet, "/api/reservations?status=released&limit=10", nil))
	require.Len(t, list, 1)
	list = decodeBody[[]ReservationResponse](t, api.do(t, http.MethodGet, "/api/reservations?status=reserved", nil))
	require.Empty(t, list)

	resp = api.do(t, http.MethodGet, "/api/reservations?createdBefore=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: NewMoney(decimal.RequireFromString("19"))})
	require.NoError(t, err)
	require.JSONEq(t, `{"total":19.00}`, string(data))
	require.Contains(t, string(data), "19.00")

	var fromString, fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`"9.5"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`9.5`), &fromNumber))
	require.True(t, fromString.Decimal().Equal(fromNumber.Decimal()))
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &fromString))
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusFor(domain.CodeInvalidRequest))
	require.Equal(t, http.StatusNotFound, StatusFor(domain.CodeOrderNotFound))
	require.Equal(t, http.StatusConflict, StatusFor(domain.CodeConflict))
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(domain.CodeCollaboratorUnavailable))
	require.Equal(t, http.StatusInternalServerError, StatusFor(domain.CodePersistenceFailure))
	require.Equal(t, http.StatusInternalServerError, StatusFor(domain.CodeInternal))
}
