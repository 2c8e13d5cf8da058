package omsv1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

type fakeClientConn struct {
	invoke func(context.Context, string, any, any, ...grpc.CallOption) error
}

func (f *fakeClientConn) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	if f.invoke == nil {
		return errors.New("unexpected Invoke call")
	}
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeClientConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

type testOrderService struct {
	UnimplementedOrderServiceServer
}

func (s *testOrderService) CreateOrder(_ context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	return &CreateOrderResponse{Order: &Order{Id: 1, UserId: req.GetUserId(), Quantity: req.GetQuantity()}}, nil
}

func (s *testOrderService) GetOrder(_ context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	return &GetOrderResponse{Order: &Order{Id: req.GetOrderId()}}, nil
}

func (s *testOrderService) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return &ListOrdersResponse{Orders: []*Order{{Id: 1}}}, nil
}

func (s *testOrderService) DeleteOrder(_ context.Context, req *DeleteOrderRequest) (*DeleteOrderResponse, error) {
	return &DeleteOrderResponse{Order: &Order{Id: req.GetOrderId(), Status: OrderStatus_ORDER_STATUS_CANCELLED}}, nil
}

func TestOrderServiceClientMethods(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		methods := map[string]int{}
		conn := &fakeClientConn{
			invoke: func(_ context.Context, method string, _ any, reply any, opts ...grpc.CallOption) error {
				methods[method]++
				require.NotEmpty(t, opts, "json content-subtype must be forced")
				switch out := reply.(type) {
				case *CreateOrderResponse:
					out.Order = &Order{Id: 1}
				case *GetOrderResponse:
					out.Order = &Order{Id: 1}
				case *ListOrdersResponse:
					out.Orders = []*Order{{Id: 1}}
				case *DeleteOrderResponse:
					out.Order = &Order{Id: 1, Status: OrderStatus_ORDER_STATUS_CANCELLED}
				default:
					t.Fatalf("unexpected reply type: %T", out)
				}
				return nil
			},
		}

		client := NewOrderServiceClient(conn)
		ctx := context.Background()
		_, err := client.CreateOrder(ctx, &CreateOrderRequest{})
		require.NoError(t, err)
		_, err = client.GetOrder(ctx, &GetOrderRequest{})
		require.NoError(t, err)
		_, err = client.ListOrders(ctx, &ListOrdersRequest{})
		require.NoError(t, err)
		deleted, err := client.DeleteOrder(ctx, &DeleteOrderRequest{})
		require.NoError(t, err)
		require.Equal(t, OrderStatus_ORDER_STATUS_CANCELLED, deleted.GetOrder().GetStatus())

		for _, method := range []string{
			OrderService_CreateOrder_FullMethodName,
			OrderService_GetOrder_FullMethodName,
			OrderService_ListOrders_FullMethodName,
			OrderService_DeleteOrder_FullMethodName,
		} {
			require.Equal(t, 1, methods[method], method)
		}
	})

	t.Run("error", func(t *testing.T) {
		conn := &fakeClientConn{
			invoke: func(context.Context, string, any, any, ...grpc.CallOption) error {
				return status.Error(codes.Internal, "boom")
			},
		}
		client := NewOrderServiceClient(conn)
		ctx := context.Background()

		for name, call := range map[string]func() error{
			"CreateOrder": func() error { _, err := client.CreateOrder(ctx, &CreateOrderRequest{}); return err },
			"GetOrder":    func() error { _, err := client.GetOrder(ctx, &GetOrderRequest{}); return err },
			"ListOrders":  func() error { _, err := client.ListOrders(ctx, &ListOrdersRequest{}); return err },
			"DeleteOrder": func() error { _, err := client.DeleteOrder(ctx, &DeleteOrderRequest{}); return err },
		} {
			require.Equal(t, codes.Internal, status.Code(call()), name)
		}
	})
}

func TestUnimplementedOrderServiceServer(t *testing.T) {
	var srv UnimplementedOrderServiceServer
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"CreateOrder": func() error { _, err := srv.CreateOrder(ctx, &CreateOrderRequest{}); return err },
		"GetOrder":    func() error { _, err := srv.GetOrder(ctx, &GetOrderRequest{}); return err },
		"ListOrders":  func() error { _, err := srv.ListOrders(ctx, &ListOrdersRequest{}); return err },
		"DeleteOrder": func() error { _, err := srv.DeleteOrder(ctx, &DeleteOrderRequest{}); return err },
	} {
		require.Equal(t, codes.Unimplemented, status.Code(call()), name)
	}
}

func TestHandlers(t *testing.T) {
	srv := &testOrderService{}
	ctx := context.Background()

	cases := []struct {
		name   string
		method string
		call   func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error)
	}{
		{name: "CreateOrder", method: OrderService_CreateOrder_FullMethodName, call: _OrderService_CreateOrder_Handler},
		{name: "GetOrder", method: OrderService_GetOrder_FullMethodName, call: _OrderService_GetOrder_Handler},
		{name: "ListOrders", method: OrderService_ListOrders_FullMethodName, call: _OrderService_ListOrders_Handler},
		{name: "DeleteOrder", method: OrderService_DeleteOrder_FullMethodName, call: _OrderService_DeleteOrder_Handler},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.call(srv, ctx, func(interface{}) error { return errors.New("decode failed") }, nil)
			require.Error(t, err)

			resp, err := tc.call(srv, ctx, func(interface{}) error { return nil }, nil)
			require.NoError(t, err)
			require.NotNil(t, resp)

			interceptorCalled := false
			resp, err = tc.call(srv, ctx, func(interface{}) error { return nil }, func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
				interceptorCalled = true
				require.Equal(t, tc.method, info.FullMethod)
				return handler(ctx, req)
			})
			require.NoError(t, err)
			require.True(t, interceptorCalled)
			require.NotNil(t, resp)
		})
	}
}

func TestRegisterAndServiceDescriptor(t *testing.T) {
	g := grpc.NewServer()
	RegisterOrderServiceServer(g, &testOrderService{})

	require.Equal(t, "oms.v1.OrderService", OrderService_ServiceDesc.ServiceName)
	require.Len(t, OrderService_ServiceDesc.Methods, 4)
	require.Contains(t, g.GetServiceInfo(), "oms.v1.OrderService")
}

func TestCodecRegisteredAndRoundTrips(t *testing.T) {
	require.NotNil(t, encoding.GetCodec(CodecName))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &GetOrderResponse{
		Order: &Order{
			Id:          1,
			UserName:    "Ada",
			ProductName: "Widget",
			Quantity:    2,
			UnitPrice:   "9.50",
			TotalAmount: "19.00",
			Status:      OrderStatus_ORDER_STATUS_CREATED,
			OrderDate:   at,
		},
		Timeline: []*TimelineEvent{{Type: "OrderCreated", OccurredAt: at}},
	}

	var codec Codec
	data, err := codec.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(data), `"totalAmount":"19.00"`)

	out := new(GetOrderResponse)
	require.NoError(t, codec.Unmarshal(data, out))
	require.Equal(t, in, out)

	require.NoError(t, codec.Unmarshal(nil, new(ListOrdersRequest)))
	require.Error(t, codec.Unmarshal([]byte("{"), out))
}

func TestNilGetters(t *testing.T) {
	var order *Order
	require.Zero(t, order.GetId())
	require.Equal(t, OrderStatus_ORDER_STATUS_UNSPECIFIED, order.GetStatus())
	require.Empty(t, order.GetReservationId())

	var resp *GetOrderResponse
	require.Nil(t, resp.GetOrder())
	require.Nil(t, resp.GetTimeline())
	require.Equal(t, "ORDER_STATUS_UNSPECIFIED", OrderStatus("").String())
}
