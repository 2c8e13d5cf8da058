package omsv1

import "time"

// OrderStatus — статус заказа в API.
type OrderStatus string

const (
	OrderStatus_ORDER_STATUS_UNSPECIFIED OrderStatus = "ORDER_STATUS_UNSPECIFIED"
	OrderStatus_ORDER_STATUS_CREATED     OrderStatus = "ORDER_STATUS_CREATED"
	OrderStatus_ORDER_STATUS_CANCELLED   OrderStatus = "ORDER_STATUS_CANCELLED"
)

// String возвращает имя статуса.
func (s OrderStatus) String() string {
	if s == "" {
		return string(OrderStatus_ORDER_STATUS_UNSPECIFIED)
	}
	return string(s)
}

// Order — денормализованный заказ. Денежные поля — десятичные строки с двумя знаками.
type Order struct {
	Id            int64       `json:"id"`
	UserId        int64       `json:"userId"`
	UserName      string      `json:"userName"`
	ProductId     int64       `json:"productId"`
	ProductName   string      `json:"productName"`
	Quantity      int64       `json:"quantity"`
	UnitPrice     string      `json:"unitPrice"`
	TotalAmount   string      `json:"totalAmount"`
	Status        OrderStatus `json:"status"`
	ReservationId string      `json:"reservationId,omitempty"`
	OrderDate     time.Time   `json:"orderDate"`
}

func (x *Order) GetId() int64 {
	if x != nil {
		return x.Id
	}
	return 0
}

func (x *Order) GetStatus() OrderStatus {
	if x != nil {
		return x.Status
	}
	return OrderStatus_ORDER_STATUS_UNSPECIFIED
}

func (x *Order) GetTotalAmount() string {
	if x != nil {
		return x.TotalAmount
	}
	return ""
}

func (x *Order) GetReservationId() string {
	if x != nil {
		return x.ReservationId
	}
	return ""
}

// TimelineEvent — событие жизненного цикла заказа.
type TimelineEvent struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type CreateOrderRequest struct {
	UserId    int64 `json:"userId"`
	ProductId int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

func (x *CreateOrderRequest) GetUserId() int64 {
	if x != nil {
		return x.UserId
	}
	return 0
}

func (x *CreateOrderRequest) GetProductId() int64 {
	if x != nil {
		return x.ProductId
	}
	return 0
}

func (x *CreateOrderRequest) GetQuantity() int64 {
	if x != nil {
		return x.Quantity
	}
	return 0
}

type CreateOrderResponse struct {
	Order *Order `json:"order,omitempty"`
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

type GetOrderRequest struct {
	OrderId int64 `json:"orderId"`
}

func (x *GetOrderRequest) GetOrderId() int64 {
	if x != nil {
		return x.OrderId
	}
	return 0
}

type GetOrderResponse struct {
	Order    *Order           `json:"order,omitempty"`
	Timeline []*TimelineEvent `json:"timeline,omitempty"`
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *GetOrderResponse) GetTimeline() []*TimelineEvent {
	if x != nil {
		return x.Timeline
	}
	return nil
}

type ListOrdersRequest struct{}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

func (x *ListOrdersResponse) GetOrders() []*Order {
	if x != nil {
		return x.Orders
	}
	return nil
}

type DeleteOrderRequest struct {
	OrderId int64 `json:"orderId"`
}

func (x *DeleteOrderRequest) GetOrderId() int64 {
	if x != nil {
		return x.OrderId
	}
	return 0
}

type DeleteOrderResponse struct {
	Order *Order `json:"order,omitempty"`
}

func (x *DeleteOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}
