package domain

import (
	"testing"
	"time"
)

func TestReservationFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	res := Reservation{ID: "r-1", ProductID: 1, Quantity: 2, Status: ReservationStatusReserved, CreatedAt: now.Add(-time.Minute)}

	tests := []struct {
		name   string
		filter ReservationFilter
		want   bool
	}{
		{name: "empty filter", filter: ReservationFilter{}, want: true},
		{name: "status match", filter: ReservationFilter{Status: ReservationStatusReserved}, want: true},
		{name: "status mismatch", filter: ReservationFilter{Status: ReservationStatusCommitted}, want: false},
		{name: "older than cutoff", filter: ReservationFilter{CreatedBefore: now}, want: true},
		{name: "newer than cutoff", filter: ReservationFilter{CreatedBefore: now.Add(-time.Hour)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(res); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserPatchApply(t *testing.T) {
	name := "Grace"
	empty := "  "
	u := User{ID: 1, Name: "Ada", Email: "ada@example.com"}

	got := UserPatch{Name: &name, Email: &empty}.Apply(u)
	if got.Name != "Grace" || got.Email != "ada@example.com" {
		t.Fatalf("unexpected patch result: %+v", got)
	}
}

func TestProductValidate(t *testing.T) {
	p := Product{Name: "", Stock: 1}
	if err := p.Validate(); err != ErrProductNameRequired {
		t.Fatalf("expected ErrProductNameRequired, got %v", err)
	}
	p.Name = "Widget"
	p.Stock = -1
	if err := p.Validate(); err != ErrProductStockNegative {
		t.Fatalf("expected ErrProductStockNegative, got %v", err)
	}
}
