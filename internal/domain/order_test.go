package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		Number:     "ORD-2026-0001",
		CustomerID: "customer-1",
		Status:     domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{
				ID:          "line-1",
				ProductCode: "INT-LAV-001",
				ProductName: "Lavabile Interno",
				Quantity:    5,
				UnitPrice:   decimal.NewFromFloat(12.50),
			},
		},
		TotalAmount: decimal.NewFromFloat(62.50),
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
		want bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, false},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusDelivered, false},
		{domain.OrderStatusProcessing, domain.OrderStatusPending, false},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestOrderStatusIsValid(t *testing.T) {
	valid := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Fatalf("status %q should be valid", s)
		}
	}
	if domain.OrderStatus("refunded").IsValid() {
		t.Fatal("unknown status should not be valid")
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status domain.OrderStatus
		want   bool
	}{
		{domain.OrderStatusPending, false},
		{domain.OrderStatusProcessing, false},
		{domain.OrderStatusShipped, false},
		{domain.OrderStatusDelivered, true},
		{domain.OrderStatusCancelled, true},
		{domain.OrderStatus("broken"), false},
	}
	for _, tc := range tests {
		if got := tc.status.IsTerminal(); got != tc.want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestAllowedTransitionsSorted(t *testing.T) {
	got := domain.AllowedTransitions(domain.OrderStatusPending)
	want := []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusProcessing}
	if len(got) != len(want) {
		t.Fatalf("allowed transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allowed transitions = %v, want %v", got, want)
		}
	}

	if got := domain.AllowedTransitions(domain.OrderStatusDelivered); len(got) != 0 {
		t.Fatalf("terminal status must have no transitions, got %v", got)
	}
}

func TestOrderLineSubtotal(t *testing.T) {
	line := domain.OrderLine{Quantity: 3, UnitPrice: decimal.NewFromFloat(9.99)}
	want := decimal.NewFromFloat(29.97)
	if !line.Subtotal().Equal(want) {
		t.Fatalf("subtotal = %s, want %s", line.Subtotal(), want)
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
			want: domain.ErrCustomerRequired,
		},
		{
			name: "no lines",
			mut: func(o *domain.Order) {
				o.Lines = nil
				o.TotalAmount = decimal.Zero
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "unknown status",
			mut: func(o *domain.Order) {
				o.Status = domain.OrderStatus("broken")
			},
			want: domain.ErrStatusUnknown,
		},
		{
			name: "quantity invalid",
			mut: func(o *domain.Order) {
				o.Lines[0].Quantity = 0
				o.TotalAmount = decimal.Zero
			},
			want: domain.ErrQuantityInvalid,
		},
		{
			name: "negative price",
			mut: func(o *domain.Order) {
				o.Lines[0].UnitPrice = decimal.NewFromInt(-1)
				o.TotalAmount = decimal.NewFromInt(-5)
			},
			want: domain.ErrPriceNegative,
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.NewFromInt(999)
			},
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			for _, err := range errs {
				if err == tc.want {
					return
				}
			}
			t.Fatalf("expected error %v among %v", tc.want, errs)
		})
	}
}

func TestOrderValidateInvariants_History(t *testing.T) {
	base := time.Now().UTC()

	t.Run("legal history", func(t *testing.T) {
		order := makeOrder()
		order.Status = domain.OrderStatusShipped
		order.History = []domain.StatusChange{
			{From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, ChangedAt: base},
			{From: domain.OrderStatusProcessing, To: domain.OrderStatusShipped, ChangedAt: base.Add(time.Minute)},
		}
		if errs := order.ValidateInvariants(); len(errs) != 0 {
			t.Fatalf("expected no validation errors, got %v", errs)
		}
	})

	t.Run("illegal transition in history", func(t *testing.T) {
		order := makeOrder()
		order.Status = domain.OrderStatusDelivered
		order.History = []domain.StatusChange{
			{From: domain.OrderStatusPending, To: domain.OrderStatusDelivered, ChangedAt: base},
		}
		errs := order.ValidateInvariants()
		if !containsErr(errs, domain.ErrHistoryIllegalTransition) {
			t.Fatalf("expected %v, got %v", domain.ErrHistoryIllegalTransition, errs)
		}
	})

	t.Run("history out of order", func(t *testing.T) {
		order := makeOrder()
		order.Status = domain.OrderStatusShipped
		order.History = []domain.StatusChange{
			{From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, ChangedAt: base.Add(time.Hour)},
			{From: domain.OrderStatusProcessing, To: domain.OrderStatusShipped, ChangedAt: base},
		}
		errs := order.ValidateInvariants()
		if !containsErr(errs, domain.ErrHistoryOutOfOrder) {
			t.Fatalf("expected %v, got %v", domain.ErrHistoryOutOfOrder, errs)
		}
	})

	t.Run("tail does not match status", func(t *testing.T) {
		order := makeOrder()
		order.Status = domain.OrderStatusPending
		order.History = []domain.StatusChange{
			{From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, ChangedAt: base},
		}
		errs := order.ValidateInvariants()
		if !containsErr(errs, domain.ErrHistoryStatusMismatch) {
			t.Fatalf("expected %v, got %v", domain.ErrHistoryStatusMismatch, errs)
		}
	})
}

func containsErr(errs []error, target error) bool {
	for _, err := range errs {
		if err == target {
			return true
		}
	}
	return false
}
