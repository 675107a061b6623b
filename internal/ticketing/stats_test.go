package ticketing

import "testing"

func TestAggregateStats(t *testing.T) {
	rows := []StatsRow{
		{TicketType: "standard", PaymentStatus: "paid", Quantity: 2, TotalPrice: 4000, Used: true},
		{TicketType: "standard", PaymentStatus: "paid", Quantity: 1, TotalPrice: 2000},
		{TicketType: "vip", PaymentStatus: "paid", Quantity: 1, TotalPrice: 10000, Used: true},
		{TicketType: "vip", PaymentStatus: "pending", Quantity: 3, TotalPrice: 30000},
		{TicketType: "vip", PaymentStatus: "paid", Quantity: 0, TotalPrice: 999},
	}

	stats := AggregateStats("salon2025", rows)
	if stats.SoldTickets != 4 {
		t.Fatalf("expected 4 sold, got %d", stats.SoldTickets)
	}
	if stats.PendingTickets != 3 {
		t.Fatalf("expected 3 pending, got %d", stats.PendingTickets)
	}
	if stats.Admitted != 3 {
		t.Fatalf("expected 3 admitted, got %d", stats.Admitted)
	}
	if stats.Revenue != 16000 {
		t.Fatalf("expected revenue 16000, got %d", stats.Revenue)
	}
	standard := stats.ByType["standard"]
	if standard.Sold != 3 || standard.Admitted != 2 || standard.Revenue != 6000 {
		t.Fatalf("unexpected standard bucket: %#v", standard)
	}
}
