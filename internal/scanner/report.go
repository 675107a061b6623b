package scanner

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// WriterReporter prints one line per outcome, for a terminal at the gate.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) Report(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.w, FormatOutcome(o))
}

func FormatOutcome(o Outcome) string {
	switch {
	case o.Dropped:
		return "--   duplicate read ignored"
	case o.Err != nil:
		return fmt.Sprintf("ERR  %v", o.Err)
	case o.Result.Admitted():
		return "OK   admitted" + ticketLabel(o.Result.Ticket)
	case o.Result.Valid:
		return "OK   valid, not marked" + ticketLabel(o.Result.Ticket)
	case o.Result.UsedAt != nil:
		return fmt.Sprintf("NO   %s at %s%s", o.Result.Error, o.Result.UsedAt.Local().Format(time.TimeOnly), ticketLabel(o.Result.Ticket))
	default:
		return "NO   " + o.Result.Error + ticketLabel(o.Result.Ticket)
	}
}

func ticketLabel(t *TicketSummary) string {
	if t == nil {
		return ""
	}
	label := fmt.Sprintf(" [%s", t.TicketType)
	if t.Quantity > 1 {
		label += fmt.Sprintf(" x%d", t.Quantity)
	}
	if t.BuyerName != "" {
		label += ", " + t.BuyerName
	}
	return label + "]"
}
