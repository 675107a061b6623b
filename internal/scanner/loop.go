package scanner

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Read is one payload typed by the reader, stamped when it arrived.
type Read struct {
	Payload string
	At      time.Time
	Err     error
}

// ReadLines turns a keyboard-wedge style stream (one payload per line) into
// stamped reads. The channel closes at EOF; a read error arrives as a final
// Read with Err set.
func ReadLines(ctx context.Context, r io.Reader, now func() time.Time) <-chan Read {
	if now == nil {
		now = time.Now
	}
	out := make(chan Read, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			payload := strings.TrimSpace(sc.Text())
			if payload == "" {
				continue
			}
			select {
			case out <- Read{Payload: payload, At: now()}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case out <- Read{Err: err, At: now()}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

type Validator interface {
	Validate(ctx context.Context, qrData string) (Result, error)
}

// Outcome is what a Loop reports for every read it handles.
type Outcome struct {
	Payload string
	Result  Result
	Err     error
	Dropped bool
}

type Reporter interface {
	Report(Outcome)
}

type ReporterFunc func(Outcome)

func (f ReporterFunc) Report(o Outcome) { f(o) }

type LoopConfig struct {
	// Pause is how long scanning stays suspended after an admission.
	Pause time.Duration
}

// Loop drives a gate: read, suspend, validate, report, pause on success,
// resume. Reads of the payload just handled that arrive while the gate was
// suspended are dropped.
type Loop struct {
	validator Validator
	reporter  Reporter
	pause     time.Duration
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	lastPayload string
	resumeAt    time.Time
}

func NewLoop(v Validator, reporter Reporter, cfg LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = ReporterFunc(func(Outcome) {})
	}
	pause := cfg.Pause
	if pause < 0 {
		pause = 0
	}
	return &Loop{
		validator: v,
		reporter:  reporter,
		pause:     pause,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run consumes reads until the channel closes or ctx ends.
func (l *Loop) Run(ctx context.Context, reads <-chan Read) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case read, ok := <-reads:
			if !ok {
				return nil
			}
			if read.Err != nil {
				return read.Err
			}
			if err := l.handle(ctx, read); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, read Read) error {
	if read.Payload == l.lastPayload && read.At.Before(l.resumeAt) {
		l.logger.Debug("scan", "status", "duplicate_dropped")
		l.reporter.Report(Outcome{Payload: read.Payload, Dropped: true})
		return nil
	}

	result, err := l.validator.Validate(ctx, read.Payload)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	l.lastPayload = read.Payload
	l.resumeAt = l.now()
	l.reporter.Report(Outcome{Payload: read.Payload, Result: result, Err: err})

	switch {
	case err != nil:
		l.logger.Warn("scan", "status", "request_failed", "error", err)
	case result.Valid:
		l.logger.Info("scan", "status", "accepted", "marked_as_used", result.Admitted())
		l.resumeAt = l.resumeAt.Add(l.pause)
		if l.pause > 0 {
			if err := l.sleep(ctx, l.pause); err != nil {
				return err
			}
		}
	default:
		l.logger.Info("scan", "status", "refused", "reason", result.Reason)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
