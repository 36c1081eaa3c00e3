// Package pipeline runs the background jobs of a wagerd worker: payout
// retries and the monthly cold-storage archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Archiver copies the previous calendar month of resolved wagers to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// PreviousMonth returns the [from, to) bounds of the UTC month before t.
func PreviousMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	to := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, -1, 0), to
}

// Run archives the month before the current time and returns the number of
// wagers written.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	from, to := PreviousMonth(a.now())
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("from", from),
		slog.Time("to", to),
	)

	n, err := a.blobArchiver.ArchiveResolved(ctx, from, to)
	if err != nil {
		return n, fmt.Errorf("archiving wagers resolved in %s: %w", from.Format("2006-01"), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("wagers_archived", n))
	return n, nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	if _, err := parseCron(cronExpr); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.now().UTC())
		if err != nil {
			return err
		}

		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single cron field: "*", "5", "1,15", "1-5" or
// "*/10". Values outside [lo, hi] are rejected.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	var values []int
	for _, p := range strings.Split(field, ",") {
		p = strings.TrimSpace(p)
		if step, ok := strings.CutPrefix(p, "*/"); ok {
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid cron step %q", p)
			}
			for v := lo; v <= hi; v += n {
				values = append(values, v)
			}
			continue
		}
		first, last := p, p
		if a, b, ok := strings.Cut(p, "-"); ok {
			first, last = a, b
		}
		start, err := strconv.Atoi(first)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		end, err := strconv.Atoi(last)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("cron field value %q outside %d-%d", p, lo, hi)
		}
		for v := start; v <= end; v++ {
			values = append(values, v)
		}
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// nextCronTime calculates the next time after 'after' that matches the given
// cron expression. It searches minute-by-minute up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)

	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
