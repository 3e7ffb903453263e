package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

var bookingsTracer = otel.Tracer("dental.internal.bookings")

type recordInserter interface {
	Insert(ctx context.Context, rec *Record) error
}

// Log records completed bookings to Postgres and the S3 archive. Either sink
// may be absent.
type Log struct {
	repo    recordInserter
	archive *Archive
	logger  *logging.Logger
}

func NewLog(repo *Repository, archive *Archive, logger *logging.Logger) *Log {
	var inserter recordInserter
	if repo != nil {
		inserter = repo
	}
	return newLog(inserter, archive, logger)
}

func newLog(repo recordInserter, archive *Archive, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{repo: repo, archive: archive, logger: logger}
}

// Record writes rec to every configured sink. Both sinks are attempted; the
// joined error reports whichever failed.
func (l *Log) Record(ctx context.Context, rec Record) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.record")
	defer span.End()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(
		attribute.String("dental.practice_id", rec.PracticeID),
		attribute.String("dental.call_id", rec.CallID),
		attribute.String("dental.booking_id", rec.ExternalBookingID),
	)

	var errs []error
	if l.repo != nil {
		if err := l.repo.Insert(ctx, &rec); err != nil {
			errs = append(errs, err)
		}
	}
	if key, err := l.archive.Put(ctx, &rec); err != nil {
		errs = append(errs, err)
	} else if key != "" {
		l.logger.Debug("booking record archived", "booking_id", rec.ExternalBookingID, "s3_key", key)
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	l.logger.Info("booking recorded", "practice_id", rec.PracticeID, "call_id", rec.CallID, "booking_id", rec.ExternalBookingID)
	return nil
}
