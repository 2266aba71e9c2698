package worker

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ReservationExpirer is the slice of the reservation service the sweep
// needs.
type ReservationExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// ExpirySweeper moves lapsed holds to expired and restores their
// inventory.
type ExpirySweeper struct {
	reservations ReservationExpirer
	log          *logrus.Logger
}

func NewExpirySweeper(reservations ReservationExpirer, log *logrus.Logger) *ExpirySweeper {
	return &ExpirySweeper{reservations: reservations, log: log}
}

func (s *ExpirySweeper) SweepOnce(ctx context.Context) {
	expired, err := s.reservations.ExpireDue(ctx)
	if err != nil {
		s.log.WithError(err).Error("expiry sweep")
		return
	}
	if expired > 0 {
		s.log.WithFields(logrus.Fields{"expired": expired}).Info("reservations expired")
	}
}
