package stream

import (
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter caps frames per second and bytes per second on one
// connection. A frame is admitted only if both buckets have room.
type inboundLimiter struct {
	now    func() time.Time
	frames *rate.Limiter
	bytes  *rate.Limiter
}

func newInboundLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	l := &inboundLimiter{now: now}
	if fps > 0 {
		l.frames = rate.NewLimiter(rate.Limit(fps), fps*burstSeconds)
	}
	if bps > 0 {
		l.bytes = rate.NewLimiter(rate.Limit(bps), int(bps)*burstSeconds)
	}
	return l
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()

	var fr *rate.Reservation
	if l.frames != nil {
		fr = l.frames.ReserveN(now, 1)
		if !fr.OK() || fr.DelayFrom(now) > 0 {
			fr.CancelAt(now)
			return false
		}
	}
	if l.bytes != nil && frameBytes > 0 {
		br := l.bytes.ReserveN(now, frameBytes)
		if !br.OK() || br.DelayFrom(now) > 0 {
			br.CancelAt(now)
			if fr != nil {
				fr.CancelAt(now)
			}
			return false
		}
	}
	return true
}
