package reconciler

import (
	"context"
	"time"

	"campustv/internal/cloudflare"
	"campustv/internal/metering"
	"campustv/internal/notify"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// Monitor reconciles local stream state against the provider's observed
// ingest state: confirming starts, force-ending overdue or out-of-minutes
// streams, and flagging late starts.
type Monitor struct {
	store     *store.Store
	stream    *cloudflare.Client
	finalizer *Finalizer
	notifier  notify.Notifier
	logger    logging.Logger
	interval  time.Duration
	grace     time.Duration // live vs late_start cutoff at confirm time
	sweep     time.Duration // earlier, softer late_start flagging threshold
	metrics   *Metrics
	now       func() time.Time
}

// NewMonitor creates the stream state monitor loop.
func NewMonitor(st *store.Store, stream *cloudflare.Client, finalizer *Finalizer, notifier notify.Notifier, logger logging.Logger, interval, grace, sweep time.Duration) *Monitor {
	return &Monitor{
		store:     st,
		stream:    stream,
		finalizer: finalizer,
		notifier:  notifier,
		logger:    logger,
		interval:  interval,
		grace:     grace,
		sweep:     sweep,
		now:       time.Now,
	}
}

// WithMetrics attaches the engine counters.
func (m *Monitor) WithMetrics(metrics *Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// Start runs the loop until the context is cancelled. The two halves of the
// cycle alternate across ticks, so each runs a full interval after the other.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.WithField("interval", m.interval.String()).Info("Starting stream state monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	confirmPhase := true
	m.ConfirmStarts(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping stream state monitor")
			return
		case <-ticker.C:
			m.metrics.tick("monitor")
			confirmPhase = !confirmPhase
			if confirmPhase {
				m.ConfirmStarts(ctx)
			} else {
				m.WatchLive(ctx)
				m.LateStartSweep(ctx)
			}
		}
	}
}

// ConfirmStarts polls unconfirmed videos and promotes them to live once the
// provider reports the ingest connected, advancing the attached schedule to
// live or late_start depending on how far past start the confirmation lands.
func (m *Monitor) ConfirmStarts(ctx context.Context) {
	videos, err := m.store.Videos.ListUnconfirmed(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list unconfirmed videos")
		return
	}

	for _, video := range videos {
		log := m.logger.WithField("video_id", video.ID)

		state, err := m.stream.GetLiveInputState(ctx, *video.RemoteStreamID)
		if err != nil {
			log.WithError(err).Warn("Failed to query live input state")
			continue
		}
		if state != cloudflare.StateConnected {
			continue
		}

		if err := m.store.Videos.SetLive(ctx, video.ID); err != nil {
			log.WithError(err).Error("Failed to promote video to live")
			continue
		}

		sched, err := m.store.Schedules.GetActiveByVideo(ctx, video.ID)
		if err != nil {
			log.WithError(err).Error("Failed to load schedule for confirmed start")
			continue
		}
		if sched == nil || sched.Status == models.ScheduleLive {
			continue
		}

		status := models.ScheduleLive
		if m.now().After(sched.StartTime.Add(m.grace)) {
			status = models.ScheduleLateStart
		}
		if err := m.store.Schedules.MarkStarted(ctx, sched.ID, status); err != nil {
			log.WithError(err).WithField("schedule_id", sched.ID).Error("Failed to mark schedule started")
			continue
		}

		m.metrics.transition(status)
		playbackURL := ""
		if video.PlaybackURL != nil {
			playbackURL = *video.PlaybackURL
		}
		m.notifier.Broadcast(ws.GroupSchedule(sched.ID), "stream_started", map[string]interface{}{
			"schedule_id":  sched.ID,
			"status":       string(status),
			"playback_url": playbackURL,
		})
		log.WithFields(logging.Fields{
			"schedule_id": sched.ID,
			"status":      status,
		}).Info("Stream start confirmed")
	}
}

// WatchLive checks every connected live stream for two forced-end conditions:
// the schedule window has elapsed, or the owner's minutes package is
// exhausted. A failed finalization leaves the schedule untouched for the next
// tick.
func (m *Monitor) WatchLive(ctx context.Context) {
	videos, err := m.store.Videos.ListActiveLive(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list live videos")
		return
	}

	now := m.now()
	for _, video := range videos {
		log := m.logger.WithField("video_id", video.ID)

		state, err := m.stream.GetLiveInputState(ctx, *video.RemoteStreamID)
		if err != nil {
			log.WithError(err).Warn("Failed to query live input state")
			continue
		}
		if state != cloudflare.StateConnected {
			continue
		}

		sched, err := m.store.Schedules.GetActiveByVideo(ctx, video.ID)
		if err != nil {
			log.WithError(err).Error("Failed to load schedule for live video")
			continue
		}
		if sched == nil {
			log.Warn("Live video has no active schedule")
			continue
		}

		if now.After(sched.EndTime) {
			m.forceEnd(ctx, video, sched, models.ScheduleEndedEarly, "schedule window elapsed")
			continue
		}

		if m.packageExhausted(ctx, video.ProgramID, now) {
			m.forceEnd(ctx, video, sched, models.ScheduleEnded, "minutes package exhausted")
		}
	}
}

func (m *Monitor) forceEnd(ctx context.Context, video models.VideoHistory, sched *models.Schedule, status models.ScheduleStatus, reason string) {
	log := m.logger.WithFields(logging.Fields{
		"video_id":    video.ID,
		"schedule_id": sched.ID,
		"reason":      reason,
	})

	if !m.finalizer.EndStream(ctx, *video.RemoteStreamID) {
		log.Warn("Forced stream end did not complete, retrying next tick")
		return
	}
	if err := m.store.Schedules.MarkEnded(ctx, sched.ID, status); err != nil {
		log.WithError(err).Error("Failed to end schedule")
		return
	}
	m.metrics.transition(status)
	m.notifier.Broadcast(ws.GroupSchedule(sched.ID), "stream_ended", map[string]interface{}{
		"schedule_id": sched.ID,
		"status":      string(status),
	})
	log.Info("Stream force-ended")
}

func (m *Monitor) packageExhausted(ctx context.Context, programID string, now time.Time) bool {
	program, err := m.store.Programs.Get(ctx, programID)
	if err != nil || program == nil {
		m.logger.WithError(err).WithField("program_id", programID).Warn("Program missing during package check")
		return false
	}
	pkg, err := m.store.Packages.GetActiveByAccount(ctx, program.AccountID)
	if err != nil {
		m.logger.WithError(err).WithField("account_id", program.AccountID).Error("Failed to load package")
		return false
	}
	return metering.Exhausted(pkg, now)
}

// LateStartSweep flags ready schedules that never started within the sweep
// threshold. The threshold is deliberately softer than the confirm-time grace,
// so viewers see late_start before the stream is written off.
func (m *Monitor) LateStartSweep(ctx context.Context) {
	cutoff := m.now().Add(-m.sweep)
	schedules, err := m.store.Schedules.ListReadyNotStartedBefore(ctx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list overdue ready schedules")
		return
	}

	for _, sched := range schedules {
		if err := m.store.Schedules.UpdateStatus(ctx, sched.ID, models.ScheduleLateStart); err != nil {
			m.logger.WithError(err).WithField("schedule_id", sched.ID).Error("Failed to flag late start")
			continue
		}
		m.metrics.transition(models.ScheduleLateStart)
		m.logger.WithField("schedule_id", sched.ID).Info("Schedule flagged late_start")
	}
}
