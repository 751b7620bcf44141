package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campustv/internal/cloudflare"
	"campustv/internal/notify"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// Scheduler advances broadcast slots toward their start: it promotes pending
// schedules entering the lead window, provisions or reuses live inputs for
// ready schedules, plays out replay slots and sweeps stale uploaded videos.
type Scheduler struct {
	store    *store.Store
	stream   *cloudflare.Client
	notifier notify.Notifier
	logger   logging.Logger
	interval time.Duration
	lead     time.Duration
	metrics  *Metrics
	now      func() time.Time
}

// NewScheduler creates the schedule reconciliation loop.
func NewScheduler(st *store.Store, stream *cloudflare.Client, notifier notify.Notifier, logger logging.Logger, interval, lead time.Duration) *Scheduler {
	return &Scheduler{
		store:    st,
		stream:   stream,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		lead:     lead,
		now:      time.Now,
	}
}

// WithMetrics attaches the engine counters.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start runs the loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithField("interval", s.interval.String()).Info("Starting schedule reconciler")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping schedule reconciler")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass. Each step is isolated: a panic or error
// in one step is logged and the remaining steps still run, so a single bad
// row can never kill the loop.
func (s *Scheduler) Tick(ctx context.Context) {
	s.metrics.tick("scheduler")
	s.step("promote_ready", func() { s.promotePending(ctx) })
	s.step("start_due", func() { s.startDue(ctx) })
	s.step("expire_stale", func() { s.expireStaleVideos(ctx) })
}

func (s *Scheduler) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logging.Fields{
				"step":  name,
				"panic": r,
			}).Error("Scheduler step panicked")
		}
	}()
	fn()
}

// promotePending moves pending schedules entering the lead window to ready and
// notifies followers. A pending schedule already past its start time is left
// alone: a slot that missed its ready window is not silently started.
func (s *Scheduler) promotePending(ctx context.Context) {
	now := s.now()
	schedules, err := s.store.Schedules.ListPendingWithin(ctx, now.Add(s.lead))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list pending schedules")
		return
	}

	for _, sched := range schedules {
		if !sched.StartTime.After(now) {
			s.logger.WithField("schedule_id", sched.ID).Warn("Pending schedule already past start, leaving untouched")
			continue
		}
		if err := s.store.Schedules.UpdateStatus(ctx, sched.ID, models.ScheduleReady); err != nil {
			s.logger.WithError(err).WithField("schedule_id", sched.ID).Error("Failed to promote schedule to ready")
			continue
		}
		s.metrics.transition(models.ScheduleReady)
		s.notifyFollowers(ctx, sched, now)
		s.logger.WithField("schedule_id", sched.ID).Info("Schedule promoted to ready")
	}
}

func (s *Scheduler) notifyFollowers(ctx context.Context, sched models.Schedule, now time.Time) {
	program, err := s.store.Programs.Get(ctx, sched.ProgramID)
	if err != nil || program == nil {
		s.logger.WithError(err).WithField("program_id", sched.ProgramID).Warn("Program missing, skipping follower notifications")
		return
	}

	followers, err := s.store.Programs.ListFollowerAccountIDs(ctx, sched.ProgramID)
	if err != nil {
		s.logger.WithError(err).WithField("program_id", sched.ProgramID).Error("Failed to list followers")
		return
	}

	minutes := int(sched.StartTime.Sub(now).Round(time.Minute) / time.Minute)
	message := fmt.Sprintf("%s is starting in %d minutes", program.Title, minutes)
	for _, accountID := range followers {
		s.notifier.Notify(ctx, accountID, "Upcoming broadcast", message)
	}
}

// startDue starts ready (or already late-start) schedules inside the lead
// window: replay slots are played out locally, live slots get a remote input.
func (s *Scheduler) startDue(ctx context.Context) {
	now := s.now()
	schedules, err := s.store.Schedules.ListReadyToStart(ctx, now.Add(s.lead))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list schedules to start")
		return
	}

	for _, sched := range schedules {
		if sched.IsReplay {
			s.startReplay(ctx, sched, now)
		} else {
			s.startLive(ctx, sched)
		}
	}
}

// startReplay plays out a replay slot. Replays never go live: a playing replay
// keeps status ready with both stream flags set, and a slot whose window has
// already passed is resolved straight to ended with its replay asset attached.
func (s *Scheduler) startReplay(ctx context.Context, sched models.Schedule, now time.Time) {
	log := s.logger.WithField("schedule_id", sched.ID)

	if !now.Before(sched.EndTime) {
		video, err := s.store.Videos.FindReplayForProgramWindow(ctx, sched.ProgramID, sched.StartTime, sched.EndTime)
		if err != nil {
			log.WithError(err).Error("Failed to resolve replay video")
			return
		}
		if video == nil {
			log.Warn("No replay video for elapsed window, skipping")
			return
		}
		if err := s.store.Schedules.AttachVideo(ctx, sched.ID, video.ID, models.ScheduleEnded); err != nil {
			log.WithError(err).Error("Failed to attach replay video")
			return
		}
		if err := s.store.Schedules.MarkReplayPlaying(ctx, sched.ID); err != nil {
			log.WithError(err).Error("Failed to flag replay schedule")
			return
		}
		s.metrics.transition(models.ScheduleEnded)
		s.notifier.Broadcast(ws.GroupSchedule(sched.ID), "stream_ended", map[string]interface{}{
			"schedule_id": sched.ID,
		})
		log.Info("Replay window elapsed, schedule ended")
		return
	}

	if err := s.store.Schedules.MarkReplayPlaying(ctx, sched.ID); err != nil {
		log.WithError(err).Error("Failed to start replay playback")
		return
	}
	log.Info("Replay playback started")
}

// startLive attaches a live video to the schedule, reusing an active one for
// the program when possible, otherwise provisioning a remote live input. The
// monitor loop confirms the actual ingest; liveStreamStarted stays false here.
func (s *Scheduler) startLive(ctx context.Context, sched models.Schedule) {
	log := s.logger.WithField("schedule_id", sched.ID)

	reusable, err := s.store.Videos.GetReusableForProgram(ctx, sched.ProgramID)
	if err != nil {
		log.WithError(err).Error("Failed to look up reusable video")
		return
	}
	if reusable != nil {
		if err := s.store.Videos.Touch(ctx, reusable.ID, reusable.Type); err != nil {
			log.WithError(err).Error("Failed to refresh reusable video")
			return
		}
		if err := s.store.Schedules.AttachVideo(ctx, sched.ID, reusable.ID, sched.Status); err != nil {
			log.WithError(err).Error("Failed to attach reusable video")
		}
		return
	}

	program, err := s.store.Programs.Get(ctx, sched.ProgramID)
	if err != nil || program == nil {
		log.WithError(err).WithField("program_id", sched.ProgramID).Warn("Program missing, skipping schedule start")
		return
	}

	remoteID := ""
	if program.RemoteStreamID != nil && *program.RemoteStreamID != "" {
		exists, err := s.stream.LiveInputExists(ctx, *program.RemoteStreamID)
		if err != nil {
			log.WithError(err).Error("Failed to validate cached live input")
			return
		}
		if exists {
			remoteID = *program.RemoteStreamID
		} else if err := s.store.Programs.ClearRemoteStream(ctx, program.ID); err != nil {
			log.WithError(err).Error("Failed to clear stale live input id")
			return
		}
	}

	var input *cloudflare.LiveInput
	playbackURL := ""
	if remoteID == "" {
		input, err = s.stream.CreateLiveInput(ctx, program.Title)
		if err != nil {
			log.WithError(err).Error("Failed to provision live input")
			return
		}
		remoteID = input.UID
		playbackURL = input.PlaybackURL
		if err := s.store.Programs.SetRemoteStream(ctx, program.ID, remoteID); err != nil {
			log.WithError(err).Error("Failed to cache live input id")
		}
	}

	video := &models.VideoHistory{
		ID:             uuid.New().String(),
		ProgramID:      program.ID,
		Type:           models.VideoReady,
		Status:         true,
		RemoteStreamID: &remoteID,
		StreamAt:       sched.StartTime,
	}
	if playbackURL != "" {
		video.PlaybackURL = &playbackURL
	}
	if err := s.store.Videos.Insert(ctx, video); err != nil {
		log.WithError(err).Error("Failed to store video history")
		return
	}
	if err := s.store.Schedules.AttachVideo(ctx, sched.ID, video.ID, sched.Status); err != nil {
		log.WithError(err).Error("Failed to attach video to schedule")
		return
	}

	// Only a freshly provisioned input yields a stream key; a reused input's
	// key was already mailed when it was first created.
	if input != nil {
		email, displayName, err := s.store.Programs.GetOwnerContact(ctx, program.ID)
		if err != nil || email == "" {
			log.WithError(err).Warn("No owner contact, skipping stream key email")
		} else {
			s.notifier.SendStreamKeyEmail(ctx, email, displayName, notify.IngestInfo{
				RTMPSURL:  input.RTMPSURL,
				StreamKey: input.StreamKey,
			}, sched.StartTime, sched.EndTime)
		}
	}

	log.WithField("remote_uid", remoteID).Info("Live input ready for schedule")
}

// expireStaleVideos deactivates uploaded videos whose playback window elapsed.
func (s *Scheduler) expireStaleVideos(ctx context.Context) {
	swept, err := s.store.Videos.ExpireStaleUploaded(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire stale videos")
		return
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Info("Expired stale uploaded videos")
	}
}
