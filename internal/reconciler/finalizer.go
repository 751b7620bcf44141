package reconciler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"campustv/internal/cloudflare"
	"campustv/internal/metering"
	"campustv/internal/notify"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// Finalizer owns the stream-end procedure. It is shared by the monitor's
// forced-end path and the provider webhook; both routes are serialized per
// remote stream id, and the debit is additionally guarded by a conditional
// write so it happens at most once even across processes.
type Finalizer struct {
	store    *store.Store
	stream   *cloudflare.Client
	meter    *metering.Meter
	notifier notify.Notifier
	logger   logging.Logger
	locks    *keyedMutex
	metrics  *Metrics
	now      func() time.Time

	// Polling budgets for the forced-end path.
	recordingAttempts int
	recordingDelay    time.Duration
	readyAttempts     int
	readyDelay        time.Duration
	downloadAttempts  int
	downloadDelay     time.Duration
}

// NewFinalizer creates a finalizer with the default polling budgets.
func NewFinalizer(st *store.Store, stream *cloudflare.Client, meter *metering.Meter, notifier notify.Notifier, logger logging.Logger) *Finalizer {
	return &Finalizer{
		store:    st,
		stream:   stream,
		meter:    meter,
		notifier: notifier,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,

		recordingAttempts: 10,
		recordingDelay:    10 * time.Second,
		readyAttempts:     10,
		readyDelay:        10 * time.Second,
		downloadAttempts:  5,
		downloadDelay:     15 * time.Second,
	}
}

// WithMetrics attaches the engine counters.
func (f *Finalizer) WithMetrics(m *Metrics) *Finalizer {
	f.metrics = m
	return f
}

// EndStream force-ends the stream behind a remote live input: deactivate the
// video, tear down the input, poll the provider for the finalized recording
// and its MP4, persist the result and debit the owner's package.
//
// Returns false when the video was already finalized by the competing webhook
// path, or when any polling budget is exhausted. On failure after the claim
// the claim is rolled back, so the video stays visible to the monitor and the
// webhook and the caller must not advance the schedule.
func (f *Finalizer) EndStream(ctx context.Context, remoteUID string) bool {
	unlock := f.locks.Lock(remoteUID)
	defer unlock()

	video, err := f.store.Videos.GetActiveByRemoteID(ctx, remoteUID)
	if err != nil {
		f.logger.WithError(err).WithField("remote_uid", remoteUID).Error("Failed to load video for stream end")
		return false
	}
	if video == nil {
		f.logger.WithField("remote_uid", remoteUID).Debug("Stream already finalized, skipping")
		return false
	}

	won, err := f.store.Videos.MarkRecordedIfActive(ctx, video.ID)
	if err != nil {
		f.logger.WithError(err).WithField("video_id", video.ID).Error("Failed to deactivate video")
		return false
	}
	if !won {
		f.logger.WithField("video_id", video.ID).Debug("Video finalized by competing path, skipping")
		return false
	}

	if err := f.stream.DeleteLiveInput(ctx, remoteUID); err != nil {
		f.logger.WithError(err).WithField("remote_uid", remoteUID).Warn("Failed to delete live input, continuing")
	}

	recording, err := f.awaitRecording(ctx, remoteUID)
	if err != nil {
		f.logger.WithError(err).WithField("remote_uid", remoteUID).Error("Gave up waiting for recording")
		f.releaseClaim(ctx, video)
		return false
	}

	ready, err := f.awaitReady(ctx, recording.UID)
	if err != nil {
		f.logger.WithError(err).WithField("video_uid", recording.UID).Error("Gave up waiting for recording to become ready")
		f.releaseClaim(ctx, video)
		return false
	}

	mp4URL, err := f.awaitDownload(ctx, recording.UID)
	if err != nil {
		f.logger.WithError(err).WithField("video_uid", recording.UID).Error("Gave up waiting for MP4 download")
		f.releaseClaim(ctx, video)
		return false
	}

	durationMinutes := ready.DurationSeconds / 60
	if err := f.store.Videos.FinalizeRecording(ctx, video.ID, durationMinutes, mp4URL, ready.PlaybackURL); err != nil {
		f.logger.WithError(err).WithField("video_id", video.ID).Error("Failed to persist finalized recording")
		f.releaseClaim(ctx, video)
		return false
	}

	f.debitOwner(ctx, video, durationMinutes)
	f.metrics.finalization("forced")

	f.logger.WithFields(logging.Fields{
		"video_id":         video.ID,
		"remote_uid":       remoteUID,
		"duration_minutes": durationMinutes,
	}).Info("Stream finalized")
	return true
}

// HandleReady finalizes a stream from the provider's own "ready" webhook,
// which carries the final duration and a preview URL directly. Races safely
// with EndStream: the loser observes a non-active video and no-ops.
func (f *Finalizer) HandleReady(ctx context.Context, remoteUID string, durationSeconds float64, previewURL string) error {
	unlock := f.locks.Lock(remoteUID)
	defer unlock()

	video, err := f.store.Videos.GetActiveByRemoteID(ctx, remoteUID)
	if err != nil {
		return err
	}
	if video == nil {
		f.logger.WithField("remote_uid", remoteUID).Debug("Webhook for already-finalized stream, skipping")
		return nil
	}

	won, err := f.store.Videos.MarkRecordedIfActive(ctx, video.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := f.stream.DeleteLiveInput(ctx, remoteUID); err != nil {
		f.logger.WithError(err).WithField("remote_uid", remoteUID).Warn("Failed to delete live input, continuing")
	}

	playbackURL := ""
	if video.PlaybackURL != nil {
		playbackURL = *video.PlaybackURL
	}
	mp4URL, err := mp4FromPreview(previewURL)
	if err != nil {
		f.logger.WithError(err).WithField("preview_url", previewURL).Warn("Could not derive MP4 URL from preview")
	}

	durationMinutes := durationSeconds / 60
	if err := f.store.Videos.FinalizeRecording(ctx, video.ID, durationMinutes, mp4URL, playbackURL); err != nil {
		f.releaseClaim(ctx, video)
		return err
	}

	f.debitOwner(ctx, video, durationMinutes)
	f.metrics.finalization("webhook")

	sched, err := f.store.Schedules.GetActiveByVideo(ctx, video.ID)
	if err != nil {
		f.logger.WithError(err).WithField("video_id", video.ID).Error("Failed to load schedule for webhook finalization")
	} else if sched != nil {
		if err := f.store.Schedules.MarkEnded(ctx, sched.ID, models.ScheduleEndedEarly); err != nil {
			f.logger.WithError(err).WithField("schedule_id", sched.ID).Error("Failed to end schedule")
		} else {
			f.notifier.Broadcast(ws.GroupSchedule(sched.ID), "stream_ended", map[string]interface{}{
				"schedule_id": sched.ID,
				"mp4_url":     mp4URL,
			})
		}
	}

	f.logger.WithFields(logging.Fields{
		"video_id":         video.ID,
		"remote_uid":       remoteUID,
		"duration_minutes": durationMinutes,
	}).Info("Stream finalized from webhook")
	return nil
}

// releaseClaim undoes the finalization claim after a failure, restoring the
// video's active flag and prior type so the next monitor tick or a later
// provider webhook can finalize it.
func (f *Finalizer) releaseClaim(ctx context.Context, video *models.VideoHistory) {
	if err := f.store.Videos.RestoreActive(ctx, video.ID, video.Type); err != nil {
		f.logger.WithError(err).WithField("video_id", video.ID).Error("Failed to restore video after failed finalize")
	}
}

func (f *Finalizer) debitOwner(ctx context.Context, video *models.VideoHistory, minutes float64) {
	program, err := f.store.Programs.Get(ctx, video.ProgramID)
	if err != nil {
		f.logger.WithError(err).WithField("program_id", video.ProgramID).Error("Failed to load program for metering")
		return
	}
	if program == nil {
		f.logger.WithField("program_id", video.ProgramID).Warn("Program missing, skipping metering")
		return
	}
	if err := f.meter.DebitAccount(ctx, program.AccountID, minutes); err != nil {
		f.logger.WithError(err).WithField("account_id", program.AccountID).Error("Failed to debit minutes package")
		return
	}
	f.metrics.debit("stream_playback", minutes)
}

// awaitRecording polls until the live input lists a recording.
func (f *Finalizer) awaitRecording(ctx context.Context, remoteUID string) (*cloudflare.Video, error) {
	for attempt := 0; attempt < f.recordingAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, f.recordingDelay) {
			return nil, ctx.Err()
		}
		videos, err := f.stream.ListRecordedVideos(ctx, remoteUID)
		if err != nil {
			f.logger.WithError(err).WithField("remote_uid", remoteUID).Warn("Failed to list recorded videos")
			continue
		}
		if len(videos) > 0 {
			return &videos[0], nil
		}
	}
	return nil, fmt.Errorf("no recording appeared for live input %s", remoteUID)
}

// awaitReady polls until the recording reaches the ready state with a duration.
func (f *Finalizer) awaitReady(ctx context.Context, videoUID string) (*cloudflare.Video, error) {
	for attempt := 0; attempt < f.readyAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, f.readyDelay) {
			return nil, ctx.Err()
		}
		video, err := f.stream.GetVideoMetadata(ctx, videoUID)
		if err != nil {
			f.logger.WithError(err).WithField("video_uid", videoUID).Warn("Failed to fetch video metadata")
			continue
		}
		if video.State == cloudflare.VideoStateReady && video.DurationSeconds > 0 {
			return video, nil
		}
	}
	return nil, fmt.Errorf("recording %s never became ready", videoUID)
}

// awaitDownload requests an MP4 download and polls until its URL is ready.
func (f *Finalizer) awaitDownload(ctx context.Context, videoUID string) (string, error) {
	if err := f.stream.RequestDownload(ctx, videoUID); err != nil {
		return "", err
	}
	for attempt := 0; attempt < f.downloadAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, f.downloadDelay) {
			return "", ctx.Err()
		}
		status, err := f.stream.GetDownloadStatus(ctx, videoUID)
		if err != nil {
			f.logger.WithError(err).WithField("video_uid", videoUID).Warn("Failed to fetch download status")
			continue
		}
		if status.Status == cloudflare.DownloadReady && status.URL != "" {
			return status.URL, nil
		}
	}
	return "", fmt.Errorf("MP4 download for %s never became ready", videoUID)
}

// mp4FromPreview derives the MP4 download URL from a preview URL by replacing
// everything after the video id segment with the default download path.
func mp4FromPreview(previewURL string) (string, error) {
	u, err := url.Parse(previewURL)
	if err != nil {
		return "", err
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", fmt.Errorf("preview URL %q has no video id segment", previewURL)
	}
	u.Path = "/" + segments[0] + "/downloads/default.mp4"
	u.RawQuery = ""
	return u.String(), nil
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
