package usecase

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/domains/media"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// MediaRetryConfig tunes the deferred download worker.
type MediaRetryConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxRuns stops the loop after that many sweeps. Zero runs forever.
	MaxRuns int
}

// MediaRetryWorker drains pending inbound media jobs: lease, download,
// store, patch the owning message, complete. Exhausted jobs are
// dead-lettered after the retry budget.
type MediaRetryWorker struct {
	store      Store
	broker     Broker
	mediaStore MediaStore
	cfg        MediaRetryConfig
}

func NewMediaRetryWorker(store Store, broker Broker, mediaStore MediaStore, cfg MediaRetryConfig) *MediaRetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &MediaRetryWorker{
		store:      store,
		broker:     broker,
		mediaStore: mediaStore,
		cfg:        cfg,
	}
}

// Run loops until the context is cancelled or MaxRuns sweeps completed.
// Cancellation finishes the job in flight before returning.
func (w *MediaRetryWorker) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"interval":   w.cfg.Interval,
		"batch_size": w.cfg.BatchSize,
	}).Info("[MEDIA-RETRY] Worker started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	runs := 0
	for {
		w.Sweep(ctx)
		runs++
		if w.cfg.MaxRuns > 0 && runs >= w.cfg.MaxRuns {
			logrus.Info("[MEDIA-RETRY] Max runs reached, stopping")
			return
		}
		select {
		case <-ctx.Done():
			logrus.Info("[MEDIA-RETRY] Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep processes one batch of due jobs, oldest nextRetryAt first.
func (w *MediaRetryWorker) Sweep(ctx context.Context) {
	jobs, err := w.store.FindPendingInboundMediaJobs(ctx, w.cfg.BatchSize, time.Now().UTC())
	if err != nil {
		logrus.WithError(err).Error("[MEDIA-RETRY] Failed listing pending jobs")
		return
	}
	for i := range jobs {
		// Finish the current job even when shutting down, then bail.
		w.processJob(context.WithoutCancel(ctx), &jobs[i])
		if ctx.Err() != nil {
			return
		}
	}
}

func (w *MediaRetryWorker) processJob(ctx context.Context, job *media.Job) {
	log := logrus.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"tenant_id":  job.TenantID,
		"message_id": job.MessageID,
		"attempt":    job.Attempts + 1,
	})

	leased, err := w.store.MarkInboundMediaJobProcessing(ctx, job.ID)
	if err != nil {
		log.WithError(err).Error("[MEDIA-RETRY] Lease failed")
		return
	}
	if !leased {
		metrics.MediaRetry.WithLabelValues("lease_lost").Inc()
		return
	}

	payload, err := w.broker.DownloadMedia(ctx, MediaDownloadRequest{
		InstanceID: job.InstanceID,
		BrokerID:   job.BrokerID,
		MessageID:  job.MessageExternalID,
		MediaType:  job.MediaType,
		MediaKey:   job.MediaKey,
		DirectPath: job.DirectPath,
	})
	if err == nil {
		err = w.attach(ctx, job, payload)
	}
	if err != nil {
		w.fail(ctx, job, err, log)
		return
	}

	if err := w.store.CompleteInboundMediaJob(ctx, job.ID); err != nil {
		log.WithError(err).Error("[MEDIA-RETRY] Failed completing job")
		return
	}
	metrics.MediaRetry.WithLabelValues("success").Inc()
	log.WithField("size", humanize.Bytes(uint64(len(payload.Data)))).Info("[MEDIA-RETRY] Media recovered")
}

// attach stores the body and patches the owning message.
func (w *MediaRetryWorker) attach(ctx context.Context, job *media.Job, payload *MediaPayload) error {
	fileName := payload.FileName
	if fileName == "" {
		fileName = rawmap.String(job.Metadata, "fileName")
	}
	mimeType := payload.MimeType
	if mimeType == "" {
		mimeType = rawmap.String(job.Metadata, "mimeType")
	}

	obj, err := w.mediaStore.Put(ctx, job.TenantID, job.MessageID, fileName, mimeType, payload.Data)
	if err != nil {
		return err
	}

	msg, err := w.store.FindMessageByID(ctx, job.TenantID, job.MessageID)
	if err != nil {
		return err
	}
	msg.MediaURL = obj.URL
	msg.MimeType = mimeType
	msg.FileSize = int64(len(payload.Data))
	if fileName != "" {
		msg.FileName = fileName
	}
	if msg.Metadata != nil {
		delete(msg.Metadata, "media_pending")
		if obj.ExpiresAt != nil {
			msg.Metadata["mediaUrlExpiresAt"] = obj.ExpiresAt.Format(time.RFC3339)
		}
	}
	return w.store.UpdateMessage(ctx, msg)
}

func (w *MediaRetryWorker) fail(ctx context.Context, job *media.Job, cause error, log *logrus.Entry) {
	attempts := job.Attempts + 1
	if attempts >= media.MaxAttempts {
		if err := w.store.FailInboundMediaJob(ctx, job.ID, cause.Error()); err != nil {
			log.WithError(err).Error("[MEDIA-RETRY] Failed dead-lettering job")
			return
		}
		metrics.MediaRetry.WithLabelValues("dlq").Inc()
		log.WithError(cause).Warn("[MEDIA-RETRY] Retry budget exhausted, job dead-lettered")
		return
	}

	next := time.Now().UTC().Add(media.Backoff(attempts))
	if err := w.store.RescheduleInboundMediaJob(ctx, job.ID, next, cause.Error()); err != nil {
		log.WithError(err).Error("[MEDIA-RETRY] Failed rescheduling job")
		return
	}
	metrics.MediaRetry.WithLabelValues("retry").Inc()
	log.WithError(cause).WithField("next_retry_at", next).Info("[MEDIA-RETRY] Download failed, rescheduled")
}
