package worker

import (
	"context"
	"errors"
	"playsync/internal/domain"
	"playsync/internal/service"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	RunKindUpload   = "upload"
	RunKindDownload = "download"
)

type Uploader interface {
	Run(ctx context.Context) (*service.UploadResult, error)
}

type Downloader interface {
	Run(ctx context.Context) (*service.DownloadResult, error)
}

type RunRecorder interface {
	SetLastRun(ctx context.Context, kind string, at time.Time) error
}

// Report is the outcome of one upload-then-download cycle.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Upload   *service.UploadResult   `json:"upload,omitempty"`
	Download *service.DownloadResult `json:"download,omitempty"`

	UploadError   string `json:"upload_error,omitempty"`
	DownloadError string `json:"download_error,omitempty"`
}

// SyncWorker pushes local changes and then pulls remote ones on a fixed
// interval, and on demand through RunOnce.
type SyncWorker struct {
	uploader   Uploader
	downloader Downloader
	recorder   RunRecorder
	interval   time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	last    *Report
	running bool
}

func NewSyncWorker(uploader Uploader, downloader Downloader, recorder RunRecorder, interval time.Duration, logger zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		uploader:   uploader,
		downloader: downloader,
		recorder:   recorder,
		interval:   interval,
		logger:     logger.With().Str("component", "sync_worker").Logger(),
		now:        time.Now,
	}
}

// Start launches the schedule loop. The first cycle runs immediately.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if w.interval <= 0 {
		return errors.New("sync interval must be positive")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return w.loop(gCtx)
	})

	w.cancel = cancel
	w.group = g
	w.running = true
	w.logger.Info().Dur("interval", w.interval).Msg("sync worker started")
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to return or ctx to
// expire, whichever happens first.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, g := w.cancel, w.group
	w.running = false
	w.cancel, w.group = nil, nil
	w.mu.Unlock()

	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		w.logger.Info().Msg("sync worker stopped")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) LastReport() *Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *SyncWorker) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("sync cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce uploads pending local changes, then downloads. An authentication
// failure on upload skips the download since it would fail the same way.
func (w *SyncWorker) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: w.now()}
	var errs []error

	upload, err := w.uploader.Run(ctx)
	report.Upload = upload
	if err != nil {
		report.UploadError = err.Error()
		errs = append(errs, err)
	} else {
		w.record(ctx, RunKindUpload)
	}

	if (err == nil || !domain.IsAuthError(err)) && ctx.Err() == nil {
		download, err := w.downloader.Run(ctx)
		report.Download = download
		if err != nil {
			report.DownloadError = err.Error()
			errs = append(errs, err)
		} else {
			w.record(ctx, RunKindDownload)
		}
	}

	report.FinishedAt = w.now()

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	return report, errors.Join(errs...)
}

func (w *SyncWorker) record(ctx context.Context, kind string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.SetLastRun(ctx, kind, w.now()); err != nil {
		w.logger.Warn().Err(err).Str("kind", kind).Msg("failed to record sync run")
	}
}
