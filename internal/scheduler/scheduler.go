package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/merge"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/notifier"
	"CryptoHarvest/internal/pipeline"
	"CryptoHarvest/internal/recorder"
	"CryptoHarvest/internal/universe"
)

// seriesPreviewDays is how many rows /series shows.
const seriesPreviewDays = 7

// Deps are the collaborators a Scheduler drives. Builder, Notifier and Merge are
// optional.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Store        history.Store
	Recorder     recorder.Recorder
	Builder      *universe.Builder
	Notifier     *notifier.TelegramNotifier
	Merge        *merge.Options
	UniverseFile string
}

// Scheduler manages the cron tasks and on-demand runs.
type Scheduler struct {
	Cron *cron.Cron
	Deps
	Ctx context.Context
}

// NewScheduler creates a Scheduler. Runs it starts live as long as ctx.
func NewScheduler(ctx context.Context, deps Deps) *Scheduler {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		Deps: deps,
		Ctx:  ctx,
	}
}

// RegisterAll registers the daily update and the universe rebuild. An empty expression
// leaves that task unscheduled.
func (s *Scheduler) RegisterAll(dailyCron, universeCron string) error {
	if dailyCron != "" {
		if _, err := s.Cron.AddFunc(dailyCron, s.dailyTask); err != nil {
			return fmt.Errorf("register daily task: %w", err)
		}
	}
	if universeCron != "" && s.Builder != nil {
		if _, err := s.Cron.AddFunc(universeCron, s.universeTask); err != nil {
			return fmt.Errorf("register universe task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunNow runs the pipeline over the universe file and waits for it, then records,
// notifies and merges.
func (s *Scheduler) RunNow() (*pipeline.Report, error) {
	h, err := s.start()
	if err != nil {
		return nil, err
	}
	report := h.Wait()
	s.afterRun(report)
	return report, nil
}

// StartRun starts a run in the background. The post-run steps of RunNow follow
// when it completes.
func (s *Scheduler) StartRun() (*pipeline.Handle, error) {
	h, err := s.start()
	if err != nil {
		return nil, err
	}
	go s.afterRun(h.Wait())
	return h, nil
}

func (s *Scheduler) start() (*pipeline.Handle, error) {
	entries, err := universe.Load(s.UniverseFile)
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	return s.Pipeline.Start(s.Ctx, entries)
}

func (s *Scheduler) afterRun(report *pipeline.Report) {
	if err := s.Recorder.RecordRun(report); err != nil {
		log.Error().Err(err).Str("run_id", report.RunID).Msg("record run failed")
	}
	s.trySend(notifier.FormatRunReport(report))

	if s.Merge == nil || s.Ctx.Err() != nil {
		return
	}
	entries, err := universe.Load(s.UniverseFile)
	if err != nil {
		log.Warn().Err(err).Msg("merging without coin ids")
	}
	if _, err := merge.Run(s.Ctx, s.Store, entries, *s.Merge); err != nil {
		log.Error().Err(err).Msg("merge after run failed")
		s.trySend(fmt.Sprintf("❌ Merge failed: %v", err))
	}
}

// RebuildUniverse fetches a fresh ranking and replaces the universe file.
func (s *Scheduler) RebuildUniverse(ctx context.Context) ([]model.UniverseEntry, error) {
	if s.Builder == nil {
		return nil, errors.New("universe builder not configured")
	}
	entries, err := s.Builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := universe.Save(s.UniverseFile, entries); err != nil {
		return nil, fmt.Errorf("save universe: %w", err)
	}
	log.Info().Str("path", s.UniverseFile).Int("symbols", len(entries)).Msg("universe saved")
	return entries, nil
}

func (s *Scheduler) dailyTask() {
	log.Info().Msg("running daily update")
	if _, err := s.RunNow(); err != nil {
		if pipeline.IsLocked(err) {
			log.Warn().Msg("daily update skipped, a run is already in progress")
			return
		}
		log.Error().Err(err).Msg("daily update failed to start")
		s.trySend(fmt.Sprintf("❌ Daily update failed to start: %v", err))
	}
}

func (s *Scheduler) universeTask() {
	log.Info().Msg("rebuilding universe")
	entries, err := s.RebuildUniverse(s.Ctx)
	if err != nil {
		log.Error().Err(err).Msg("universe rebuild failed")
		s.trySend(fmt.Sprintf("❌ Universe rebuild failed: %v", err))
		return
	}
	s.trySend(fmt.Sprintf("🪙 Universe rebuilt: %d symbols", len(entries)))
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	switch strings.ToLower(fields[0]) {
	case "/run":
		h, err := s.StartRun()
		switch {
		case pipeline.IsLocked(err):
			return "A run is already in progress."
		case err != nil:
			return fmt.Sprintf("❌ Could not start run: %v", err)
		}
		return fmt.Sprintf("🚀 Run %s started.", h.RunID)
	case "/status":
		report, err := s.Recorder.LatestRun()
		if errors.Is(err, recorder.ErrNoRuns) {
			return notifier.FormatStatus(nil)
		}
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatStatus(report)
	case "/series":
		if len(fields) < 2 {
			return "Usage: /series SYMBOL"
		}
		symbol := strings.ToUpper(fields[1])
		rows, err := s.Store.Read(ctx, symbol)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatSeries(symbol, rows, seriesPreviewDays)
	default:
		return "Commands:\n• /run\n• /status\n• /series SYMBOL"
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Error().Err(err).Msg("send notification failed")
	}
}
