// Package app wires together configuration, storage, services, and
// background loops into the running gateway process. Grounded on the
// teacher's internal/app/app.go (NewApp/Close/Start*) wiring shape.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/gatewayd/internal/channel/slack"
	"github.com/bobmcallan/gatewayd/internal/channel/webhook"
	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/llm/genai"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/services/approval"
	"github.com/bobmcallan/gatewayd/internal/services/conversation"
	"github.com/bobmcallan/gatewayd/internal/services/dedupe"
	"github.com/bobmcallan/gatewayd/internal/services/gateway"
	"github.com/bobmcallan/gatewayd/internal/services/jobstore"
	"github.com/bobmcallan/gatewayd/internal/services/notification"
	"github.com/bobmcallan/gatewayd/internal/services/reminder"
	"github.com/bobmcallan/gatewayd/internal/services/runspec"
	"github.com/bobmcallan/gatewayd/internal/services/workerpool"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

// App holds every initialized component. It is the shared core used by
// cmd/gatewayd and internal/server.
type App struct {
	Config *common.Config
	Logger *common.Logger
	Root   *statefs.Root

	Jobs          *jobstore.Store
	Notifications *notification.Store
	Reminders     *reminder.Store
	Dedupe        *dedupe.Store
	Approvals     *approval.Store
	RunSpecs      *runspec.Store
	Events        *conversation.Store
	Gateway       *gateway.Facade

	Pool                *workerpool.Pool
	JobHub              *workerpool.Hub
	NotificationDisp    *notification.Dispatcher
	ReminderDisp        *reminder.Dispatcher
	Channel             interfaces.ChannelAdapter
	LLM                 interfaces.LLMService
	EnabledChannelNames []string

	StartupTime time.Time

	hubCancel context.CancelFunc
}

// NewApp loads configuration, builds the state directory, and constructs
// every service. configPath may be empty, in which case GATEWAY_CONFIG and
// a development-relative fallback are tried, mirroring the teacher's
// VIRE_CONFIG resolution order.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	if configPath == "" {
		configPath = os.Getenv("GATEWAY_CONFIG")
	}
	if configPath == "" {
		configPath = "config/gateway.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	root, err := statefs.NewRoot(config.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state directory: %w", err)
	}

	jobs := jobstore.New(root, logger)
	notifications := notification.New(root)
	reminders := reminder.New(root)
	dedupeStore := dedupe.New(root, dedupe.DefaultWindow)
	approvals := approval.New(root)
	runSpecs := runspec.New(root)
	events := conversation.New(root, config.Stream.MaxEvents, config.Stream.RetentionDays, time.Duration(config.Stream.DedupeWindowMS)*time.Millisecond)

	var channelAdapter interfaces.ChannelAdapter
	var enabledChannels []string
	if config.Clients.Slack.BotToken != "" {
		channelAdapter = slack.NewAdapter(config.Clients.Slack.BotToken, logger)
		enabledChannels = append(enabledChannels, "slack")
	} else if config.PublicURL != "" {
		channelAdapter = webhook.NewAdapter(config.PublicURL, webhook.WithLogger(logger))
		enabledChannels = append(enabledChannels, "webhook")
	}

	var llmService interfaces.LLMService
	if config.Clients.Gemini.APIKey != "" {
		client, err := genai.NewClient(context.Background(), config.Clients.Gemini.APIKey,
			genai.WithLogger(logger),
			genai.WithModel(config.Clients.Gemini.Model),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize gemini client, chat falls back to ack replies")
		} else {
			llmService = client
			enabledChannels = append(enabledChannels, "gemini")
		}
	}

	facade := &gateway.Facade{
		Jobs:          jobs,
		Notifications: notifications,
		Approvals:     approvals,
		RunSpecs:      runSpecs,
		Events:        events,
		Dedupe:        dedupeStore,
		LLM:           llmService,
		Logger:        logger,
	}

	jobHub := workerpool.NewHub(logger)

	a := &App{
		Config:              config,
		Logger:              logger,
		Root:                root,
		Jobs:                jobs,
		Notifications:       notifications,
		Reminders:           reminders,
		Dedupe:              dedupeStore,
		Approvals:           approvals,
		RunSpecs:            runSpecs,
		Events:              events,
		Gateway:             facade,
		JobHub:              jobHub,
		Channel:             channelAdapter,
		LLM:                 llmService,
		EnabledChannelNames: enabledChannels,
		StartupTime:         startupStart,
	}

	a.Pool = workerpool.New(
		jobs,
		workerpool.StubProcessor,
		logger,
		config.Worker.Count,
		time.Duration(config.Worker.PollMS)*time.Millisecond,
		config.RunningTimeout(),
		config.CancellingTimeout(),
		a.onJobStatusChange,
	)

	if channelAdapter != nil {
		a.NotificationDisp = notification.NewDispatcher(notifications, channelAdapter, logger, time.Duration(config.Worker.NotificationPollMS)*time.Millisecond)
		a.ReminderDisp = reminder.NewDispatcher(reminders, notifications, logger, time.Duration(config.Worker.ReminderPollMS)*time.Millisecond)
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("app initialized")
	return a, nil
}

// onJobStatusChange fans a worker pool StatusEvent out to the conversation
// event log, an outbound notification (on success, when the processor
// returned responseText), and the job-stream WebSocket hub.
func (a *App) onJobStatusChange(ev workerpool.StatusEvent) {
	a.JobHub.Broadcast(ev)

	if ev.Job == nil {
		return
	}
	sessionID := ev.Job.SessionID()
	ctx := context.Background()

	kind := "job_" + ev.Status
	text := ev.Summary
	if text == "" {
		text = ev.Status
	}
	if _, err := a.Events.Add(ctx, sessionID, models.DirectionOutbound, text, "worker", "", kind, map[string]interface{}{"jobId": ev.Job.ID}); err != nil {
		a.Logger.Warn().Err(err).Str("jobId", ev.Job.ID).Msg("failed to record job status conversation event")
	}

	if ev.Status == "succeeded" && ev.ResponseText != "" && sessionID != "" {
		n := &models.Notification{SessionID: sessionID, Kind: models.NotificationText, Text: ev.ResponseText, JobID: ev.Job.ID}
		if err := a.Notifications.Enqueue(ctx, n); err != nil {
			a.Logger.Warn().Err(err).Str("jobId", ev.Job.ID).Msg("failed to enqueue completion notification")
		}
	}
}

// Start launches the worker pool, dispatchers, and job-stream hub.
func (a *App) Start() {
	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go func() {
		<-hubCtx.Done()
		a.JobHub.Stop()
	}()
	go a.JobHub.Run()

	a.Pool.Start()
	if a.NotificationDisp != nil {
		a.NotificationDisp.Start()
	}
	if a.ReminderDisp != nil {
		a.ReminderDisp.Start()
	}
}

// Stop shuts down every background loop in reverse start order.
func (a *App) Stop() {
	if a.ReminderDisp != nil {
		a.ReminderDisp.Stop()
	}
	if a.NotificationDisp != nil {
		a.NotificationDisp.Stop()
	}
	a.Pool.Stop()
	if a.hubCancel != nil {
		a.hubCancel()
	}
}
