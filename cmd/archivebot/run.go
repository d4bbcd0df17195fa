package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/archivebot/internal/archive"
	"github.com/zulandar/archivebot/internal/config"
	"github.com/zulandar/archivebot/internal/cursor"
	"github.com/zulandar/archivebot/internal/dashboard"
	"github.com/zulandar/archivebot/internal/dialogue"
	"github.com/zulandar/archivebot/internal/dispatch"
	"github.com/zulandar/archivebot/internal/logging"
	"github.com/zulandar/archivebot/internal/media"
	"github.com/zulandar/archivebot/internal/pipeline"
	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/submission"
	"github.com/zulandar/archivebot/internal/transport"
	"github.com/zulandar/archivebot/internal/transport/discord"
	"github.com/zulandar/archivebot/internal/transport/slack"
	"github.com/zulandar/archivebot/internal/transport/telegram"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		Long: "Connects to the configured chat platform, walks each voice message through\n" +
			"the title/description/tags dialogue and publishes it to Internet Archive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to archivebot config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runBot(cmd *cobra.Command, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("run: shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	log.Info("run: database ready", zap.String("db", describeDB(cfg.Database)))

	store, err := submission.NewStore(submission.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}

	tr, err := newTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer tr.Close()

	uploader, err := archive.New(archive.ClientOpts{
		Endpoint:   cfg.Archive.Endpoint,
		Access:     cfg.Archive.Access,
		Secret:     cfg.Archive.Secret,
		Collection: cfg.Archive.Collection,
		Podcast:    cfg.Archive.Podcast,
		Creator:    cfg.Archive.Creator,
		Logger:     log.Named("archive"),
	})
	if err != nil {
		return err
	}
	pipe, err := pipeline.New(pipeline.Opts{
		Store:      store,
		Transcoder: &media.FFmpeg{Binary: cfg.FFmpeg.Binary, Bitrate: cfg.FFmpeg.Bitrate},
		Uploader:   uploader,
		DataDir:    cfg.DataDir,
		Logger:     log.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	sessions := session.NewStore()
	ctrl, err := dialogue.New(dialogue.Opts{
		Store:     store,
		Sessions:  sessions,
		Transport: tr,
		Publisher: pipe,
		Logger:    log.Named("dialogue"),
	})
	if err != nil {
		return err
	}
	resumed, orphans, err := ctrl.Restore(ctx)
	if err != nil {
		return err
	}
	log.Info("run: sessions restored", zap.Int("resumed", resumed), zap.Strings("shadowed", orphans))

	cur, err := cursor.NewFile(cfg.CursorFile)
	if err != nil {
		return err
	}
	slots := slotKeys(cfg.Slots)

	var reminder *dispatch.Reminder
	if cfg.Reminders.Cron != "" {
		reminder, err = dispatch.NewReminder(dispatch.ReminderOpts{
			Cron:       cfg.Reminders.Cron,
			StaleAfter: time.Duration(cfg.Reminders.StaleAfterHours) * time.Hour,
			Store:      store,
			Transport:  tr,
			Slots:      slots,
			Logger:     log.Named("reminder"),
		})
		if err != nil {
			return err
		}
		log.Info("run: reminders scheduled", zap.Time("next", reminder.Next()))
	}

	d, err := dispatch.New(dispatch.Opts{
		Transport:   tr,
		Cursor:      cur,
		Handler:     ctrl,
		Slots:       slots,
		PollTimeout: time.Duration(cfg.PollTimeoutSec) * time.Second,
		Reminder:    reminder,
		Logger:      log.Named("dispatch"),
	})
	if err != nil {
		return err
	}

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:         gormDB,
				Sessions:   sessions,
				Port:       cfg.Dashboard.Port,
				StaleAfter: time.Duration(cfg.Reminders.StaleAfterHours) * time.Hour,
				Logger:     log.Named("dashboard"),
			})
			if err != nil {
				log.Error("run: dashboard stopped", zap.Error(err))
			}
		}()
	}

	return d.Run(ctx)
}

// connector is implemented by push-based transports that must open a
// connection before Fetch.
type connector interface {
	Connect(ctx context.Context) error
}

// newTransport builds the platform transport from the config.
func newTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (transport.Transport, error) {
	var (
		tr  transport.Transport
		err error
	)
	switch cfg.Platform {
	case "telegram":
		tr, err = telegram.New(telegram.ClientOpts{
			Token:  cfg.Telegram.Token,
			APIURL: cfg.Telegram.APIURL,
			Logger: log.Named("telegram"),
		})
	case "discord":
		tr, err = discord.New(discord.TransportOpts{
			BotToken: cfg.Discord.BotToken,
			Logger:   log.Named("discord"),
		})
	case "slack":
		tr, err = slack.New(slack.TransportOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
			Logger:   log.Named("slack"),
		})
	default:
		return nil, fmt.Errorf("run: unsupported platform %q", cfg.Platform)
	}
	if err != nil {
		return nil, err
	}
	if c, ok := tr.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			tr.Close()
			return nil, err
		}
	}
	log.Info("run: transport ready", zap.String("platform", cfg.Platform))
	return tr, nil
}

func slotKeys(slots []config.SlotConfig) []session.Key {
	keys := make([]session.Key, len(slots))
	for i, s := range slots {
		keys[i] = session.Key{ChannelID: s.Channel, ThreadID: s.Thread}
	}
	return keys
}
