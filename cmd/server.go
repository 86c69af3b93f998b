package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/callstate"
	"github.com/ziadkadry99/voicedesk/internal/directory"
	"github.com/ziadkadry99/voicedesk/internal/monitor"
	"github.com/ziadkadry99/voicedesk/internal/server"
	"github.com/ziadkadry99/voicedesk/internal/twiml"
	"github.com/ziadkadry99/voicedesk/internal/voice"
)

var serverPort int

// effectTimeout bounds each background persistence or summary call.
const effectTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the voice webhook server",
	Long: `Starts the receptionist: Twilio voice webhooks under /voice, a health
check at /health, and the live call monitor at /api/monitor/ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		if store == nil {
			logger.Warn("persistence disabled; calls will not be recorded")
		} else {
			defer store.Close()
		}

		provider, err := createLLMProviderFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating LLM provider: %w", err)
		}
		turns := newTurnService(cfg, provider, logger)

		states := callstate.NewStore(time.Now)
		effects := voice.NewEffects(effectTimeout, logger.Named("effects"))
		bus := monitor.NewBus()

		orch := voice.NewOrchestrator(voice.Deps{
			States: states,
			Store:  store,
			Turns:  turns,
			TwiML: twiml.Builder{
				ActionURL: cfg.WebhookURL(voice.IncomingPath),
				Voice:     cfg.Call.Voice,
				Language:  cfg.Call.Language,
			},
			Effects: effects,
			Bus:     bus,
			Logger:  logger.Named("voice"),
		}, voice.Config{
			MaxDuration:       cfg.Call.MaxDuration.Std(),
			IdempotencyWindow: cfg.Turn.IdempotencyWindow.Std(),
			SilenceTimeout:    cfg.Call.SilenceTimeout,
			TransferNumber:    cfg.Call.TransferNumber,
		})

		var validator *voice.SignatureValidator
		if cfg.Twilio.ValidateSignature {
			validator = voice.NewSignatureValidator(cfg.Twilio.AuthToken, cfg.BaseURL, logger.Named("signature"))
		}

		srv := server.New(server.Config{
			Port:     cfg.Server.Port,
			AllowAll: cfg.Server.AllowAllOrigins,
		}, logger.Named("http"))
		voice.NewHandler(orch, logger.Named("webhook")).RegisterRoutes(srv.Router(), validator)
		monitor.RegisterRoutes(srv.Router(), bus, logger.Named("monitor"))
		srv.Gauge("active_calls", states.Len)
		srv.Gauge("monitor_subscribers", bus.Subscribers)

		if cfg.Directory.Path != "" {
			if store == nil {
				logger.Warn("directory configured but persistence is disabled; skipping import",
					zap.String("path", cfg.Directory.Path))
			} else {
				dir := directory.New(cfg.Directory.Path, store, logger.Named("directory"))
				if _, err := dir.Import(ctx); err != nil {
					return fmt.Errorf("importing business directory: %w", err)
				}
				if cfg.Directory.Watch {
					go func() {
						if err := dir.Watch(ctx); err != nil {
							logger.Error("directory watch stopped", zap.Error(err))
						}
					}()
				}
			}
		}

		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", zap.Error(err))
			}
		}()

		logger.Info("voicedesk starting",
			zap.String("version", Version),
			zap.Int("port", cfg.Server.Port),
			zap.String("provider", provider.Name()),
			zap.String("model", cfg.LLM.Model),
			zap.String("database", cfg.Database.Driver),
			zap.Bool("signature_validation", validator != nil),
			zap.String("incoming_url", cfg.WebhookURL(voice.IncomingPath)),
			zap.String("status_url", cfg.WebhookURL(voice.StatusPath)))

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		// Let in-flight transcript writes and summaries finish before the
		// store closes.
		effects.Wait()
		return nil
	},
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
