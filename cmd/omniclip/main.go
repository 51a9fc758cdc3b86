// Command omniclip keeps clipboards in sync between paired devices on the
// same network.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/gin-gonic/gin"
	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"omniclip/internal/auth"
	"omniclip/internal/clipboard"
	"omniclip/internal/config"
	"omniclip/internal/discovery"
	"omniclip/internal/handler"
	"omniclip/internal/hub"
	"omniclip/internal/logging"
	"omniclip/internal/model"
	"omniclip/internal/server"
	"omniclip/internal/service"
)

// flagEnv lets command line flags override the environment.
type flagEnv map[string]string

func (f flagEnv) Getenv(key string) string {
	if v, ok := f[key]; ok && v != "" {
		return v
	}
	return os.Getenv(key)
}

type rootFlags struct {
	configFile string
	name       string
	logLevel   string
	port       int
	token      string
}

func (f *rootFlags) load() (config.Config, error) {
	env := flagEnv{
		"OMNICLIP_CONFIG":      f.configFile,
		"OMNICLIP_DEVICE_NAME": f.name,
		"OMNICLIP_LOG_LEVEL":   f.logLevel,
	}
	if f.port > 0 {
		env["OMNICLIP_PORT"] = fmt.Sprint(f.port)
	}
	return config.LoadConfigFromEnv(env)
}

func tokenConfig(cfg config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		Secret: cfg.ControlSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "omniclip",
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "omniclip",
		Short: "LAN clipboard sync with QR pairing",
		Long: `omniclip mirrors the clipboard between devices on the same network.
Devices pair once by scanning a QR code; after that every copy is
encrypted for each paired device and sent directly over TCP.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "f", "", "path to a TOML config file")
	cmd.PersistentFlags().StringVar(&flags.name, "name", "", "device name shown to other devices")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.PersistentFlags().IntVar(&flags.port, "port", 0, "sync port")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "control API token (default: minted from the control secret)")

	cmd.AddCommand(
		newRunCommand(flags),
		newPairCommand(flags),
		newDevicesCommand(flags),
		newSendCommand(flags),
		newStatusCommand(flags),
		newIPsCommand(),
	)
	return cmd
}

func newRunCommand(flags *rootFlags) *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Example: `  # Start and show a pairing QR code
  omniclip run

  # Start with a config file and no QR code
  omniclip run -f ~/.config/omniclip.toml --qr=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, showQR, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", true, "print a pairing QR code on start")
	return cmd
}

func runDaemon(ctx context.Context, cfg config.Config, showQR bool, out io.Writer) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level, os.Stderr)
	gin.SetMode(cfg.GinMode)

	identity, err := model.NewIdentity(cfg.DeviceName)
	if err != nil {
		return err
	}

	var cb clipboard.Clipboard
	if sys, err := clipboard.NewSystem(); err != nil {
		logger.Warn("system clipboard unavailable, using an in-memory clipboard", "err", err)
		cb = clipboard.NewMemory()
	} else {
		cb = sys
	}

	var disc discovery.Discovery
	if cfg.Discovery {
		disc = discovery.NewMDNS(discovery.Options{Self: identity.ID, Logger: logger})
	}

	svc, err := service.New(service.Options{
		Identity:              identity,
		ListenAddr:            fmt.Sprintf(":%d", cfg.Port),
		AdvertiseHost:         cfg.AdvertiseHost,
		PairingTTL:            cfg.PairingTTL,
		PairingPolicy:         cfg.PairingPolicy,
		PairAttemptsPerMinute: cfg.PairAttemptsPerMinute,
		PollInterval:          cfg.PollInterval,
		ApplyRemote:           cfg.ApplyRemote,
		Clipboard:             cb,
		Discovery:             disc,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	events, err := svc.Start(ctx)
	if err != nil {
		return err
	}

	wsHub := hub.New()
	if cfg.ControlAddr != "" {
		ln, err := net.Listen("tcp", cfg.ControlAddr)
		if err != nil {
			return fmt.Errorf("failed to bind control API on %s: %w", cfg.ControlAddr, err)
		}
		router := server.NewRouter(server.Deps{
			Service:       svc,
			Hub:           wsHub,
			TokenConfig:   tokenConfig(cfg),
			ControlSecret: cfg.ControlSecret,
		})
		g.Go(func() error {
			return server.Run(ctx, ln, router, logger)
		})
		if cfg.GeneratedSecret {
			tok, err := auth.CreateToken("cli", tokenConfig(cfg))
			if err != nil {
				return err
			}
			logger.Warn("no control secret configured, generated one for this run")
			fmt.Fprintf(out, "control token: %s\n", tok)
		}
	}

	fmt.Fprintf(out, "%s (%s)\nfingerprint: %s\nlistening on port %d\n",
		identity.Name, identity.ID, identity.Fingerprint(), svc.Port())

	if showQR {
		offer, err := svc.StartPairing()
		if err != nil {
			return err
		}
		printOffer(out, offer)
	}

	g.Go(func() error {
		for ev := range events {
			logEvent(logger, ev)
			msg, err := handler.EventMessage(ev)
			if err != nil {
				logger.Warn("failed to encode event", "err", err)
				continue
			}
			wsHub.Publish(msg)
		}
		return nil
	})

	return g.Wait()
}

func printOffer(w io.Writer, offer service.Offer) {
	qrterminal.GenerateWithConfig(offer.URL, qrterminal.Config{
		Level:      qrterminal.L,
		Writer:     w,
		HalfBlocks: true,
		QuietZone:  1,
	})
	fmt.Fprintf(w, "\nscan to pair, or run on the other device:\n  omniclip pair '%s'\nexpires %s\n\n",
		offer.URL, offer.ExpiresAt.Local().Format(time.Kitchen))
}

func logEvent(logger *slog.Logger, ev service.Event) {
	switch e := ev.(type) {
	case service.DeviceDiscovered:
		logger.Info("device discovered", "device_name", e.Peer.Name, "device_id", e.Peer.DeviceID, "addr", e.Peer.Addr())
	case service.DeviceLost:
		logger.Info("device lost", "device_id", e.DeviceID)
	case service.PairingRequest:
		logger.Info("device paired", "device_name", e.DeviceName, "device_id", e.DeviceID, "fingerprint", e.Fingerprint)
	case service.ClipboardReceived:
		logger.Debug("clipboard event", "event", e.Type(), "device_id", e.From)
	case service.ClipboardSent:
		logger.Debug("clipboard event", "event", e.Type(), "devices", len(e.To))
	case service.Error:
		logger.Warn("service error", "err", e.Err)
	}
}

func newIPsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ips",
		Short: "List the local addresses other devices can reach",
		RunE: func(cmd *cobra.Command, args []string) error {
			ips := discovery.LocalIPv4s()
			if len(ips) == 0 {
				return fmt.Errorf("no private IPv4 address found")
			}
			for _, ip := range ips {
				fmt.Fprintln(cmd.OutOrStdout(), ip)
			}
			return nil
		},
	}
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
