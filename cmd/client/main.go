package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/client"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

var (
	serverURL string
	roomID    string
	name      string
	muted     bool
	noVideo   bool
	tone      float64
)

var rootCmd = &cobra.Command{
	Use:   "mesh-client",
	Short: "Headless Mesh participant",
	Long:  "Joins a Mesh room over the signaling relay and holds full-mesh peer links with every other participant.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/api/ws/signal", "relay websocket URL")
	rootCmd.Flags().StringVarP(&roomID, "room", "r", "main", "room to join")
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "display name (required)")
	rootCmd.Flags().BoolVar(&muted, "mute", false, "join muted")
	rootCmd.Flags().BoolVar(&noVideo, "no-video", false, "join with video off")
	rootCmd.Flags().Float64Var(&tone, "tone", 0.2, "synthetic audio amplitude")
	_ = rootCmd.MarkFlagRequired("name")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	token := uuid.NewString()
	sig := client.NewSignalClient(serverURL, token)
	if err := sig.Connect(); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}

	factory := rtc.TransportFactory(rtc.DefaultWebRTCConfig(cfg.STUNServers))
	source := rtc.NewSampleSource(tone)

	ps := client.NewPeerSet(core.SessionID(token), sig, factory, source, client.SystemClock, client.Settings{
		TickInterval:      cfg.TickInterval,
		SpeakingThreshold: cfg.SpeakingThreshold,
		SpeakingHold:      cfg.SpeakingHold,
		SilenceThreshold:  cfg.SilenceThreshold,
		SilenceWindow:     cfg.SilenceWindow,
	})
	ps.OnFatal = func(err error) {
		log.Error().Err(err).Msg("fatal media failure, leaving")
		cancel()
	}
	ps.OnError = func(reason string) {
		log.Error().Str("reason", reason).Msg("relay rejected us")
		cancel()
	}
	ps.OnChat = func(msg protocol.Chat) {
		fmt.Printf("[%s] %s: %s\n", time.UnixMilli(msg.Time).Format("15:04:05"), msg.DisplayName, msg.Text)
	}

	if err := ps.Join(ctx, domain.RoomID(roomID), name); err != nil {
		return err
	}
	if muted {
		ps.SetMuted(true)
	}
	if noVideo {
		ps.SetVideoOff(true)
	}

	go printRoster(ctx, ps)

	ps.Run(ctx, sig.Incoming())
	log.Info().Msg("client exited")
	return nil
}

func printRoster(ctx context.Context, ps *client.PeerSet) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, info := range ps.SpeakingOrder() {
				fmt.Printf("%2d. %-20s %-9s %s\n", i+1, info.DisplayName, info.Role, info.State)
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
