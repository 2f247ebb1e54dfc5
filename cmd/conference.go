package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/conference"
	"taskbridge/internal/log"
	"taskbridge/internal/paths"
	"taskbridge/internal/rest"
)

var conferenceCmd = &cobra.Command{
	Use:   "conference <room>",
	Short: "Join a voice conference room",
	Long: `Join a voice conference room from the terminal. The client requests a
room token from the backend, joins the room's signaling channel, and
streams local audio until interrupted.

Example:
  taskbridge conference standup       # Join the "standup" room
  taskbridge conference standup --identity alice`,
	Args: cobra.ExactArgs(1),
	RunE: runConference,
}

var conferenceIdentity string

func init() {
	rootCmd.AddCommand(conferenceCmd)

	conferenceCmd.Flags().StringVar(&conferenceIdentity, "identity", "",
		"Identity to join as (defaults to the configured user id)")
}

func runConference(_ *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closeLog, err := log.Init(paths.LogFile())
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer closeLog()
	log.SetEnabled(debugMode || os.Getenv("TASKBRIDGE_DEBUG") != "")

	roomID := args[0]
	identity := conferenceIdentity
	if identity == "" {
		identity = strconv.FormatInt(cfg.UserID, 10)
	}

	client := rest.NewClient(cfg.API.BaseURL)
	tokens := conference.NewTokenClient(client, cfg.Conference.TokenTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	token, err := tokens.Token(ctx, roomID, identity)
	cancel()
	if err != nil {
		return fmt.Errorf("requesting room token: %w", err)
	}
	log.Debug(log.CatConf, "room token issued", "room", roomID, "bytes", len(token))

	sess := conference.NewSession(conference.Config{
		SignalURL:   cfg.Conference.SignalURL,
		ICEServers:  cfg.ICEServers,
		RejoinDelay: cfg.Conference.RejoinDelay,
	})

	unsubscribe := sess.SubscribeStatus(func(status conference.CallStatus) {
		switch status {
		case conference.CallConnected:
			fmt.Printf("Connected to %s (%d participant(s))\n", roomID, len(sess.Participants()))
		case conference.CallFailed:
			fmt.Fprintln(os.Stderr, sess.LastError())
		}
	})
	defer unsubscribe()

	fmt.Printf("Joining %s as %s... (ctrl+c to leave)\n", roomID, identity)
	sess.Join(roomID, identity)
	defer sess.Leave()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Leaving room...")
	return nil
}
