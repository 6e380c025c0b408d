package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/embedder"
)

var pingpongCmd = &cobra.Command{
	Use:   "pingpong",
	Short: "Play ping-pong between the embedder and a runtime loop",
	Long: `Starts a runtime loop running a small script and exchanges messages with
it through the embedder port until the script has received --rounds messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rounds, _ := cmd.Flags().GetInt("rounds")
		scriptFirst, _ := cmd.Flags().GetBool("script-first")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return runPingPong(cmd, rounds, scriptFirst, timeout)
	},
}

func init() {
	pingpongCmd.Flags().Int("rounds", 10, "Messages the script receives before stopping")
	pingpongCmd.Flags().Bool("script-first", false, "Let the script send the first ping")
	pingpongCmd.Flags().Duration("timeout", 10*time.Second, "Give up after this long")
	rootCmd.AddCommand(pingpongCmd)
}

func runPingPong(cmd *cobra.Command, rounds int, scriptFirst bool, timeout time.Duration) error {
	if rounds <= 0 {
		return fmt.Errorf("rounds must be positive, got %d", rounds)
	}
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	rt := embedder.NewRuntime(&embedder.Config{
		Loop:    e.runnerConfig("runtime"),
		Channel: e.channelConfig(),
		Logger:  e.logger,
	})
	e.watchLoop("runtime", rt.Loop())

	out := cmd.OutOrStdout()
	stamp := func() string { return time.Now().Format("04:05.000") }

	var embedderReceived atomic.Int32
	port := rt.Port()
	port.OnMessage(func(ctx context.Context, msg *channel.Message) {
		n := embedderReceived.Add(1)
		reply := "ping"
		if msg.Text() == "ping" {
			reply = fmt.Sprintf("pong %d", n)
		}
		fmt.Fprintf(out, "%s NS %s\n", stamp(), reply)
		if err := port.Send(channel.NewTextMessage(reply)); err != nil {
			e.logger.Warn("embedder send failed", core.F("error", err))
		}
	})

	var scriptReceived atomic.Int32
	script := func(ctx context.Context, host *embedder.Host) {
		host.Ref()
		host.OnMessage(func(ctx context.Context, msg *channel.Message) {
			n := scriptReceived.Add(1)
			if int(n) >= rounds {
				fmt.Fprintf(out, "%s JS stop\n", stamp())
				host.Unref()
				return
			}
			reply := "ping"
			if msg.Text() == "ping" {
				reply = fmt.Sprintf("pong %d", n)
			}
			fmt.Fprintf(out, "%s JS %s\n", stamp(), reply)
			if err := host.PostMessage(reply); err != nil {
				e.logger.Warn("script send failed", core.F("error", err))
			}
		})
		if scriptFirst {
			fmt.Fprintf(out, "%s JS ping\n", stamp())
			if err := host.PostMessage("ping"); err != nil {
				e.logger.Warn("script send failed", core.F("error", err))
			}
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, script) }()

	if !scriptFirst {
		if err := waitStarted(ctx, rt); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s NS ping\n", stamp())
		if err := port.Send(channel.NewTextMessage("ping")); err != nil {
			return fmt.Errorf("first ping: %w", err)
		}
	}

	if err := <-done; err != nil {
		return err
	}
	fmt.Fprintf(out, "script received %d, embedder received %d\n",
		scriptReceived.Load(), embedderReceived.Load())
	return nil
}

func waitStarted(ctx context.Context, rt *embedder.Runtime) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !rt.Started() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for script handler: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
