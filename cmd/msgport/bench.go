package main

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Send messages from many goroutines to a loop that starts late",
	Long: `Creates a channel on a loop future, starts --senders goroutines that each
send --messages messages, and creates the receiving loop after --delay. Reports
throughput and verifies that every sender's messages arrived in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		senders, _ := cmd.Flags().GetInt("senders")
		messages, _ := cmd.Flags().GetInt("messages")
		delay, _ := cmd.Flags().GetDuration("delay")
		return runBench(cmd, senders, messages, delay)
	},
}

func init() {
	benchCmd.Flags().Int("senders", 4, "Concurrent sending goroutines")
	benchCmd.Flags().Int("messages", 10000, "Messages per sender")
	benchCmd.Flags().Duration("delay", 5*time.Millisecond, "Delay before the receiving loop exists")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, senders, messages int, delay time.Duration) error {
	if senders <= 0 || messages <= 0 {
		return fmt.Errorf("senders and messages must be positive")
	}
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	promise := core.NewLoopPromise()
	ch := channel.NewDeferredWithConfig(promise.Future(), "bench", e.channelConfig())

	total := senders * messages
	next := make([]int, senders)
	var received, outOfOrder atomic.Int64
	done := make(chan struct{})
	ch.Port2.OnMessage(func(ctx context.Context, msg *channel.Message) {
		var sender, seq int
		if _, err := fmt.Sscanf(msg.Text(), "%d:%d", &sender, &seq); err != nil {
			e.logger.Error("malformed message", core.F("text", msg.Text()), core.F("error", err))
			return
		}
		// Handlers run on one loop, so next needs no lock.
		if next[sender] != seq {
			outOfOrder.Add(1)
		}
		next[sender] = seq + 1
		if received.Add(1) == int64(total) {
			close(done)
		}
	})

	start := time.Now()
	g, gctx := errgroup.WithContext(cmd.Context())
	for s := 0; s < senders; s++ {
		g.Go(func() error {
			for i := 0; i < messages; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := ch.Port1.Send(channel.NewTextMessage(fmt.Sprintf("%d:%d", s, i))); err != nil {
					return fmt.Errorf("sender %d message %d: %w", s, i, err)
				}
			}
			return nil
		})
	}

	var loop *core.SingleThreadTaskRunner
	g.Go(func() error {
		time.Sleep(delay)
		loop = core.NewSingleThreadTaskRunnerWithConfig(e.runnerConfig("bench"))
		e.watchLoop("bench", loop)
		promise.Resolve(loop)
		return nil
	})

	err = g.Wait()
	if loop != nil {
		defer loop.Stop()
	}
	if err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out with %d of %d messages delivered", received.Load(), total)
	}
	elapsed := time.Since(start)
	// Port1 owns Port2; keep the pair alive until everything is delivered.
	runtime.KeepAlive(ch)

	fmt.Fprintf(cmd.OutOrStdout(), "delivered %d messages in %s (%.0f msg/s), out of order: %d\n",
		total, elapsed, float64(total)/elapsed.Seconds(), outOfOrder.Load())
	if n := outOfOrder.Load(); n > 0 {
		return fmt.Errorf("%d messages arrived out of order", n)
	}
	return nil
}
