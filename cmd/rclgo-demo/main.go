// Command rclgo-demo wires one node, a wall timer and an action
// server/client pair over the loopback middleware (spec.md §6 Public API
// surface), so the rest of this module has something runnable to exercise
// end to end without a real DDS transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/rclgo/rclgo/action"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/mw/loopback"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/node"
	"github.com/rclgo/rclgo/rclctx"
)

func main() {
	period := flag.Duration("period", 200*time.Millisecond, "wall timer period")
	ticks := flag.Int("ticks", 5, "number of wall timer ticks before exiting")
	flag.Parse()

	log := rlog.New(os.Stdout, logiface.LevelInformational)

	if err := run(log, *period, *ticks); err != nil {
		log.Err().Err(err).Log("rclgo-demo: fatal")
		os.Exit(1)
	}
}

func run(log *rlog.Logger, period time.Duration, ticks int) error {
	bus := loopback.New()
	ctx := rclctx.New("demo", bus, clock.System{}, nil)
	defer ctx.Halt()

	n := node.New(ctx, bus, "demo_node", "/", rclctx.NodeOptions{})

	sel, err := n.CreateSelector(context.Background())
	if err != nil {
		return fmt.Errorf("create selector: %w", err)
	}

	table := n.CreateActionServer(
		sel, "move", 2*time.Second,
		func(uuid [16]byte, goal any) bool {
			log.Info().Str("goal", fmt.Sprintf("%x", uuid)).Log("accepting goal")
			return true
		},
		func(h *action.GoalHandle) {
			// The table has already driven h into Executing by the time this
			// runs, so a synchronous Finish is valid here.
			if err := h.Finish("done"); err != nil {
				log.Warning().Err(err).Log("finish goal")
			}
		},
		func(h *action.GoalHandle) bool { return true },
	)
	client := n.CreateActionClient("move")

	var (
		mu        sync.Mutex
		goalSeq   int64
		resultSeq int64
	)

	remaining := ticks
	n.CreateWallTimer(sel, "tick", period, func() {
		remaining--
		log.Info().Int("remaining", remaining).Log("tick")

		uuid := action.NewGoalUUID()
		seq, err := client.SendGoal(uuid, "forward")
		if err != nil {
			log.Warning().Err(err).Log("send goal")
		} else {
			mu.Lock()
			goalSeq = seq
			mu.Unlock()
			if rs, err := client.SendResultRequest(uuid); err != nil {
				log.Warning().Err(err).Log("send result request")
			} else {
				mu.Lock()
				resultSeq = rs
				mu.Unlock()
			}
		}

		if remaining <= 0 {
			ctx.Halt()
		}
	})

	for {
		if err := sel.Wait(context.Background()); err != nil {
			table.DrainStatusDirty()
			log.Info().Err(err).Log("selector halted, exiting")
			return nil
		}
		table.DrainStatusDirty()

		mu.Lock()
		wantGoalSeq, wantResultSeq := goalSeq, resultSeq
		mu.Unlock()

		if _, _, reqID, ok, err := client.TryRecvGoalResponse(wantGoalSeq); ok {
			log.Info().Int64("seq", reqID.SequenceNumber).Log("goal accepted")
		} else if err != nil {
			log.Warning().Err(err).Log("recv goal response")
		}

		if status, result, reqID, ok, err := client.TryRecvResultResponse(wantResultSeq); ok {
			log.Info().Int64("seq", reqID.SequenceNumber).Int("status", int(status)).Log(fmt.Sprintf("result: %v", result))
		} else if err != nil {
			log.Warning().Err(err).Log("recv result response")
		}
	}
}
