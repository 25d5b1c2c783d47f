package main

// ============================================================================
// 職責說明：
// 1. 端到端示範：以加速時鐘重放一段合成路線
// 2. 中途模擬 App 進入背景，樣本寫入 spool，回到前景後一次補算
// 3. 結束後把紀錄寫入暫存歷史資料庫並印出摘要
// ============================================================================

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/clock"
	"github.com/ChuLiYu/pacemaker/internal/controller"
	"github.com/ChuLiYu/pacemaker/internal/display"
	"github.com/ChuLiYu/pacemaker/internal/history"
	"github.com/ChuLiYu/pacemaker/internal/metrics"
	"github.com/ChuLiYu/pacemaker/internal/positioning"
	"github.com/ChuLiYu/pacemaker/internal/session"
	"github.com/ChuLiYu/pacemaker/internal/speech"
	"github.com/ChuLiYu/pacemaker/internal/storage/spool"
	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	goalKm      = 1.5
	goalMinutes = 9.0
	routePace   = 5.5 // 比目標配速 6:00 快
	suspendAt   = 3 * time.Minute
	suspendFor  = 2 * time.Minute
)

func main() {
	speed := 60.0
	if len(os.Args) > 1 {
		v, err := strconv.ParseFloat(os.Args[1], 64)
		if err != nil || v <= 0 {
			fmt.Println("Usage: go run cmd/demo/main.go [speed]")
			os.Exit(1)
		}
		speed = v
	}

	dir, err := os.MkdirTemp("", "pacemaker-demo-")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	hist, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}
	defer hist.Close()

	buf, err := spool.Open(filepath.Join(dir, "spool.jsonl"))
	if err != nil {
		log.Fatalf("Failed to open spool: %v", err)
	}
	defer buf.Close()

	clk := clock.NewScaled(time.Now(), speed)

	route := positioning.DefaultRoute(clk.Now())
	route.DistanceKm = goalKm * 1.02
	route.PaceMinPerKm = routePace
	source := positioning.NewReplay(positioning.ReplayConfig{
		Samples:     route.Samples(),
		Clock:       clk,
		Buffer:      buf,
		Permissions: positioning.Permissions{Foreground: true, Background: true},
	})

	collector := metrics.NewCollector(prometheus.NewRegistry())

	dispatcher := speech.NewDispatcher(speech.NewLogSpeaker(os.Stdout), func(r speech.Result) {
		collector.ObserveSpeech(r.Err, r.Duration)
	})
	if err := dispatcher.Start(); err != nil {
		log.Fatalf("Failed to start speech: %v", err)
	}
	defer dispatcher.Stop()

	settings := types.DefaultSettings()
	settings.TimeIntervalSec = 60
	settings.CheckpointKm = 0.5

	goal, err := session.NewGoal(goalKm, goalMinutes)
	if err != nil {
		log.Fatalf("Invalid goal: %v", err)
	}
	sess, err := session.New(goal, settings)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	renderer := display.NewRenderer(os.Stdout, settings.Unit)
	ctrl, err := controller.New(sess, controller.Deps{
		Positioning: source,
		Speech:      dispatcher,
		History:     hist,
		Metrics:     collector,
		Clock:       clk,
	}, controller.Config{
		TickInterval:    clk.RealDuration(time.Second),
		StopOnStreamEnd: true,
		OnUpdate:        renderer.Update,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("✓ Goal: %.1f km in %.0f min, replaying at %.0fx\n", goalKm, goalMinutes, speed)
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("Failed to start run: %v", err)
	}

	select {
	case <-time.After(clk.RealDuration(suspendAt)):
		if err := ctrl.Suspend(); err == nil {
			fmt.Printf("\n⏸  App in the background for %s, fixes go to the spool\n", suspendFor)
			time.Sleep(clk.RealDuration(suspendFor))
			fmt.Printf("▶  Back in the foreground, %d samples waiting\n\n", buf.Len())
			if err := ctrl.Resume(); err != nil {
				log.Printf("Resume failed: %v", err)
			}
		}
	case <-ctrl.Done():
	}

	<-ctrl.Done()
	ctrl.Stop()
	renderer.Finish(ctrl.Snapshot(), ctrl.Result())

	runs, err := hist.List(context.Background())
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}
	sum, err := hist.Summary(context.Background())
	if err != nil {
		log.Fatalf("Failed to summarize history: %v", err)
	}
	fmt.Println()
	fmt.Println(display.HistoryTable(runs, sum, settings.Unit))
}
