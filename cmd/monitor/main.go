/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/config"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/monitor"
	"transfer-orchestrator-go/internal/notify"
	"transfer-orchestrator-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func usage() {
	fmt.Println("Usage: monitor <start|stop|update|list|stuck|config|subscribe|unsubscribe|subscriptions> [flags]")
	fmt.Println("  start         --user <id> --transfer <id> --chain <chain> [--hash <hash>] [--confirmations N]")
	fmt.Println("  stop          --user <id> --transfer <id>")
	fmt.Println("  update        --user <id> --transfer <id> --status <PENDING|CONFIRMED|FAILED> --confirmations N")
	fmt.Println("  list          --user <id>")
	fmt.Println("  stuck         --user <id>")
	fmt.Println("  config        --user <id> [--set] [--confirmations N] [--auto-monitor] [--alert-confirmed] [--alert-failed] [--alert-stuck]")
	fmt.Println("  subscribe     --user <id> --url <webhook url> [--events a,b,c]")
	fmt.Println("  unsubscribe   --user <id> --subscription <id>")
	fmt.Println("  subscriptions --user <id>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	action := os.Args[1]

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// Monitoring never submits transfers, so the CLI only needs the state
	// store and the webhook sink.
	st, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to state store", zap.Error(err))
	}
	defer st.Close()

	svc := monitor.NewService(monitor.ServiceParams{
		Store:    st,
		Notifier: notify.NewWebhookNotifier(st, cfg.Webhook),
		Config:   cfg.Monitor,
	})

	switch action {
	case "start":
		runStart(ctx, svc)
	case "stop":
		runStop(ctx, svc)
	case "update":
		runUpdate(ctx, svc)
	case "list":
		runList(ctx, svc)
	case "stuck":
		runStuck(ctx, svc)
	case "config":
		runConfig(ctx, svc)
	case "subscribe":
		runSubscribe(ctx, st)
	case "unsubscribe":
		runUnsubscribe(ctx, st)
	case "subscriptions":
		runSubscriptions(ctx, st)
	default:
		usage()
	}
}

func runStart(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	transfer := fs.String("transfer", "", "Transfer id (required)")
	chain := fs.String("chain", "", "Chain identifier (required)")
	hash := fs.String("hash", "", "Transaction hash (optional)")
	confirmations := fs.Int("confirmations", 0, "Required confirmations (default from config)")
	fs.Parse(os.Args[2:])

	if *user == "" || *transfer == "" || *chain == "" {
		zap.L().Fatal("--user, --transfer and --chain are required")
	}

	mon, err := svc.StartMonitoring(ctx, *user, *transfer, *chain, *hash, *confirmations)
	if err != nil {
		zap.L().Fatal("Failed to start monitoring", zap.Error(err))
	}
	fmt.Printf("Monitoring %s (%d confirmations required)\n", mon.TransferId, mon.RequiredConfirmations)
}

func runStop(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	transfer := fs.String("transfer", "", "Transfer id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *transfer == "" {
		zap.L().Fatal("--user and --transfer are required")
	}

	if _, err := svc.StopMonitoring(ctx, *user, *transfer); err != nil {
		zap.L().Fatal("Failed to stop monitoring", zap.Error(err))
	}
	fmt.Printf("Stopped monitoring %s\n", *transfer)
}

func runUpdate(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	transfer := fs.String("transfer", "", "Transfer id (required)")
	status := fs.String("status", "", "New status: PENDING, CONFIRMED or FAILED (required)")
	confirmations := fs.Int("confirmations", 0, "Observed confirmation count")
	fs.Parse(os.Args[2:])

	if *user == "" || *transfer == "" || *status == "" {
		zap.L().Fatal("--user, --transfer and --status are required")
	}

	mon, err := svc.UpdateStatus(ctx, *user, *transfer, strings.ToUpper(*status), *confirmations)
	if err != nil {
		zap.L().Fatal("Failed to update status", zap.Error(err))
	}
	fmt.Printf("Transfer %s is %s (%d/%d confirmations)\n",
		mon.TransferId, mon.Status, mon.Confirmations, mon.RequiredConfirmations)
}

func runList(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		zap.L().Fatal("--user is required")
	}

	mons, err := svc.GetUserMonitors(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to list monitored transfers", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("MONITORED TRANSFERS FOR %s", *user), common.DefaultWidth)
	if len(mons) == 0 {
		fmt.Println("No monitored transfers found")
	}
	for i, mon := range mons {
		isLast := i == len(mons)-1
		fmt.Printf("%s%s  %s  %d/%d confirmations\n",
			common.BoxPrefix(isLast), mon.TransferId, mon.Status,
			mon.Confirmations, mon.RequiredConfirmations)
		fmt.Printf("%s   %s, last checked %s\n",
			common.BoxDetailPrefix(isLast), mon.Chain,
			mon.LastChecked.Format(time.RFC3339))
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func runStuck(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("stuck", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		zap.L().Fatal("--user is required")
	}

	alerted, err := svc.CheckStuckTransactions(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to check stuck transactions", zap.Error(err))
	}
	fmt.Printf("%d stuck alert(s) raised\n", alerted)
}

func runConfig(ctx context.Context, svc *monitor.Service) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	set := fs.Bool("set", false, "Write the configuration instead of reading it")
	confirmations := fs.Int("confirmations", 0, "Default required confirmations")
	autoMonitor := fs.Bool("auto-monitor", false, "Monitor successful submissions automatically")
	alertConfirmed := fs.Bool("alert-confirmed", true, "Alert on confirmation")
	alertFailed := fs.Bool("alert-failed", true, "Alert on on-chain failure")
	alertStuck := fs.Bool("alert-stuck", true, "Alert on stuck transfers")
	fs.Parse(os.Args[2:])

	if *user == "" {
		zap.L().Fatal("--user is required")
	}

	if *set {
		err := svc.SetMonitoringConfig(ctx, &models.MonitoringConfig{
			UserId:                *user,
			RequiredConfirmations: *confirmations,
			AutoMonitor:           *autoMonitor,
			AlertOnConfirmed:      *alertConfirmed,
			AlertOnFailed:         *alertFailed,
			AlertOnStuck:          *alertStuck,
		})
		if err != nil {
			zap.L().Fatal("Failed to store monitoring config", zap.Error(err))
		}
		fmt.Println("Monitoring config updated")
		return
	}

	cfg := svc.GetMonitoringConfig(ctx, *user)
	common.PrintHeader(fmt.Sprintf("MONITORING CONFIG FOR %s", *user), common.DefaultWidth)
	fmt.Printf("Required confirmations: %d\n", cfg.RequiredConfirmations)
	fmt.Printf("Auto-monitor:           %t\n", cfg.AutoMonitor)
	fmt.Printf("Alert on confirmed:     %t\n", cfg.AlertOnConfirmed)
	fmt.Printf("Alert on failed:        %t\n", cfg.AlertOnFailed)
	fmt.Printf("Alert on stuck:         %t\n", cfg.AlertOnStuck)
	fmt.Printf("Stuck threshold:        %s\n", cfg.StuckThreshold)
	common.PrintSeparator("=", common.DefaultWidth)
}

func runSubscribe(ctx context.Context, st store.OrchestratorStore) {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	url := fs.String("url", "", "Webhook endpoint URL (required)")
	events := fs.String("events", "", "Comma-separated event filter (empty = all events)")
	fs.Parse(os.Args[2:])

	if *user == "" || *url == "" {
		zap.L().Fatal("--user and --url are required")
	}

	sub := &models.Subscription{
		Id:        uuid.New().String(),
		UserId:    *user,
		URL:       *url,
		CreatedAt: time.Now().UTC(),
	}
	if *events != "" {
		sub.Events = strings.Split(*events, ",")
	}

	if err := st.AddSubscription(ctx, sub); err != nil {
		zap.L().Fatal("Failed to add subscription", zap.Error(err))
	}
	fmt.Printf("Subscription %s created\n", sub.Id)
}

func runUnsubscribe(ctx context.Context, st store.OrchestratorStore) {
	fs := flag.NewFlagSet("unsubscribe", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	subscription := fs.String("subscription", "", "Subscription id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *subscription == "" {
		zap.L().Fatal("--user and --subscription are required")
	}

	removed, err := st.RemoveSubscription(ctx, *user, *subscription)
	if err != nil {
		zap.L().Fatal("Failed to remove subscription", zap.Error(err))
	}
	if !removed {
		fmt.Printf("Subscription %s not found\n", *subscription)
		return
	}
	fmt.Printf("Subscription %s removed\n", *subscription)
}

func runSubscriptions(ctx context.Context, st store.OrchestratorStore) {
	fs := flag.NewFlagSet("subscriptions", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		zap.L().Fatal("--user is required")
	}

	subs, err := st.ListSubscriptions(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to list subscriptions", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("WEBHOOK SUBSCRIPTIONS FOR %s", *user), common.DefaultWidth)
	if len(subs) == 0 {
		fmt.Println("No subscriptions found")
	}
	for i, sub := range subs {
		isLast := i == len(subs)-1
		events := "all events"
		if len(sub.Events) > 0 {
			events = strings.Join(sub.Events, ", ")
		}
		fmt.Printf("%s%s  %s\n", common.BoxPrefix(isLast), sub.Id, sub.URL)
		fmt.Printf("%s   %s\n", common.BoxDetailPrefix(isLast), events)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}
