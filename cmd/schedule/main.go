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
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/config"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/scheduler"

	"go.uber.org/zap"
)

func usage() {
	fmt.Println("Usage: schedule <create|cancel|get|list> [flags]")
	fmt.Println("  create --user <id> --chain <chain> --asset <symbol> --destination <addr>")
	fmt.Println("         --amount <decimal> --at <RFC3339 time> [--max-retries N]")
	fmt.Println("  cancel --user <id> --schedule <id>")
	fmt.Println("  get    --user <id> --schedule <id>")
	fmt.Println("  list   --user <id>")
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

	switch action {
	case "create":
		runCreate(ctx, cfg)
	case "cancel":
		runCancel(ctx, cfg)
	case "get":
		runGet(ctx, cfg)
	case "list":
		runList(ctx, cfg)
	default:
		usage()
	}
}

// newSchedulerService wires a scheduler without starting its dispatch loop;
// the loop belongs to the orchestrator daemon, the CLI only mutates state.
func newSchedulerService(ctx context.Context, cfg *models.Config) (*scheduler.Service, *common.Services) {
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}

	return scheduler.NewService(scheduler.ServiceParams{
		Store:    services.Store,
		Executor: services.Executor,
		Notifier: services.Notifier,
		Journal:  services.Journal,
		Registry: services.Registry,
		Config:   cfg.Scheduler,
	}), services
}

func runCreate(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	chain := fs.String("chain", "", "Chain identifier, e.g. ethereum-mainnet (required)")
	asset := fs.String("asset", "", "Asset symbol (required)")
	destination := fs.String("destination", "", "Destination address (required)")
	amount := fs.String("amount", "", "Amount as a decimal string (required)")
	at := fs.String("at", "", "Execution time, RFC3339 (required)")
	maxRetries := fs.Int("max-retries", 0, "Dispatch attempts before giving up (default from config)")
	fs.Parse(os.Args[2:])

	if *user == "" || *chain == "" || *asset == "" || *destination == "" || *amount == "" || *at == "" {
		zap.L().Fatal("--user, --chain, --asset, --destination, --amount and --at are required")
	}

	scheduledFor, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		zap.L().Fatal("Invalid --at value, expected RFC3339", zap.Error(err))
	}

	svc, services := newSchedulerService(ctx, cfg)
	defer services.Close()

	sched, err := svc.ScheduleTransaction(ctx, *user, models.TransferRequest{
		Chain:       *chain,
		Asset:       *asset,
		Destination: *destination,
		Amount:      *amount,
	}, scheduledFor, models.ScheduleOptions{MaxRetries: *maxRetries})
	if err != nil {
		zap.L().Fatal("Failed to schedule transaction", zap.Error(err))
	}

	common.PrintHeader("TRANSACTION SCHEDULED", common.DefaultWidth)
	fmt.Printf("Schedule ID:   %s\n", sched.Id)
	fmt.Printf("User:          %s\n", sched.UserId)
	fmt.Printf("Asset:         %s on %s\n", sched.Request.Asset, sched.Request.Chain)
	fmt.Printf("Amount:        %s\n", sched.Request.Amount)
	fmt.Printf("Destination:   %s\n", sched.Request.Destination)
	fmt.Printf("Scheduled for: %s\n", sched.ScheduledFor.Format(time.RFC3339))
	fmt.Printf("Max retries:   %d\n", sched.MaxRetries)
	common.PrintSeparator("=", common.DefaultWidth)
}

func runCancel(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	scheduleId := fs.String("schedule", "", "Schedule id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *scheduleId == "" {
		zap.L().Fatal("--user and --schedule are required")
	}

	svc, services := newSchedulerService(ctx, cfg)
	defer services.Close()

	if _, err := svc.CancelScheduledTransaction(ctx, *user, *scheduleId); err != nil {
		zap.L().Fatal("Failed to cancel scheduled transaction", zap.Error(err))
	}
	fmt.Printf("Scheduled transaction %s cancelled\n", *scheduleId)
}

func runGet(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	scheduleId := fs.String("schedule", "", "Schedule id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *scheduleId == "" {
		zap.L().Fatal("--user and --schedule are required")
	}

	st, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to state store", zap.Error(err))
	}
	defer st.Close()

	sched, err := st.GetSchedule(ctx, *user, *scheduleId)
	if err != nil {
		zap.L().Fatal("Failed to load scheduled transaction", zap.Error(err))
	}

	common.PrintHeader("SCHEDULED TRANSACTION", common.DefaultWidth)
	fmt.Printf("Schedule ID:   %s\n", sched.Id)
	fmt.Printf("Status:        %s\n", sched.Status)
	fmt.Printf("Asset:         %s on %s\n", sched.Request.Asset, sched.Request.Chain)
	fmt.Printf("Amount:        %s\n", sched.Request.Amount)
	fmt.Printf("Scheduled for: %s\n", sched.ScheduledFor.Format(time.RFC3339))
	fmt.Printf("Retries:       %d of %d\n", sched.RetryCount, sched.MaxRetries)
	if sched.TransferId != "" {
		fmt.Printf("Transfer ID:   %s\n", sched.TransferId)
	}
	if !sched.ExecutedAt.IsZero() {
		fmt.Printf("Executed at:   %s\n", sched.ExecutedAt.Format(time.RFC3339))
	}
	if sched.LastError != "" {
		fmt.Printf("Last error:    %s\n", sched.LastError)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func runList(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		zap.L().Fatal("--user is required")
	}

	st, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to state store", zap.Error(err))
	}
	defer st.Close()

	scheds, err := st.ListUserSchedules(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to list scheduled transactions", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("SCHEDULED TRANSACTIONS FOR %s", *user), common.DefaultWidth)
	if len(scheds) == 0 {
		fmt.Println("No scheduled transactions found")
	}
	for i, sched := range scheds {
		isLast := i == len(scheds)-1
		fmt.Printf("%s%s  %s  %s %s -> %s\n",
			common.BoxPrefix(isLast), sched.Id, sched.Status,
			sched.Request.Amount, sched.Request.Asset, sched.Request.Destination)
		fmt.Printf("%s   due %s, retries %d/%d\n",
			common.BoxDetailPrefix(isLast),
			sched.ScheduledFor.Format(time.RFC3339), sched.RetryCount, sched.MaxRetries)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}
