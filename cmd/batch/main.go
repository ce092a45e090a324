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
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"transfer-orchestrator-go/internal/batch"
	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/config"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/monitor"

	"go.uber.org/zap"
)

func usage() {
	fmt.Println("Usage: batch <create|execute|cancel|get|list> [flags]")
	fmt.Println("  create  --user <id> --requests <file.json>")
	fmt.Println("  execute --user <id> --batch <id> [--stop-on-error] [--max-retries N]")
	fmt.Println("  cancel  --user <id> --batch <id>")
	fmt.Println("  get     --user <id> --batch <id>")
	fmt.Println("  list    --user <id>")
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
	case "execute":
		runExecute(ctx, cfg)
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

// newBatchService wires the full dependency graph, including auto-monitoring
// of successful submissions.
func newBatchService(ctx context.Context, cfg *models.Config) (*batch.Service, *common.Services) {
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}

	monitorSvc := monitor.NewService(monitor.ServiceParams{
		Store:    services.Store,
		Notifier: services.Notifier,
		Config:   cfg.Monitor,
	})

	return batch.NewService(batch.ServiceParams{
		Store:    services.Store,
		Executor: services.Executor,
		Notifier: services.Notifier,
		Journal:  services.Journal,
		Registry: services.Registry,
		Watcher:  monitorSvc,
		Config:   cfg.Batch,
	}), services
}

func loadRequests(path string) ([]models.TransferRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	var requests []models.TransferRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return requests, nil
}

func runCreate(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	requestsFile := fs.String("requests", "", "Path to a JSON array of transfer requests (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *requestsFile == "" {
		zap.L().Fatal("--user and --requests are required")
	}

	requests, err := loadRequests(*requestsFile)
	if err != nil {
		zap.L().Fatal("Failed to load requests", zap.Error(err))
	}

	svc, services := newBatchService(ctx, cfg)
	defer services.Close()

	job, err := svc.CreateBatch(ctx, *user, requests)
	if err != nil {
		zap.L().Fatal("Failed to create batch", zap.Error(err))
	}

	common.PrintHeader("BATCH CREATED", common.DefaultWidth)
	fmt.Printf("Batch ID: %s\n", job.Id)
	fmt.Printf("User:     %s\n", job.UserId)
	fmt.Printf("Requests: %d\n", len(job.Requests))
	fmt.Printf("Status:   %s\n", job.Status)
	common.PrintSeparator("=", common.DefaultWidth)
}

func runExecute(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	batchId := fs.String("batch", "", "Batch id (required)")
	stopOnError := fs.Bool("stop-on-error", false, "Halt at the first failed item")
	maxRetries := fs.Int("max-retries", 0, "Executor attempts per item (default from config)")
	fs.Parse(os.Args[2:])

	if *user == "" || *batchId == "" {
		zap.L().Fatal("--user and --batch are required")
	}

	svc, services := newBatchService(ctx, cfg)
	defer services.Close()

	result, err := svc.ExecuteBatch(ctx, *user, *batchId, models.BatchExecutionOptions{
		StopOnError: *stopOnError,
		MaxRetries:  *maxRetries,
	})
	if err != nil {
		zap.L().Fatal("Failed to execute batch", zap.Error(err))
	}

	common.PrintHeader("BATCH EXECUTION RESULT", common.DefaultWidth)
	fmt.Printf("Batch ID:  %s\n", result.BatchId)
	fmt.Printf("Status:    %s\n", result.Status)
	fmt.Printf("Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Attempted: %d\n", result.Attempted)
	fmt.Printf("Succeeded: %d\n", len(result.SucceededIds))
	fmt.Printf("Failed:    %d\n", len(result.FailedItems))
	for _, item := range result.FailedItems {
		fmt.Printf("  item %d (%d attempts): %s\n", item.Index, item.Attempts, item.Error)
	}

	summary := fmt.Sprintf("Batch %s finished with status %s: %d/%d transfers submitted",
		result.BatchId, result.Status, len(result.SucceededIds), result.TotalRequests)
	common.PrintFooter(summary, common.DefaultWidth)
}

func runCancel(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	batchId := fs.String("batch", "", "Batch id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *batchId == "" {
		zap.L().Fatal("--user and --batch are required")
	}

	svc, services := newBatchService(ctx, cfg)
	defer services.Close()

	if _, err := svc.CancelBatch(ctx, *user, *batchId); err != nil {
		zap.L().Fatal("Failed to cancel batch", zap.Error(err))
	}
	fmt.Printf("Batch %s cancelled\n", *batchId)
}

func runGet(ctx context.Context, cfg *models.Config) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	user := fs.String("user", "", "User id (required)")
	batchId := fs.String("batch", "", "Batch id (required)")
	fs.Parse(os.Args[2:])

	if *user == "" || *batchId == "" {
		zap.L().Fatal("--user and --batch are required")
	}

	st, err := common.InitializeStoreOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to state store", zap.Error(err))
	}
	defer st.Close()

	job, err := st.GetBatch(ctx, *user, *batchId)
	if err != nil {
		zap.L().Fatal("Failed to load batch", zap.Error(err))
	}

	printBatch(job)
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

	jobs, err := st.ListUserBatches(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to list batches", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("BATCHES FOR %s", *user), common.DefaultWidth)
	if len(jobs) == 0 {
		fmt.Println("No batches found")
	}
	for i, job := range jobs {
		isLast := i == len(jobs)-1
		fmt.Printf("%s%s  %s  %d requests  (%d ok / %d failed)\n",
			common.BoxPrefix(isLast), job.Id, job.Status,
			len(job.Requests), len(job.SucceededIds), len(job.FailedItems))
		fmt.Printf("%s   created %s\n",
			common.BoxDetailPrefix(isLast), job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func printBatch(job *models.BatchJob) {
	common.PrintHeader("BATCH", common.DefaultWidth)
	fmt.Printf("Batch ID:  %s\n", job.Id)
	fmt.Printf("User:      %s\n", job.UserId)
	fmt.Printf("Status:    %s\n", job.Status)
	fmt.Printf("Requests:  %d\n", len(job.Requests))
	fmt.Printf("Succeeded: %d\n", len(job.SucceededIds))
	fmt.Printf("Failed:    %d\n", len(job.FailedItems))
	fmt.Printf("Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if !job.CompletedAt.IsZero() {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	common.PrintSeparator("=", common.DefaultWidth)
}
