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

package executor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"transfer-orchestrator-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Compile-time check: *PrimeExecutor must satisfy TransferExecutor.
var _ TransferExecutor = (*PrimeExecutor)(nil)

// PrimeExecutor submits transfers as Coinbase Prime wallet withdrawals.
// Trading wallets are resolved per asset symbol and cached for the life of
// the executor.
type PrimeExecutor struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService

	portfolioId string

	mu          sync.Mutex
	walletCache map[string]string // asset symbol -> wallet id
}

// NewPrimeExecutor connects to Prime and resolves the default portfolio.
func NewPrimeExecutor(ctx context.Context, creds *credentials.Credentials) (*PrimeExecutor, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	e := &PrimeExecutor{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		walletCache:     make(map[string]string),
	}

	portfolioId, err := e.findDefaultPortfolio(ctx)
	if err != nil {
		return nil, err
	}
	e.portfolioId = portfolioId

	zap.L().Info("Prime transfer executor initialized",
		zap.String("portfolio_id", portfolioId))

	return e, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (e *PrimeExecutor) findDefaultPortfolio(ctx context.Context) (string, error) {
	response, err := e.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}

	for _, p := range response.Portfolios {
		if p.Name == "Default Portfolio" {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

// walletForAsset resolves (and caches) the trading wallet holding the asset.
func (e *PrimeExecutor) walletForAsset(ctx context.Context, symbol string) (string, error) {
	e.mu.Lock()
	if id, ok := e.walletCache[symbol]; ok {
		e.mu.Unlock()
		return id, nil
	}
	e.mu.Unlock()

	response, err := e.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: e.portfolioId,
		Type:        "TRADING",
		Symbols:     []string{symbol},
	})
	if err != nil {
		return "", fmt.Errorf("unable to list wallets for %s: %w", symbol, err)
	}
	if len(response.Wallets) == 0 {
		return "", fmt.Errorf("no trading wallet found for asset %s", symbol)
	}

	id := response.Wallets[0].Id
	e.mu.Lock()
	e.walletCache[symbol] = id
	e.mu.Unlock()
	return id, nil
}

// Submit creates a wallet withdrawal on Prime and returns its activity id as
// the transfer id. The on-chain hash is not known at submission time; the
// monitor learns it from later status updates.
func (e *PrimeExecutor) Submit(ctx context.Context, req models.TransferRequest) (*models.SubmitResult, error) {
	walletId, err := e.walletForAsset(ctx, req.Asset)
	if err != nil {
		return nil, err
	}

	idempotencyKey := req.Reference
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	blockchainAddr := &model.BlockchainAddress{
		Address: req.Destination,
	}

	// Chain identifiers follow the "<network>-<type>" convention,
	// e.g. ethereum-mainnet.
	if parts := strings.SplitN(req.Chain, "-", 2); len(parts) == 2 {
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   parts[0],
			Type: parts[1],
		}
	}

	zap.L().Info("Submitting transfer via Prime API",
		zap.String("portfolio_id", e.portfolioId),
		zap.String("wallet_id", walletId),
		zap.String("asset", req.Asset),
		zap.String("chain", req.Chain),
		zap.String("amount", req.Amount),
		zap.String("destination", req.Destination),
		zap.String("idempotency_key", idempotencyKey))

	response, err := e.transactionsSvc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       e.portfolioId,
		SourceWalletId:    walletId,
		Amount:            req.Amount,
		IdempotencyKey:    idempotencyKey,
		Symbol:            req.Asset,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	})
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", walletId),
			zap.String("amount", req.Amount),
			zap.String("asset", req.Asset),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Transfer submitted",
		zap.String("activity_id", response.ActivityId),
		zap.String("asset", req.Asset),
		zap.String("amount", req.Amount))

	return &models.SubmitResult{
		TransferId: response.ActivityId,
		Status:     "SUBMITTED",
	}, nil
}
