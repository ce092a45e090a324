package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"transfer-orchestrator-go/internal/models"
)

func validRequest() models.TransferRequest {
	return models.TransferRequest{
		Chain:       "ethereum-mainnet",
		Asset:       "ETH",
		Destination: "0xabc123",
		Amount:      "0.5",
	}
}

func testRegistry() *AssetRegistry {
	return NewAssetRegistryFromConfigs([]AssetConfig{
		{Symbol: "ETH", Network: "ethereum-mainnet"},
		{Symbol: "USDC", Network: "ethereum-mainnet", MinAmount: "1"},
		{Symbol: "SOL", Network: "solana-mainnet"},
	})
}

func TestValidateTransferRequest_Shape(t *testing.T) {
	registry := testRegistry()

	if err := registry.ValidateTransferRequest(validRequest()); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*models.TransferRequest)
	}{
		{"missing chain", func(r *models.TransferRequest) { r.Chain = "" }},
		{"missing asset", func(r *models.TransferRequest) { r.Asset = "" }},
		{"missing destination", func(r *models.TransferRequest) { r.Destination = "" }},
		{"unparseable amount", func(r *models.TransferRequest) { r.Amount = "abc" }},
		{"zero amount", func(r *models.TransferRequest) { r.Amount = "0" }},
		{"negative amount", func(r *models.TransferRequest) { r.Amount = "-1" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			err := registry.ValidateTransferRequest(req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestValidateTransferRequest_UnsupportedAsset(t *testing.T) {
	registry := testRegistry()

	req := validRequest()
	req.Asset = "DOGE"
	if err := registry.ValidateTransferRequest(req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unlisted asset, got %v", err)
	}

	// Pair must match, not just the symbol.
	req = validRequest()
	req.Asset = "SOL"
	if err := registry.ValidateTransferRequest(req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for SOL on ethereum-mainnet, got %v", err)
	}
}

func TestValidateTransferRequest_MinAmount(t *testing.T) {
	registry := testRegistry()

	req := validRequest()
	req.Asset = "USDC"
	req.Amount = "0.5"
	if err := registry.ValidateTransferRequest(req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest below minimum, got %v", err)
	}

	req.Amount = "1"
	if err := registry.ValidateTransferRequest(req); err != nil {
		t.Errorf("expected amount at minimum to pass, got %v", err)
	}
}

func TestValidateTransferRequest_NilRegistry(t *testing.T) {
	var registry *AssetRegistry

	if err := registry.ValidateTransferRequest(validRequest()); err != nil {
		t.Fatalf("expected nil registry to validate shape only, got %v", err)
	}

	req := validRequest()
	req.Amount = "0"
	if err := registry.ValidateTransferRequest(req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected nil registry to still reject bad shape, got %v", err)
	}
}

func TestLoadAssetConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.yaml")
	content := `assets:
  - symbol: ETH
    network: ethereum-mainnet
  - symbol: USDC
    network: ethereum-mainnet
    min_amount: "1"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	assets, err := LoadAssetConfig(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[1].MinAmount != "1" {
		t.Errorf("expected min_amount 1, got %q", assets[1].MinAmount)
	}
}

func TestLoadAssetConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"missing symbol", "assets:\n  - network: ethereum-mainnet\n"},
		{"missing network", "assets:\n  - symbol: ETH\n"},
		{"bad min amount", "assets:\n  - symbol: ETH\n    network: ethereum-mainnet\n    min_amount: lots\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := LoadAssetConfig(path); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}

	if _, err := LoadAssetConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
