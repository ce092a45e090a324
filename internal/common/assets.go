package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"transfer-orchestrator-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// ErrInvalidRequest marks synchronous validation failures. Nothing is
// persisted when a request fails validation.
var ErrInvalidRequest = errors.New("invalid transfer request")

type AssetConfig struct {
	Symbol    string `yaml:"symbol"`
	Network   string `yaml:"network"`
	MinAmount string `yaml:"min_amount,omitempty"`
}

type AssetsConfig struct {
	Assets []AssetConfig `yaml:"assets"`
}

// AssetRegistry validates transfer requests against the configured
// asset/network pairs. A nil registry validates shape only (amount,
// destination) without restricting assets.
type AssetRegistry struct {
	assets map[string]AssetConfig // key: symbol-network
}

func LoadAssetConfig(assetsFile string) ([]AssetConfig, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	var config AssetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}

	for i, asset := range config.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Network == "" {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		if asset.MinAmount != "" {
			if _, err := decimal.NewFromString(asset.MinAmount); err != nil {
				return nil, fmt.Errorf("asset %s-%s has invalid min_amount %q: %w",
					asset.Symbol, asset.Network, asset.MinAmount, err)
			}
		}
	}

	return config.Assets, nil
}

// NewAssetRegistry loads the registry from the given yaml file.
func NewAssetRegistry(assetsFile string) (*AssetRegistry, error) {
	assets, err := LoadAssetConfig(assetsFile)
	if err != nil {
		return nil, err
	}
	return NewAssetRegistryFromConfigs(assets), nil
}

// NewAssetRegistryFromConfigs builds a registry from already-loaded configs.
func NewAssetRegistryFromConfigs(assets []AssetConfig) *AssetRegistry {
	registry := &AssetRegistry{assets: make(map[string]AssetConfig, len(assets))}
	for _, asset := range assets {
		registry.assets[asset.Symbol+"-"+asset.Network] = asset
	}
	return registry
}

// ValidateTransferRequest checks a request's shape and, when a registry is
// present, its asset/network pair and minimum amount. All failures wrap
// ErrInvalidRequest.
func (r *AssetRegistry) ValidateTransferRequest(req models.TransferRequest) error {
	if req.Chain == "" {
		return fmt.Errorf("%w: chain is required", ErrInvalidRequest)
	}
	if req.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidRequest)
	}
	if req.Destination == "" {
		return fmt.Errorf("%w: destination address is required", ErrInvalidRequest)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fmt.Errorf("%w: invalid amount %q", ErrInvalidRequest, req.Amount)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	}

	if r == nil || len(r.assets) == 0 {
		return nil
	}

	asset, ok := r.assets[req.Asset+"-"+req.Chain]
	if !ok {
		return fmt.Errorf("%w: unsupported asset %s on %s", ErrInvalidRequest, req.Asset, req.Chain)
	}
	if asset.MinAmount != "" {
		min, _ := decimal.NewFromString(asset.MinAmount)
		if amount.LessThan(min) {
			return fmt.Errorf("%w: amount %s below minimum %s for %s-%s",
				ErrInvalidRequest, amount.String(), min.String(), req.Asset, req.Chain)
		}
	}
	return nil
}
