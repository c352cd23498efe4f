package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"tiersale/native/phase"
)

// Config describes a tiersale node deployment.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	NetworkName   string `toml:"NetworkName"`
	Environment   string `toml:"Environment"`

	// TreasuryAddress receives stable settlement payouts.
	TreasuryAddress string `toml:"TreasuryAddress"`
	// DistributorAddress receives forwarded purchase payments.
	DistributorAddress string `toml:"DistributorAddress"`
	// VaultAddress holds module custody for the asset ledgers.
	VaultAddress string `toml:"VaultAddress"`

	PaymentAssets []string `toml:"PaymentAssets"`
	StableAsset   string   `toml:"StableAsset"`

	// PhaseBasePrices seed the ladder, fixed-point USD strings (1e18 scale).
	PhaseBasePrices []string `toml:"PhaseBasePrices"`
	VolumeStep      string   `toml:"VolumeStep"`
	MaxSteps        uint64   `toml:"MaxSteps"`
	PriceIncrement  string   `toml:"PriceIncrement"`
}

// Load loads the configuration from the given path, creating a default file
// on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tiersale-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "tiersale-local"
	}
	if len(c.PaymentAssets) == 0 {
		c.PaymentAssets = []string{"USDC", "USDT"}
	}
	if strings.TrimSpace(c.StableAsset) == "" {
		c.StableAsset = "USDC"
	}
	if len(c.PhaseBasePrices) == 0 {
		c.PhaseBasePrices = defaultLadder()
	}
}

// Validate checks address formats and price strings.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"TreasuryAddress":    c.TreasuryAddress,
		"DistributorAddress": c.DistributorAddress,
		"VaultAddress":       c.VaultAddress,
	} {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if _, err := c.BasePrices(); err != nil {
		return err
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	return nil
}

// BasePrices parses the configured ladder seed.
func (c *Config) BasePrices() ([]*big.Int, error) {
	prices := make([]*big.Int, 0, len(c.PhaseBasePrices))
	for i, raw := range c.PhaseBasePrices {
		price, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("config: phase %d base price %q invalid", i, raw)
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// Params builds the ladder pricing parameters, falling back to the defaults
// for unset fields.
func (c *Config) Params() (phase.Params, error) {
	params := phase.Params{MaxSteps: c.MaxSteps}
	if raw := strings.TrimSpace(c.VolumeStep); raw != "" {
		step, ok := new(big.Int).SetString(raw, 10)
		if !ok || step.Sign() <= 0 {
			return phase.Params{}, fmt.Errorf("config: VolumeStep %q invalid", raw)
		}
		params.VolumeStep = step
	}
	if raw := strings.TrimSpace(c.PriceIncrement); raw != "" {
		inc, ok := new(big.Int).SetString(raw, 10)
		if !ok || inc.Sign() < 0 {
			return phase.Params{}, fmt.Errorf("config: PriceIncrement %q invalid", raw)
		}
		params.PriceIncrement = inc
	}
	return params.Normalize(), nil
}

// ParseAddress decodes a 20-byte hex address.
func ParseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func defaultLadder() []string {
	// Ten phases, 0.30 USD base growing 0.02 per phase.
	base := big.NewInt(300_000_000_000_000_000)
	step := big.NewInt(20_000_000_000_000_000)
	ladder := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ladder = append(ladder, base.String())
		base = new(big.Int).Add(base, step)
	}
	return ladder
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		TreasuryAddress:    "0x0000000000000000000000000000000000000001",
		DistributorAddress: "0x0000000000000000000000000000000000000002",
		VaultAddress:       "0x0000000000000000000000000000000000000003",
	}
	cfg.applyDefaults()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
