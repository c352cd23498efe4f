package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8645", cfg.ListenAddress)
	require.Equal(t, "USDC", cfg.StableAsset)
	require.Len(t, cfg.PhaseBasePrices, 10)

	prices, err := cfg.BasePrices()
	require.NoError(t, err)
	require.Equal(t, "300000000000000000", prices[0].String())
	require.Equal(t, "480000000000000000", prices[9].String())

	// A second load reads the file back unchanged.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PhaseBasePrices, reloaded.PhaseBasePrices)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
TreasuryAddress = "not-an-address"
DistributorAddress = "0x0000000000000000000000000000000000000002"
VaultAddress = "0x0000000000000000000000000000000000000003"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "TreasuryAddress")
}

func TestLoadRejectsBadLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
TreasuryAddress = "0x0000000000000000000000000000000000000001"
DistributorAddress = "0x0000000000000000000000000000000000000002"
VaultAddress = "0x0000000000000000000000000000000000000003"
PhaseBasePrices = ["0"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "base price")
}

func TestParamsFallBackToDefaults(t *testing.T) {
	cfg := &Config{}
	params, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(20), params.MaxSteps)
	require.Equal(t, "100000000000000000000000", params.VolumeStep.String())
	require.Equal(t, "10000000000000000", params.PriceIncrement.String())

	cfg = &Config{VolumeStep: "5", MaxSteps: 3, PriceIncrement: "7"}
	params, err = cfg.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(3), params.MaxSteps)
	require.Equal(t, "5", params.VolumeStep.String())
	require.Equal(t, "7", params.PriceIncrement.String())
}

func TestParamsRejectBadValues(t *testing.T) {
	_, err := (&Config{VolumeStep: "zero"}).Params()
	require.ErrorContains(t, err, "VolumeStep")
	_, err = (&Config{PriceIncrement: "-1"}).Params()
	require.ErrorContains(t, err, "PriceIncrement")
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000aB")
	require.NoError(t, err)
	require.Equal(t, byte(0xab), addr[19])
	_, err = ParseAddress("")
	require.Error(t, err)
}
