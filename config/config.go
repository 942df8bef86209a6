// Package config holds the typed, TOML-loadable configuration for the
// censorship-monitoring process, following the same naoina/toml
// load-with-strict-field-checking convention geth's own cmd/geth/config.go
// uses for its node configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/naoina/toml"
)

// Config is the complete set of knobs the engine, its ChainSource, its
// Sink, and its REST server need. Every field has a sensible production
// default applied by Default(); a TOML file only needs to override what it
// means to change.
type Config struct {
	HTTPRPCURL string `toml:"http_rpc_url"`
	WSRPCURL   string `toml:"ws_rpc_url"`

	// MempoolFetchIntervalSec gates how often rpcsource polls
	// txpool_content after the first new head is observed.
	MempoolFetchIntervalSec uint16 `toml:"mempool_fetch_interval_sec"`
	// NonceRPCTimeoutMS bounds a single GetNonceAt call the analyzer makes
	// to resolve an unseen sender's next-expected nonce.
	NonceRPCTimeoutMS uint16 `toml:"nonce_rpc_timeout_ms"`

	// BaseFeeHeadroomNum/Den express the conservative multiplier a pending
	// transaction's max payable base fee must clear to be considered
	// includable against next-block base-fee escalation.
	BaseFeeHeadroomNum int64 `toml:"base_fee_headroom_num"`
	BaseFeeHeadroomDen int64 `toml:"base_fee_headroom_den"`

	DataDir    string `toml:"data_dir"`
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`
}

// Default returns the configuration the spec enumerates as defaults: a
// local execution client, a 6s mempool poll, a 10s nonce timeout, and the
// 3/2 base-fee headroom multiplier.
func Default() Config {
	return Config{
		HTTPRPCURL:              "http://127.0.0.1:8545",
		WSRPCURL:                "ws://127.0.0.1:8546",
		MempoolFetchIntervalSec: 6,
		NonceRPCTimeoutMS:       10000,
		BaseFeeHeadroomNum:      3,
		BaseFeeHeadroomDen:      2,
		DataDir:                 "./censormon-data",
		ListenAddr:              "127.0.0.1:8080",
		LogLevel:                "info",
	}
}

// tomlSettings mirrors geth's own cmd/geth/config.go conventions: field
// names are matched case-insensitively against underscored TOML keys, and
// an unrecognized key in the file is a hard error rather than silently
// ignored, since a typo'd config key has historically been a common
// source of "why isn't this setting taking effect" reports.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return strings.ReplaceAll(strings.ToLower(key), "_", "")
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return strings.ToLower(field)
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("config: field %q is not defined in %s", field, rt.String())
	},
}

// Load reads path as TOML into a copy of Default(), so a config file only
// needs to specify the fields it wants to override.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
