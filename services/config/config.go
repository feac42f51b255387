package config

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"tzcore-go/bus"
	"tzcore-go/errcode"
	"tzcore-go/types"
	"tzcore-go/x/mathx"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxBoardKey  = "board" // context key used for the board name
)

// Timeout bounds, in milliseconds.
const (
	DefaultParkTimeoutMs = 100
	MinParkTimeoutMs     = 1
	MaxParkTimeoutMs     = 10_000

	DefaultMURxTimeoutMs = 100
	MinMURxTimeoutMs     = 1
	MaxMURxTimeoutMs     = 10_000

	maxCores = 4
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the embedded board names in order.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Topic is where the active platform config is retained.
func Topic() bus.Topic { return bus.T(configPrefix, "platform") }

// -----------------------------------------------------------------------------
// Decode / validate
// -----------------------------------------------------------------------------

// Decode parses raw JSON into a platform config, validates it and applies
// timeout defaults. Unknown keys are rejected.
func Decode(raw []byte) (types.PlatformConfig, error) {
	var cfg types.PlatformConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errcode.Wrap(errcode.BadFormat, "config.decode", err)
	}
	if dec.More() {
		return cfg, &errcode.E{C: errcode.BadFormat, Op: "config.decode", Msg: "trailing data"}
	}
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	Normalize(&cfg)
	return cfg, nil
}

// Validate checks that the addresses a variant needs are present.
func Validate(cfg *types.PlatformConfig) error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.validate", Msg: msg}
	}
	if cfg.Board == "" {
		return bad("missing board")
	}
	if !mathx.Between(cfg.Cores, 1, maxCores) {
		return bad("cores out of range")
	}
	switch cfg.Variant {
	case types.VariantNone:
	case types.VariantSCR:
		if cfg.SRCBase == 0 {
			return bad("scr needs src_base")
		}
	case types.VariantA7RCR:
		if cfg.SRCBase == 0 || cfg.GPCBase == 0 {
			return bad("a7rcr needs src_base and gpc_base")
		}
	default:
		return bad("unknown variant " + string(cfg.Variant))
	}
	if cfg.Variant != types.VariantNone && cfg.LoadAddr == 0 {
		return bad("missing load_addr")
	}
	if cfg.LoadAddr > 0xFFFFFFFF {
		return bad("load_addr above 4 GiB")
	}
	return nil
}

// Normalize fills omitted timeouts and clamps configured ones.
func Normalize(cfg *types.PlatformConfig) {
	cfg.ParkTimeoutMs = mathx.OrDefault(cfg.ParkTimeoutMs, DefaultParkTimeoutMs, MinParkTimeoutMs, MaxParkTimeoutMs)
	cfg.MURxTimeoutMs = mathx.OrDefault(cfg.MURxTimeoutMs, DefaultMURxTimeoutMs, MinMURxTimeoutMs, MaxMURxTimeoutMs)
}

// Load resolves and decodes the embedded config for board.
func Load(board string) (types.PlatformConfig, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return types.PlatformConfig{}, &errcode.E{C: errcode.NoData, Op: "config.load", Msg: "no embedded config for board: " + board}
	}
	return Decode(raw)
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig loads the board config named in ctx and publishes it
// retained on config/platform.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) (types.PlatformConfig, error) {
	board, _ := ctx.Value(CtxBoardKey).(string)
	if board == "" {
		return types.PlatformConfig{}, &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "missing board in context"}
	}
	cfg, err := Load(board)
	if err != nil {
		return cfg, err
	}
	Publish(conn, cfg)
	return cfg, nil
}

// Publish retains cfg on config/platform.
func Publish(conn *bus.Connection, cfg types.PlatformConfig) {
	conn.Publish(conn.NewMessage(Topic(), cfg, true))
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if _, err := s.publishConfig(ctx, conn); err != nil {
			println("[config]", err.Error())
		}
	}()
}
