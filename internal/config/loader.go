package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, and applies DYAD_* environment variable overrides.
// An empty path skips the file and uses defaults plus environment. The
// returned Config has NOT been validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DYAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Protocol.DepositMinimum, "DYAD_PROTOCOL_DEPOSIT_MINIMUM")
	setInt(&cfg.Protocol.MaxPositions, "DYAD_PROTOCOL_MAX_POSITIONS")
	setUint64(&cfg.Protocol.SyncCooldownBlocks, "DYAD_PROTOCOL_SYNC_COOLDOWN_BLOCKS")
	setInt64(&cfg.Protocol.MinCollateralRatioBps, "DYAD_PROTOCOL_MIN_COLLATERAL_RATIO_BPS")
	setInt64(&cfg.Protocol.MaxMintedRatioBps, "DYAD_PROTOCOL_MAX_MINTED_RATIO_BPS")
	setStr(&cfg.Protocol.PoolAddress, "DYAD_PROTOCOL_POOL_ADDRESS")
	setStr(&cfg.Protocol.TrustedLiquidator, "DYAD_PROTOCOL_TRUSTED_LIQUIDATOR")
	setStr(&cfg.Protocol.BlockInterval, "DYAD_PROTOCOL_BLOCK_INTERVAL")

	setStr(&cfg.Oracle.Mode, "DYAD_ORACLE_MODE")
	setStr(&cfg.Oracle.StaticPrice, "DYAD_ORACLE_STATIC_PRICE")
	setStr(&cfg.Oracle.EVMEndpoint, "DYAD_ORACLE_EVM_ENDPOINT")
	setStr(&cfg.Oracle.Aggregator, "DYAD_ORACLE_AGGREGATOR")

	setStr(&cfg.Postgres.DSN, "DYAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "DYAD_POSTGRES_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "DYAD_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.NATS.URL, "DYAD_NATS_URL")
	setBool(&cfg.NATS.Enabled, "DYAD_NATS_ENABLED")

	setStr(&cfg.Server.APIAddr, "DYAD_SERVER_API_ADDR")
	setStr(&cfg.Server.MetricsAddr, "DYAD_SERVER_METRICS_ADDR")

	setInt(&cfg.Persist.BatchSize, "DYAD_PERSIST_BATCH_SIZE")
	setStr(&cfg.Persist.FlushTimeout, "DYAD_PERSIST_FLUSH_TIMEOUT")
	setStr(&cfg.Persist.SnapshotInterval, "DYAD_PERSIST_SNAPSHOT_INTERVAL")

	setStr(&cfg.LogLevel, "DYAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
