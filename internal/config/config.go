package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds the server settings. Values come from defaults, then the TOML
// file named by LEDGER_CONFIG, then environment variables.
type Config struct {
	DBHost     string `toml:"db_host"`
	DBPort     string `toml:"db_port"`
	DBUser     string `toml:"db_user"`
	DBPassword string `toml:"db_password"`
	DBName     string `toml:"db_name"`
	DBSSLMode  string `toml:"db_sslmode"`

	ServerPort     string `toml:"server_port"`
	StorageBackend string `toml:"storage_backend"`

	CustodyAddress     string `toml:"custody_address"`
	TokenOwner         string `toml:"token_owner"`
	TokenDecimals      int32  `toml:"token_decimals"`
	TokenInitialSupply string `toml:"token_initial_supply"`

	Automine      bool          `toml:"automine"`
	BlockInterval time.Duration `toml:"block_interval"`

	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DBHost:             "localhost",
		DBPort:             "5432",
		DBUser:             "postgres",
		DBPassword:         "password",
		DBName:             "interest_bank",
		DBSSLMode:          "disable",
		ServerPort:         "8080",
		StorageBackend:     BackendMemory,
		CustodyAddress:     "0x000000000000000000000000000000000000bA2c",
		TokenOwner:         "0x00000000000000000000000000000000000000a0",
		TokenDecimals:      18,
		TokenInitialSupply: "1000000000000000000000",
		Automine:           true,
		LogLevel:           "info",
		LogMaxSizeMB:       100,
		LogMaxBackups:      3,
		LogMaxAgeDays:      28,
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DB_HOST":              &c.DBHost,
		"DB_PORT":              &c.DBPort,
		"DB_USER":              &c.DBUser,
		"DB_PASSWORD":          &c.DBPassword,
		"DB_NAME":              &c.DBName,
		"DB_SSLMODE":           &c.DBSSLMode,
		"SERVER_PORT":          &c.ServerPort,
		"STORAGE_BACKEND":      &c.StorageBackend,
		"CUSTODY_ADDRESS":      &c.CustodyAddress,
		"TOKEN_OWNER":          &c.TokenOwner,
		"TOKEN_INITIAL_SUPPLY": &c.TokenInitialSupply,
		"LOG_LEVEL":            &c.LogLevel,
		"LOG_FILE":             &c.LogFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LOG_MAX_SIZE_MB":  &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":  &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS": &c.LogMaxAgeDays,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("TOKEN_DECIMALS"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fmt.Errorf("TOKEN_DECIMALS: %w", err)
		}
		c.TokenDecimals = int32(n)
	}
	if v, ok := lookup("AUTOMINE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AUTOMINE: %w", err)
		}
		c.Automine = b
	}
	if v, ok := lookup("BLOCK_INTERVAL"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BLOCK_INTERVAL: %w", err)
		}
		c.BlockInterval = d
	}
	return nil
}

// Normalize trims and lower-cases free-form values.
func (c *Config) Normalize() {
	c.DBHost = strings.TrimSpace(c.DBHost)
	c.DBPort = strings.TrimSpace(c.DBPort)
	c.DBName = strings.TrimSpace(c.DBName)
	c.DBSSLMode = strings.TrimSpace(c.DBSSLMode)
	if c.DBSSLMode == "" {
		c.DBSSLMode = "disable"
	}
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = BackendMemory
	}
	c.CustodyAddress = strings.TrimSpace(c.CustodyAddress)
	c.TokenOwner = strings.TrimSpace(c.TokenOwner)
	c.TokenInitialSupply = strings.TrimSpace(c.TokenInitialSupply)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFile = strings.TrimSpace(c.LogFile)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("storage_backend: unknown backend %q", c.StorageBackend)
	}
	if _, err := strconv.ParseUint(c.ServerPort, 10, 16); err != nil {
		return fmt.Errorf("server_port: %w", err)
	}

	custody, err := parseAddress(c.CustodyAddress)
	if err != nil {
		return fmt.Errorf("custody_address: %w", err)
	}
	if c.TokenOwner != "" {
		owner, err := parseAddress(c.TokenOwner)
		if err != nil {
			return fmt.Errorf("token_owner: %w", err)
		}
		if owner == custody {
			return fmt.Errorf("token_owner: must differ from custody_address")
		}
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("token_decimals: must be between 0 and 36, got %d", c.TokenDecimals)
	}
	if _, err := c.InitialSupply(); err != nil {
		return fmt.Errorf("token_initial_supply: %w", err)
	}

	if c.BlockInterval < 0 {
		return fmt.Errorf("block_interval: must not be negative")
	}
	if !c.Automine && c.BlockInterval == 0 {
		return fmt.Errorf("block_interval: required when automine is disabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

// Custody returns the parsed custody address.
func (c *Config) Custody() common.Address {
	return common.HexToAddress(c.CustodyAddress)
}

// Owner returns the parsed token owner, or the zero address when unset.
func (c *Config) Owner() common.Address {
	if c.TokenOwner == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.TokenOwner)
}

// InitialSupply parses TokenInitialSupply, given in base units.
func (c *Config) InitialSupply() (*uint256.Int, error) {
	if c.TokenInitialSupply == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(c.TokenInitialSupply)
}

// GetDBConnectionString returns the lib/pq connection string.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}
