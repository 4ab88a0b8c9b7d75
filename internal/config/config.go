package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	DBSSLMode  string
	DBTimeout  time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	BotToken  string
	BotChatID int64

	HTTPAddr   string
	LogLevel   string
	AdminCIDRs []string

	RPCURL            string
	ChainID           int64
	TokenAddress      common.Address
	CustodyPrivateKey string
	TokenDecimals     uint8

	OwnerAddress  common.Address
	MinInvestment decimal.Decimal
	MaxInvestment decimal.Decimal

	ReconcileInterval time.Duration
}

// LoadConfig reads .env when present and then the process environment.
func LoadConfig() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "solidgrowth"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AdminCIDRs: splitList(getEnv("ADMIN_CIDRS", "127.0.0.1/32,::1/128")),

		RPCURL:            getEnv("RPC_URL", "http://127.0.0.1:8545"),
		CustodyPrivateKey: getEnv("CUSTODY_PRIVATE_KEY", ""),
	}

	var err error
	if cfg.DBTimeout, err = time.ParseDuration(getEnv("DB_TIMEOUT", "5s")); err != nil {
		return nil, dotenv, fmt.Errorf("%w: DB_TIMEOUT: %w", ErrInvalid, err)
	}
	if cfg.ReconcileInterval, err = time.ParseDuration(getEnv("RECONCILE_INTERVAL", "1h")); err != nil {
		return nil, dotenv, fmt.Errorf("%w: RECONCILE_INTERVAL: %w", ErrInvalid, err)
	}
	if cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, dotenv, fmt.Errorf("%w: REDIS_DB: %w", ErrInvalid, err)
	}
	if v := getEnv("TELEGRAM_CHAT_ID", ""); v != "" {
		if cfg.BotChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, dotenv, fmt.Errorf("%w: TELEGRAM_CHAT_ID: %w", ErrInvalid, err)
		}
	}
	if cfg.ChainID, err = strconv.ParseInt(getEnv("CHAIN_ID", "31337"), 10, 64); err != nil {
		return nil, dotenv, fmt.Errorf("%w: CHAIN_ID: %w", ErrInvalid, err)
	}
	decimals, err := strconv.ParseUint(getEnv("TOKEN_DECIMALS", "18"), 10, 8)
	if err != nil {
		return nil, dotenv, fmt.Errorf("%w: TOKEN_DECIMALS: %w", ErrInvalid, err)
	}
	cfg.TokenDecimals = uint8(decimals)

	if cfg.MinInvestment, err = decimal.NewFromString(getEnv("MIN_INVESTMENT", "100")); err != nil {
		return nil, dotenv, fmt.Errorf("%w: MIN_INVESTMENT: %w", ErrInvalid, err)
	}
	if cfg.MaxInvestment, err = decimal.NewFromString(getEnv("MAX_INVESTMENT", "100000")); err != nil {
		return nil, dotenv, fmt.Errorf("%w: MAX_INVESTMENT: %w", ErrInvalid, err)
	}

	if cfg.OwnerAddress, err = parseAddress("OWNER_ADDRESS", getEnv("OWNER_ADDRESS", "")); err != nil {
		return nil, dotenv, err
	}
	if cfg.TokenAddress, err = parseAddress("TOKEN_ADDRESS", getEnv("TOKEN_ADDRESS", "")); err != nil {
		return nil, dotenv, err
	}
	if cfg.CustodyPrivateKey == "" {
		return nil, dotenv, fmt.Errorf("%w: CUSTODY_PRIVATE_KEY is required", ErrInvalid)
	}

	return cfg, dotenv, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.MinInvestment.IsNegative() {
		return fmt.Errorf("%w: MIN_INVESTMENT is negative", ErrInvalid)
	}
	if c.MinInvestment.GreaterThan(c.MaxInvestment) {
		return fmt.Errorf("%w: MIN_INVESTMENT %s above MAX_INVESTMENT %s", ErrInvalid, c.MinInvestment, c.MaxInvestment)
	}
	return nil
}

// BaseUnits converts a whole-token amount into the token's base units,
// truncating anything below the smallest unit.
func (c *Config) BaseUnits(tokens decimal.Decimal) *big.Int {
	return ToBaseUnits(tokens, c.TokenDecimals)
}

func ToBaseUnits(tokens decimal.Decimal, decimals uint8) *big.Int {
	return tokens.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func parseAddress(key, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address: %q", ErrInvalid, key, value)
	}
	return common.HexToAddress(value), nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
