// Package config loads and validates the prover node's single TOML
// configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// MissingImageStrategy controls what the runner does when an Execute
// references an image id the local cache does not know about.
type MissingImageStrategy string

const (
	// StrategyDownloadAndClaim fetches the image and, if the fetch
	// succeeds in time, still tries to claim the execution.
	StrategyDownloadAndClaim MissingImageStrategy = "DownloadAndClaim"
	// StrategyDownloadAndMiss fetches the image to warm the cache but
	// always skips the claim for this execution.
	StrategyDownloadAndMiss MissingImageStrategy = "DownloadAndMiss"
	// StrategyFail skips the claim immediately without fetching.
	StrategyFail MissingImageStrategy = "Fail"
)

// IngesterKind selects between the two ingester realisations.
type IngesterKind string

const (
	IngesterRPCBlockSubscription IngesterKind = "RpcBlockSubscription"
	IngesterGrpcSubscription     IngesterKind = "GrpcSubscription"
)

// MetricsKind selects the metrics exporter.
type MetricsKind string

const (
	MetricsPrometheus MetricsKind = "Prometheus"
	MetricsNone       MetricsKind = "None"
)

// IngesterConfig is the tagged-union ingester configuration described in
// spec.md section 6.
type IngesterConfig struct {
	Kind IngesterKind `toml:"kind"`

	// RpcBlockSubscription fields.
	WssRPCURL string `toml:"wss_rpc_url"`

	// GrpcSubscription fields.
	GrpcURL        string        `toml:"grpc_url"`
	GrpcToken      string        `toml:"grpc_token"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	RecvTimeout    time.Duration `toml:"recv_timeout"`
}

// TransactionSenderConfig names the RPC endpoint used for outbound
// transactions.
type TransactionSenderConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// SignerConfig describes where the prover's keypair lives.
type SignerConfig struct {
	KeypairPath string `toml:"keypair_path"`
}

// MetricsConfig selects and configures the observability exporter.
type MetricsConfig struct {
	Kind       MetricsKind `toml:"kind"`
	ListenAddr string      `toml:"listen_addr"`
}

// Config mirrors the key table in spec.md section 6 exactly, plus the
// supplemented health endpoint address.
type Config struct {
	BonsolProgram string `toml:"bonsol_program"`

	Risc0ImageFolder      string `toml:"risc0_image_folder"`
	Risc0ImageFolderLimit int    `toml:"risc0_image_folder_limit"`
	MaxImageSizeMB        int64  `toml:"max_image_size_mb"`
	ImageCompressionTTLHours int `toml:"image_compression_ttl_hours"`

	MaxInputSizeMB int64 `toml:"max_input_size_mb"`

	ImageDownloadTimeoutSecs int `toml:"image_download_timeout_secs"`
	InputDownloadTimeoutSecs int `toml:"input_download_timeout_secs"`

	MaximumConcurrentProofs int `toml:"maximum_concurrent_proofs"`

	IngesterConfig          IngesterConfig          `toml:"ingester_config"`
	TransactionSenderConfig TransactionSenderConfig `toml:"transaction_sender_config"`
	SignerConfig            SignerConfig            `toml:"signer_config"`

	StarkCompressionToolsPath string `toml:"stark_compression_tools_path"`

	MetricsConfig MetricsConfig `toml:"metrics_config"`

	MissingImageStrategy MissingImageStrategy `toml:"missing_image_strategy"`

	HealthAddr string `toml:"health_addr"`
}

// applyDefaults fills in safe defaults for fields the operator left unset.
func (c *Config) applyDefaults() {
	if c.Risc0ImageFolder == "" {
		c.Risc0ImageFolder = "./data/images"
	}
	if c.Risc0ImageFolderLimit == 0 {
		c.Risc0ImageFolderLimit = 64
	}
	if c.MaxImageSizeMB == 0 {
		c.MaxImageSizeMB = 256
	}
	if c.ImageCompressionTTLHours == 0 {
		c.ImageCompressionTTLHours = 24
	}
	if c.MaxInputSizeMB == 0 {
		c.MaxInputSizeMB = 32
	}
	if c.ImageDownloadTimeoutSecs == 0 {
		c.ImageDownloadTimeoutSecs = 120
	}
	if c.InputDownloadTimeoutSecs == 0 {
		c.InputDownloadTimeoutSecs = 30
	}
	if c.MaximumConcurrentProofs == 0 {
		c.MaximumConcurrentProofs = 8
	}
	if c.MissingImageStrategy == "" {
		c.MissingImageStrategy = StrategyDownloadAndClaim
	}
	if c.MetricsConfig.Kind == "" {
		c.MetricsConfig.Kind = MetricsPrometheus
	}
	if c.MetricsConfig.ListenAddr == "" {
		c.MetricsConfig.ListenAddr = "0.0.0.0:9090"
	}
	if c.HealthAddr == "" {
		c.HealthAddr = "0.0.0.0:8081"
	}
	if c.IngesterConfig.ConnectTimeout == 0 {
		c.IngesterConfig.ConnectTimeout = 10 * time.Second
	}
	if c.IngesterConfig.RecvTimeout == 0 {
		c.IngesterConfig.RecvTimeout = 30 * time.Second
	}
}

// Load decodes the TOML file at path, applies defaults, and validates
// the result. Resource errors (missing binaries, unreadable keypair)
// are fail-fast per spec.md section 7.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the startup-time resource checks named in
// spec.md section 7 ("Resource errors ... fail-fast at startup").
func (c *Config) Validate() error {
	if c.BonsolProgram == "" {
		return fmt.Errorf("bonsol_program is required")
	}
	switch c.IngesterConfig.Kind {
	case IngesterRPCBlockSubscription:
		if c.IngesterConfig.WssRPCURL == "" {
			return fmt.Errorf("ingester_config.wss_rpc_url is required for RpcBlockSubscription")
		}
	case IngesterGrpcSubscription:
		if c.IngesterConfig.GrpcURL == "" {
			return fmt.Errorf("ingester_config.grpc_url is required for GrpcSubscription")
		}
	default:
		return fmt.Errorf("ingester_config.kind must be RpcBlockSubscription or GrpcSubscription, got %q", c.IngesterConfig.Kind)
	}
	if c.TransactionSenderConfig.RPCURL == "" {
		return fmt.Errorf("transaction_sender_config.rpc_url is required")
	}
	if c.SignerConfig.KeypairPath == "" {
		return fmt.Errorf("signer_config.keypair_path is required")
	}
	if _, err := os.Stat(c.SignerConfig.KeypairPath); err != nil {
		return fmt.Errorf("signer keypair file %s: %w", c.SignerConfig.KeypairPath, err)
	}
	if err := os.MkdirAll(c.Risc0ImageFolder, 0o755); err != nil {
		return fmt.Errorf("create image folder %s: %w", c.Risc0ImageFolder, err)
	}
	switch c.MissingImageStrategy {
	case StrategyDownloadAndClaim, StrategyDownloadAndMiss, StrategyFail:
	default:
		return fmt.Errorf("missing_image_strategy must be one of DownloadAndClaim|DownloadAndMiss|Fail, got %q", c.MissingImageStrategy)
	}
	if c.StarkCompressionToolsPath != "" {
		if err := validateCompressionTools(c.StarkCompressionToolsPath); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("stark_compression_tools_path is required")
	}
	return nil
}

// validateCompressionTools confirms the two binaries and their
// supporting artifacts are present, per spec.md section 6
// ("Both must be present alongside ... at startup; absence is fatal").
func validateCompressionTools(dir string) error {
	required := []string{"stark_verify", "rapidsnark", "stark_verify_final.zkey", "stark_verify.dat"}
	for _, name := range required {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("stark compression tool %s missing from %s: %w", name, dir, err)
		}
	}
	return nil
}
