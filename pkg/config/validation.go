package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validate tags plus a
// few cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			first := errs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return err
	}

	if cfg.Transfer.ChunkSize.Uint64() > cfg.Transfer.MaxPayload.Uint64() {
		return fmt.Errorf("transfer.chunk_size (%s) exceeds transfer.max_payload (%s)",
			cfg.Transfer.ChunkSize, cfg.Transfer.MaxPayload)
	}

	return nil
}
