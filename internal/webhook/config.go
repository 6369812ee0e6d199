package webhook

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/worldclone/internal/config"
)

const (
	DefaultPath            = "/hooks/presence"
	DefaultSignatureHeader = "X-Worldclone-Signature"
)

// Config is the resolved presence hook configuration.
type Config struct {
	Listen          string
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

// FromConfig resolves the webhooks section, applying defaults and parsing
// the human-readable body size.
func FromConfig(wc config.WebhooksConfig) (Config, error) {
	out := Config{
		Listen:          wc.Listen,
		Path:            wc.Path,
		Secret:          wc.Secret,
		SignatureHeader: wc.SignatureHeader,
		MaxBodySize:     DefaultMaxBodySize,
	}
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.SignatureHeader == "" {
		out.SignatureHeader = DefaultSignatureHeader
	}
	if wc.MaxBodySize != "" {
		n, err := humanize.ParseBytes(wc.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhooks.max_body_size %q: %w", wc.MaxBodySize, err)
		}
		if n == 0 {
			return Config{}, fmt.Errorf("webhooks.max_body_size must be positive")
		}
		out.MaxBodySize = int64(n)
	}
	if out.Secret == "" {
		return Config{}, fmt.Errorf("webhooks.secret is required")
	}
	return out, nil
}
