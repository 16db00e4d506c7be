package ai

import "github.com/xxxsen/imgidx/internal/config"

func testEmbedderConfig(provider string) config.EmbedderConfig {
	return config.EmbedderConfig{
		Provider:   provider,
		Model:      "clip-vit-b32",
		TimeoutSec: 5,
		MaxRetries: 1,
	}
}
