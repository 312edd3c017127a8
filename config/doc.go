// Package config loads embedvector's process configuration.
//
// Values are layered with koanf: built-in defaults, then an optional YAML
// file, then EMBEDVECTOR_ environment variables. Each section maps onto the
// configuration of one component (ai.Config, batch and matching options,
// the storage driver and the sync queue).
//
// Example:
//
//	cfg, err := config.Load("embedvector.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	provider, err := openai.NewProvider(cfg.Provider.AIConfig())
package config
