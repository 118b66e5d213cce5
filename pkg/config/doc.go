// Package config loads typed configuration from environment variables.
//
// Config structs are declared next to the component they configure and
// tagged for github.com/caarlos0/env; Load parses each type once per process,
// optionally preceded by a .env file read with github.com/joho/godotenv.
//
//	var cfg billing.StripeConfig
//	config.MustLoad(&cfg)
//
// Structs implementing Validator have Validate called after parsing, so cross
// field rules (for example a positive webhook tolerance) live with the type.
package config
