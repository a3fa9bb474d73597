// Package config resolves the run configuration of onionharvest.
//
// Values are layered: defaults from NewConfig, then a YAML file
// (LoadFile), then environment variables and .env files (ApplyEnv,
// LoadDotEnv), then CLI flags applied by the command layer. The result is
// validated once and treated as immutable afterwards.
package config
