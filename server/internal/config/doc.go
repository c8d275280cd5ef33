// Package config loads the analytics server configuration from the `server:`
// section of a YAML file.
//
// Config fields:
//   - HTTPPort           REST API and WebSocket port (default 8080)
//   - GRPCPort           gRPC health service port (default 50051, 0 disables)
//   - Auth.Mode          "apikey" or "none"
//   - Auth.KeyEnv        environment variable holding the expected API key
//   - Auth.Header        HTTP header and gRPC metadata key (default "x-api-key")
//   - Log.Level/Format   slog level and json|text output (default info/json)
//   - Rules.Path/Watch   events file, resolved against the config directory
//   - Store.Driver       memory | postgres, with DSNEnv, SeedFile, Retention
//   - Stream.MinInterval  lower bound on streaming intervals (default 250ms)
//   - Ingest.MQTT/Kafka  optional sample ingestion sources
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
