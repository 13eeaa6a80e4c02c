// Package confloader loads colod configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already present in the target struct (defaults)
//  2. A YAML configuration file
//  3. Environment variables (COLO_ prefix)
//
// Environment variable names map to keys by lowercasing and turning a double
// underscore into a section separator, so single underscores survive inside
// key names:
//
//	COLO_REPLICATION__FORCE_CHECKPOINT_INTERVAL=5s -> replication.force_checkpoint_interval
//
// Watcher reports writes to the configuration file so parts of the
// configuration (the log level) can be reloaded without a restart.
package confloader
