// Package config loads, normalizes, and validates seqwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SEQWATCH_WATCH_DIR and SEQWATCH_NTFY_TOPIC. The Config type centralizes every
// knob the daemon and CLI need: the watched directory, the annotator command,
// aggregation resolution, filters, sample assignments and notification targets.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
