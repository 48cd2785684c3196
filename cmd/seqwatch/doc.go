// Command seqwatch runs the sequencing watch daemon and talks to it over its
// HTTP API.
//
// `seqwatch run` starts the daemon in the foreground. The remaining commands
// (status, runs, cancel, clear, set, logs) are thin clients of the API bound at
// paths.api_bind; `parse` inspects an annotation file offline and `config`
// manages the TOML configuration.
package main
