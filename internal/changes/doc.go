// Package changes defines the closed set of runtime configuration changes the
// datastore accepts and the single entry point that applies them.
package changes
