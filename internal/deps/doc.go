// Package deps checks that the external programs named in the configuration
// can be executed.
package deps
