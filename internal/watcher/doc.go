// Package watcher reports sequencer output files once they stop changing.
//
// Watch validates the directory, scans the files already present in lexical
// order, then follows fsnotify events with a periodic rescan as a safety net.
// When fsnotify is unavailable, or polling is forced, the rescan is the only
// source. A file is reported once its size and modification time hold steady
// for the settle window, and each basename is reported at most once for the
// life of the Watcher.
package watcher
