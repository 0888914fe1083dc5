// Package server hosts the optional Fiber HTTP surface of the downloader.
// A long-lived agent starts it so co-located pipeline steps can request
// artifact downloads over localhost instead of spawning the CLI per package.
// The package only wires middleware and JSON encoding around an injected
// Downloader; all resolve/cache/fetch logic stays in internal/download.
package server
