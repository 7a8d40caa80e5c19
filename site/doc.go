// Package site defines the build configuration consumed by the static-site build
// tool and the Provider that resolves it.
//
// Without overrides the configuration is the site's original one: markup attaches
// to "body", URLs live under "/maze", pages and assets go to "build" and no SPA
// fallback is emitted.
//
// Overrides come from a config file and BUILDCONF_* variables:
//
//	BUILDCONF_TARGET=app
//	BUILDCONF_PATHS__BASE=/docs
//	BUILDCONF_ADAPTER__PAGES=out
//	BUILDCONF_ADAPTER__FALLBACK=200.html
//	BUILDCONF_PREPROCESS__SOURCEMAP=true
package site
