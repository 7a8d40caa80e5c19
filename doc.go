// Package buildconf provides type-safe configuration loading with validation and
// provenance tracking. Package site builds the static-site build configuration on top of it.
//
// Quick Start:
//
//	type Config struct {
//	    Base  string `conf:"name:paths.base,default:/maze,path:base"`
//	    Pages string `conf:"default:build,required,path:rel"`
//	}
//
//	loader := buildconf.NewLoader[Config]().
//	    WithSource(sourcefile.New("buildconf.yaml", sourcefile.Options{})).
//	    WithSource(sourceenv.New(sourceenv.Options{Prefix: "BUILDCONF_"}))
//
//	cfg, err := loader.Load(context.Background())
//
// Tag directives: env:VAR, default:val, required, min:N, max:N, oneof:a|b|c,
// secret, prefix:path, name:path, path:rel, path:base
package buildconf
