// Package internal contains the implementation packages for vista.
//
// # Package Organization
//
// Compilation and rendering:
//
//   - program: the compiled directive list and its JSON/msgpack artifact codecs
//   - filters: the filter registry, built-in filters and the HTML escaper
//   - compiler: source text to program, with block matching and filter arity checks
//   - renderer: program plus data to output, with loop variables and conditions
//   - loader: template name resolution, artifact paths and mtime staleness
//   - engine: the compile-if-stale pipeline with an in-memory program cache
//
// Around the engine:
//
//   - config: .vista.yml, VISTA_ environment variables and flags through viper
//   - datafile: JSON, YAML and TOML render data matched to a template name
//   - settings: per-app, per-environment YAML settings files
//   - watcher: debounced fsnotify watching and recompilation on change
//   - server: preview HTTP server with a websocket live reload hub
//   - errors: typed ViewError values with codes, template and line
//   - logging: slog based structured logging with components
//   - version: build and artifact format information
//
// # Data Flow
//
// A render resolves the requested name to a source file (or the default
// template), compares the source and artifact modification times, recompiles
// and atomically rewrites the artifact when the source is newer, and executes
// the program against the data. The watcher drives the same compile step on
// file changes and the server pushes the outcome to connected browsers.
package internal
