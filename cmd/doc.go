// Package cmd provides the vista command-line interface.
//
// # Available Commands
//
//   - init: create a views directory, a base template and .vista.yml
//   - render: render a template to standard output
//   - compile: bring cached artifacts up to date
//   - inspect: show the compiled directives of a template
//   - list: list templates and the state of their artifacts
//   - clean: remove cached artifacts
//   - watch: recompile templates as they change
//   - serve: preview server with live reload
//   - settings: read and write application settings files
//   - config: print the effective configuration
//   - version: print build information
//
// # Configuration
//
// Values are read, highest priority first, from command-line flags,
// VISTA_* environment variables (VISTA_VIEWS_BASE_DIR, VISTA_SERVER_PORT,
// ...), the file named by --config or VISTA_CONFIG_FILE, and .vista.yml in
// the working directory.
//
//	vista render index --data data/index.yaml
//	vista compile
//	vista serve --port 3000
//	vista settings set User.login_methods '[password, github]' --app myapp
package cmd
