// Package config defines configuration structures for the terrabulk CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (TERRABULK_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones: defaults, then the file, then the
// environment, then flags.
//
// # Example
//
//	api_url: https://api.firecloud.org/api/
//	project: my-billing-project
//	workspace: my-workspace
//	workers: 4
//	page_size: 1000
//	block_size: 5000
//	strict: false
//	progress: true
//	log_level: info
//	log_format: console
//	retry:
//	  attempts: 5
//	  delays: [5s, 10s, 30s, 60s]
package config
