// Package main hosts the compintel CLI entrypoint and command graph.
//
// The Cobra command tree maps terminal invocations onto the pipeline stages
// (crawl, extract, match), row status maintenance on the source worksheet,
// and configuration scaffolding. Configuration is resolved lazily and once
// per invocation so subcommands only deal with their own flags.
//
// Keep this package thin: behavior belongs in internal packages and is
// surfaced here through commands and flags.
package main
