// Package logging provides file-based logging with rotation for DemonGrep.
// Logs are written as JSON to ~/.demongrep/logs/server.log.
//
// With the --debug flag, every command logs at debug level to that file and
// to stderr. Without it, the index command still logs at info level to the
// file (not to stderr); other commands do not write to the log file.
package logging
