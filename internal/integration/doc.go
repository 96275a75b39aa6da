// Package integration runs multi-client scenarios against an in-process server.
package integration
