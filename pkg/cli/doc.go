// Package cli implements the agentpass command line client. Commands
// talk to a running agentpassd over its HTTP API; the daemon address
// comes from the -server flag or the AGENTPASS_SERVER environment
// variable.
package cli
