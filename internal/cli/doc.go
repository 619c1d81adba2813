// Package cli builds the deploygrid command line with cobra, turns flags and
// the optional config file into an app.Config, and maps outcomes to process
// exit codes: 0 on success, 1 when a run did not complete, 2 on usage or
// validation errors.
package cli
