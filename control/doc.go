// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration loading and runtime counters for hioload-listen.
//
// Provides:
//   - YAML-backed daemon configuration with defaults and validation
//   - Atomic accept/drop counters with snapshot export
package control
