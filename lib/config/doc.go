// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the zooid fleet configuration.
//
// Configuration comes from a single YAML file named by the ZOOID_CONFIG
// environment variable or a --config flag. Values not present in the
// file keep the defaults from [Default], which encode every documented
// default: gate thresholds, fitness half-life, probation cooldown and
// retry ceiling, heartbeat SLO, replay window, and heartbeat cadence.
//
// The file may carry development and production sections that override
// base values when the top-level environment matches. ${VAR} and
// ${VAR:-default} references in paths are expanded after loading.
package config
