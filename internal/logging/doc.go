// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package logging provides the process-wide zerolog logger for PKBSync.
//
// Every component logs through this package: the directory service, the
// database actor, the event indexer and the ingestion pipeline. Adapters
// expose the same logger to slog (for sutureslog) and to watermill.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("directory", "notes").Msg("Repository opened")
//	logging.Err(err).Str("remote", name).Msg("Fetch failed")
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	ctx = logging.ContextWithDirectory(ctx, "notes")
//	logging.Ctx(ctx).Info().Int("pulled", 3).Msg("Sync finished")
//
// # Configuration
//
// Level, format and caller reporting come from the logging section of the
// configuration (LOG_LEVEL, LOG_FORMAT, LOG_CALLER in the environment).
//
// Always terminate log chains with .Msg() or .Send(); an unterminated event
// is never written.
package logging
