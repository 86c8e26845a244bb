// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package validation wraps go-playground/validator with the naming rules PKBSync
// shares between configuration, the directory registry and webhook payloads.
//
// Custom tags:
//
//	pkb_dir    directory (repository) name: lowercase letters, digits, '-' and '_'
//	pkb_alias  device alias used to build remote names
//
// Example:
//
//	type Source struct {
//	    Name      string `validate:"required"`
//	    Directory string `validate:"pkb_dir"`
//	}
//	if err := validation.ValidateStruct(&src); err != nil {
//	    return err
//	}
package validation
