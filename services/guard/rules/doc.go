// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules holds the named validation rules the guard evaluates.
//
// A Rule pairs a Validator with a Threshold, a clamped Severity, a Category
// and an Origin. Rules live in a Registry that is seeded with the built-in
// defaults and extended by YAML configuration documents.
//
// # Configuration Document
//
//	generation:
//	  validation_rules:
//	    code:
//	      - name: no_print
//	        description: Avoid print statements
//	        validator: {type: regex, pattern: 'print\(', match: false}
//	        threshold: null
//	        severity: 2
//	        tags: [code_quality]
//	execution:
//	  execution_rules:
//	    - name: short_output
//	      description: Keep output short
//	      validator: {type: length}
//	      threshold: 500
//	shared:
//	  metrics:
//	    cohesion_target: 0.8
//
// llm and cascade are read as generation and execution. A rules section
// holds full rule snapshots in the form Export writes, so an exported rule
// set loads back as it was:
//
//	rules:
//	  - name: method_length
//	    category: code
//	    description: Methods should not exceed the maximum line count
//	    validator: line_count
//	    threshold: 42
//	    severity: 3
//	    origin: shared
//
// Any other top-level key, or a document with no sections, is rejected
// with ErrConfig.
//
// Each document is loaded as one atomic pass: if any entry is invalid,
// nothing from that document is registered. A later pass replaces rules
// with the same name from earlier passes.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Rule values returned from the
// Registry are copies; mutate the registry through UpdateThreshold and
// UpdateSeverity.
package rules
