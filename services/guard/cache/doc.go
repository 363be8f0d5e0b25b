// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the per-category validation result caches.
//
// Each category gets its own bounded LRU store with a default TTL. A
// Manager owns the set of stores and runs one sweeper goroutine for all of
// them, optionally followed by a capacity optimizer. Counters are exported
// through OpenTelemetry instruments labelled by category.
package cache
