// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitoring records validation metrics and raises alerts.
//
// The Collector holds typed, bounded time series that are mirrored to
// OpenTelemetry instruments and optionally to InfluxDB. The AlertManager
// keeps every alert, dispatches it synchronously to severity handlers and
// derives a health status from what is still unresolved. Monitor wires
// both together with the default metric set.
package monitoring
