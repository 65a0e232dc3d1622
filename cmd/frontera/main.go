// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command frontera runs the Frontera coaching service.
//
// # Usage
//
//	frontera serve --config frontera.yaml
//	frontera migrate --driver postgres --database-url postgres://...
//	frontera catalog
//
// Every setting can also come from the environment (DATABASE_URL,
// ANTHROPIC_API_KEY, CLERK_JWT_KEY, POSTHOG_API_KEY, ...); environment
// values override the config file.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
