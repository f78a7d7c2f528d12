// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nlpcheck runs a solver plugin against a reference problem.
//
//	nlpcheck list
//	nlpcheck run --problem hs071 --set tolerance=1e-6 --metrics
//	nlpcheck run --config run.yaml
package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("nlpcheck: %v", err)
		os.Exit(1)
	}
}
