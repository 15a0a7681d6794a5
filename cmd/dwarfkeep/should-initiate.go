// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
)

func shouldInitiateCommand() *command {
	cmd := newCommand("should-initiate")
	cmd.Description = func() string { return "ask the server whether debuginfo for a build id should be uploaded" }
	cmd.Usage = func() string { return "Usage: should-initiate [-flags] <build_id>" }
	hashFlag := cmd.String("hash", "", "sha256 of the debuginfo that would be offered")
	forceFlag := cmd.Bool("force", false, "ask as if a forced re-upload was requested")
	typeFlag := cmd.String("type", "debuginfo", "debuginfo type: debuginfo, executable or sources")
	buildIDTypeFlag := cmd.String("buildid-type", "gnu", "build id type: gnu, hash, go or unknown")
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}
		buildID := cmd.Args()[0]

		typ, err := parseType(*typeFlag)
		if err != nil {
			return err
		}
		bidType, err := parseBuildIDType(*buildIDTypeFlag)
		if err != nil {
			return err
		}

		client, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := client.ShouldInitiateUpload(ctx, &debuginfopb.ShouldInitiateUploadRequest{
			BuildId:     buildID,
			Hash:        *hashFlag,
			Force:       *forceFlag,
			Type:        typ,
			BuildIdType: bidType,
		})
		if err != nil {
			return err
		}

		fmt.Printf("should_initiate_upload: %v\n", res.ShouldInitiateUpload)
		fmt.Printf("reason: %s\n", res.Reason)
		return nil
	}
	return cmd
}
