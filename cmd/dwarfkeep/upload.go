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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dwarfkeep/dwarfkeep/pkg/buildid"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

// uploadChunkSize keeps individual stream frames well below the server
// message limit.
const uploadChunkSize = 1024 * 1024

func uploadCommand() *command {
	cmd := newCommand("upload")
	cmd.Description = func() string { return "upload debuginfo for a binary to the server" }
	cmd.Usage = func() string { return "Usage: upload [-flags] <file>" }
	forceFlag := cmd.Bool("force", false, "upload even when the server already holds valid debuginfo")
	typeFlag := cmd.String("type", "debuginfo", "debuginfo type: debuginfo, executable or sources")
	buildIDFlag := cmd.String("buildid", "", "override the build id extracted from the binary")
	buildIDTypeFlag := cmd.String("buildid-type", "unknown", "build id type when -buildid is set: gnu, hash, go or unknown")
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}
		fn := cmd.Args()[0]

		typ, err := parseType(*typeFlag)
		if err != nil {
			return err
		}

		hash, size, err := hashFile(fn)
		if err != nil {
			return err
		}

		buildID := *buildIDFlag
		var bidType debuginfopb.BuildIdType
		if buildID != "" {
			bidType, err = parseBuildIDType(*buildIDTypeFlag)
			if err != nil {
				return err
			}
		} else {
			buildID, err = buildid.FromFile(fn)
			if err != nil {
				if _, ok := err.(errtypes.IsNotFound); !ok {
					return err
				}
				// binaries without a GNU note get a content-addressed id
				buildID = hash
				bidType = debuginfopb.BuildIdType_BUILD_ID_TYPE_HASH
			} else {
				bidType = debuginfopb.BuildIdType_BUILD_ID_TYPE_GNU
			}
		}

		client, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		should, err := client.ShouldInitiateUpload(ctx, &debuginfopb.ShouldInitiateUploadRequest{
			BuildId:     buildID,
			Hash:        hash,
			Force:       *forceFlag,
			Type:        typ,
			BuildIdType: bidType,
		})
		if err != nil {
			return err
		}
		if !should.ShouldInitiateUpload {
			fmt.Printf("upload not needed: %s\n", should.Reason)
			return nil
		}

		initiate, err := client.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
			BuildId:     buildID,
			Hash:        hash,
			Size:        size,
			Force:       *forceFlag,
			Type:        typ,
			BuildIdType: bidType,
		})
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				fmt.Println("debuginfo already exists on the server")
				return nil
			}
			return err
		}

		instructions := initiate.GetUploadInstructions()
		if instructions == nil || instructions.UploadStrategy != debuginfopb.UploadInstructions_UPLOAD_STRATEGY_GRPC {
			return errors.New("server answered with an unsupported upload strategy")
		}

		if err := streamUpload(ctx, client, fn, size, instructions); err != nil {
			return err
		}

		if _, err := client.MarkUploadFinished(ctx, &debuginfopb.MarkUploadFinishedRequest{
			BuildId:  buildID,
			UploadId: instructions.UploadId,
			Type:     typ,
		}); err != nil {
			return err
		}

		fmt.Printf("uploaded %s (%d bytes) with build id %s\n", fn, size, buildID)
		return nil
	}
	return cmd
}

func hashFile(fn string) (string, int64, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return "", 0, err
	}
	defer fd.Close()

	h := sha256.New()
	size, err := io.Copy(h, fd)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func streamUpload(ctx context.Context, client debuginfopb.DebuginfoServiceClient, fn string, size int64, instructions *debuginfopb.UploadInstructions) error {
	fd, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer fd.Close()

	stream, err := client.Upload(ctx)
	if err != nil {
		return err
	}

	if err := stream.Send(&debuginfopb.UploadRequest{
		Info: &debuginfopb.UploadInfo{
			BuildId:  instructions.BuildId,
			UploadId: instructions.UploadId,
			Type:     instructions.Type,
		},
	}); err != nil {
		return err
	}

	var reader io.Reader = fd
	var bar *pb.ProgressBar
	if stdoutIsTerminal() {
		bar = pb.Full.Start64(size)
		reader = bar.NewProxyReader(fd)
	}

	buf := make([]byte, uploadChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if serr := stream.Send(&debuginfopb.UploadRequest{ChunkData: buf[:n]}); serr != nil {
				return serr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if bar != nil {
		bar.Finish()
	}

	res, err := stream.CloseAndRecv()
	if err != nil {
		return err
	}
	fmt.Printf("server stored %d bytes\n", res.Size)
	return nil
}
