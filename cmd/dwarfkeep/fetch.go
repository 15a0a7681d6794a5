// Copyright 2018-2019 CERN
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
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dwarfkeep/dwarfkeep/pkg/httpclient"
	"github.com/pkg/errors"
)

func fetchCommand() *command {
	cmd := newCommand("fetch")
	cmd.Description = func() string { return "download debuginfo for a build id from the server" }
	cmd.Usage = func() string { return "Usage: fetch [-flags] <build_id> <local_file>" }
	sectionFlag := cmd.String("section", "debuginfo", "section to fetch: debuginfo or executable")
	cmd.Action = func() error {
		if cmd.NArg() < 2 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}

		buildID := cmd.Args()[0]
		local := cmd.Args()[1]

		section := *sectionFlag
		if section != "debuginfo" && section != "executable" {
			return fmt.Errorf("unknown section %q", section)
		}

		url := fmt.Sprintf("%s/buildid/%s/%s", strings.TrimSuffix(conf.Fetch, "/"), buildID, section)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute*15)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		client := httpclient.New(httpclient.Timeout(time.Minute * 15))
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		switch res.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return errors.New("debuginfo not found")
		default:
			return errors.New("fetch failed: " + res.Status)
		}

		fd, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer fd.Close()

		var reader io.Reader = res.Body
		var bar *pb.ProgressBar
		if res.ContentLength > 0 && stdoutIsTerminal() {
			bar = pb.Full.Start64(res.ContentLength)
			reader = bar.NewProxyReader(res.Body)
		}

		n, err := io.Copy(fd, reader)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}

		fmt.Printf("fetched %s (%d bytes) into %s\n", buildID, n, local)
		return nil
	}
	return cmd
}
