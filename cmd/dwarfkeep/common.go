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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	gouser "os/user"
	"path"
	"strings"

	"golang.org/x/term"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
)

type config struct {
	// Host is the gRPC host:port of the coordinator.
	Host string `json:"host"`
	// Fetch is the base URL of the debuginfod fetch endpoint.
	Fetch string `json:"fetch"`
}

func getConfigFile() string {
	user, err := gouser.Current()
	if err != nil {
		panic(err)
	}

	return path.Join(user.HomeDir, ".dwarfkeep.config")
}

func readConfig() (*config, error) {
	data, err := os.ReadFile(getConfigFile())
	if err != nil {
		return nil, err
	}

	c := &config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}

	return c, nil
}

func writeConfig(c *config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(getConfigFile(), data, 0600)
}

func read(r *bufio.Reader) (string, error) {
	text, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// stdoutIsTerminal says whether to render progress bars; piped output
// stays clean.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func parseType(s string) (debuginfopb.DebuginfoType, error) {
	switch s {
	case "debuginfo", "":
		return debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED, nil
	case "executable":
		return debuginfopb.DebuginfoType_DEBUGINFO_TYPE_EXECUTABLE, nil
	case "sources":
		return debuginfopb.DebuginfoType_DEBUGINFO_TYPE_SOURCES, nil
	default:
		return 0, fmt.Errorf("unknown debuginfo type %q", s)
	}
}

func parseBuildIDType(s string) (debuginfopb.BuildIdType, error) {
	switch s {
	case "gnu":
		return debuginfopb.BuildIdType_BUILD_ID_TYPE_GNU, nil
	case "hash":
		return debuginfopb.BuildIdType_BUILD_ID_TYPE_HASH, nil
	case "go":
		return debuginfopb.BuildIdType_BUILD_ID_TYPE_GO, nil
	case "unknown", "":
		return debuginfopb.BuildIdType_BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED, nil
	default:
		return 0, fmt.Errorf("unknown build id type %q", s)
	}
}
