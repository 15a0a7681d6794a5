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
	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	insecurecreds "google.golang.org/grpc/credentials/insecure"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
)

// maxMsgSize matches the server default so large debuginfo chunks fit.
const maxMsgSize = 1000 * 1000 * 1000

func getClient() (debuginfopb.DebuginfoServiceClient, error) {
	conn, err := getConn()
	if err != nil {
		return nil, err
	}
	return debuginfopb.NewDebuginfoServiceClient(conn), nil
}

func getConn() (*grpc.ClientConn, error) {
	creds := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: skipverify}))
	if insecure {
		creds = grpc.WithTransportCredentials(insecurecreds.NewCredentials())
	}

	return grpc.Dial(conf.Host, creds,
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	)
}
