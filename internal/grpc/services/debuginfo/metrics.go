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

package debuginfo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwarfkeep_debuginfo_upload_decisions_total",
		Help: "Number of upload decisions taken, by outcome and reason.",
	},
		// should_initiate is "true" or "false", reason is the short token
		// of the decision reason.
		[]string{"should_initiate", "reason"},
	)

	uploadsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwarfkeep_debuginfo_uploads_initiated_total",
		Help: "Number of uploads accepted by InitiateUpload.",
	})

	uploadsFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwarfkeep_debuginfo_uploads_finished_total",
		Help: "Number of uploads sealed by MarkUploadFinished.",
	})

	uploadsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwarfkeep_debuginfo_uploads_failed_total",
		Help: "Number of upload streams aborted before the payload was stored.",
	})

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dwarfkeep_debuginfo_uploaded_bytes_total",
		Help: "Payload bytes written to the bucket by the Upload RPC.",
	})
)
