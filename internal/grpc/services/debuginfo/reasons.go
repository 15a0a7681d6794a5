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

// Reasons returned in ShouldInitiateUploadResponse. Their exact wording is
// part of the API: agents and InitiateUpload compare them (the latter
// case-insensitively), so changing a sentence is a breaking change.
const (
	reasonDebuginfoInDebuginfod = "Debuginfo exists in debuginfod, therefore no upload is necessary."

	reasonFirstTimeSeen = "First time we see this Build ID, and it does not exist in debuginfod, therefore please upload!"

	reasonUploadStale = "A previous upload was started but not finished and is now stale, so it can be retried."

	reasonUploadInProgress = "A previous upload is still in-progress and not stale yet (only stale uploads can be retried)."

	reasonDebuginfoAlreadyExists = "Debuginfo already exists and is not marked as invalid, therefore no new upload is needed."

	reasonDebuginfoAlreadyExistsButForced = "Debuginfo already exists and is not marked as invalid, therefore wouldn't have accepted a new upload, but accepting it because it's requested to be forced."

	reasonDebuginfoInvalid = "Debuginfo already exists but is marked as invalid, therefore a new upload is needed. Hash the debuginfo and initiate the upload."

	reasonDebuginfoEqual = "Debuginfo already exists and is marked as invalid, but the proposed hash is the same as the one already available, therefore the upload is not accepted as it would result in the same invalid debuginfos."

	reasonDebuginfoNotEqual = "Debuginfo already exists but is marked as invalid, therefore a new upload will be accepted."

	reasonDebuginfodSource = "Debuginfo is available from debuginfod already and not marked as invalid, therefore no new upload is needed."

	reasonDebuginfodInvalid = "Debuginfo is available from debuginfod already but is marked as invalid, therefore a new upload is needed."
)

// reasonLabels maps each reason sentence to the short token used as a
// metric label value.
var reasonLabels = map[string]string{
	reasonDebuginfoInDebuginfod:           "in_debuginfod",
	reasonFirstTimeSeen:                   "first_time_seen",
	reasonUploadStale:                     "upload_stale",
	reasonUploadInProgress:                "upload_in_progress",
	reasonDebuginfoAlreadyExists:          "already_exists",
	reasonDebuginfoAlreadyExistsButForced: "already_exists_but_forced",
	reasonDebuginfoInvalid:                "debuginfo_invalid",
	reasonDebuginfoEqual:                  "debuginfo_equal",
	reasonDebuginfoNotEqual:               "debuginfo_not_equal",
	reasonDebuginfodSource:                "debuginfod_source",
	reasonDebuginfodInvalid:               "debuginfod_invalid",
}

func reasonLabel(reason string) string {
	if l, ok := reasonLabels[reason]; ok {
		return l
	}
	return "unknown"
}
