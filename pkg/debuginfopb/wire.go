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

package debuginfopb

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire marshaling for every message in debuginfo.proto, following proto3
// rules: scalar fields at their zero value are omitted, unknown fields are
// skipped on read, and for the oneof in UploadRequest the last field wins.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeField(data []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return data[n:], nil
}

// Marshal implements the wire format for ShouldInitiateUploadRequest.
func (m *ShouldInitiateUploadRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendString(b, 2, m.Hash)
	b = appendBool(b, 3, m.Force)
	b = appendVarint(b, 4, uint64(m.Type))
	b = appendVarint(b, 5, uint64(m.BuildIdType))
	return b, nil
}

// Unmarshal implements the wire format for ShouldInitiateUploadRequest.
func (m *ShouldInitiateUploadRequest) Unmarshal(data []byte) error {
	*m = ShouldInitiateUploadRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Hash, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Force, data = v != 0, data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type, data = DebuginfoType(v), data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildIdType, data = BuildIdType(v), data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for ShouldInitiateUploadResponse.
func (m *ShouldInitiateUploadResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.ShouldInitiateUpload)
	b = appendString(b, 2, m.Reason)
	return b, nil
}

// Unmarshal implements the wire format for ShouldInitiateUploadResponse.
func (m *ShouldInitiateUploadResponse) Unmarshal(data []byte) error {
	*m = ShouldInitiateUploadResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.ShouldInitiateUpload, data = v != 0, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Reason, data = v, data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for InitiateUploadRequest.
func (m *InitiateUploadRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendString(b, 2, m.Hash)
	b = appendVarint(b, 3, uint64(m.Size))
	b = appendBool(b, 4, m.Force)
	b = appendVarint(b, 5, uint64(m.Type))
	b = appendVarint(b, 6, uint64(m.BuildIdType))
	return b, nil
}

// Unmarshal implements the wire format for InitiateUploadRequest.
func (m *InitiateUploadRequest) Unmarshal(data []byte) error {
	*m = InitiateUploadRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Hash, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Size, data = int64(v), data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Force, data = v != 0, data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type, data = DebuginfoType(v), data[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildIdType, data = BuildIdType(v), data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for InitiateUploadResponse.
func (m *InitiateUploadResponse) Marshal() ([]byte, error) {
	var b []byte
	if m.UploadInstructions != nil {
		sub, err := m.UploadInstructions.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b, nil
}

// Unmarshal implements the wire format for InitiateUploadResponse.
func (m *InitiateUploadResponse) Unmarshal(data []byte) error {
	*m = InitiateUploadResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			instructions := &UploadInstructions{}
			if err := instructions.Unmarshal(v); err != nil {
				return errors.Wrap(err, "debuginfopb: invalid upload_instructions")
			}
			m.UploadInstructions, data = instructions, data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for UploadInstructions.
func (m *UploadInstructions) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendString(b, 2, m.UploadId)
	b = appendVarint(b, 3, uint64(m.UploadStrategy))
	b = appendString(b, 4, m.SignedUrl)
	b = appendVarint(b, 5, uint64(m.Type))
	return b, nil
}

// Unmarshal implements the wire format for UploadInstructions.
func (m *UploadInstructions) Unmarshal(data []byte) error {
	*m = UploadInstructions{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.UploadId, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.UploadStrategy, data = UploadInstructions_UploadStrategy(v), data[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.SignedUrl, data = v, data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type, data = DebuginfoType(v), data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for UploadRequest.
func (m *UploadRequest) Marshal() ([]byte, error) {
	var b []byte
	switch {
	case m.Info != nil:
		sub, err := m.Info.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case m.ChunkData != nil:
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ChunkData)
	}
	return b, nil
}

// Unmarshal implements the wire format for UploadRequest.
func (m *UploadRequest) Unmarshal(data []byte) error {
	*m = UploadRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info := &UploadInfo{}
			if err := info.Unmarshal(v); err != nil {
				return errors.Wrap(err, "debuginfopb: invalid upload info")
			}
			m.Info, m.ChunkData, data = info, nil, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			// Copy: the transport may reuse the read buffer.
			m.ChunkData, m.Info, data = append([]byte{}, v...), nil, data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for UploadInfo.
func (m *UploadInfo) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendString(b, 2, m.UploadId)
	b = appendVarint(b, 3, uint64(m.Type))
	return b, nil
}

// Unmarshal implements the wire format for UploadInfo.
func (m *UploadInfo) Unmarshal(data []byte) error {
	*m = UploadInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.UploadId, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type, data = DebuginfoType(v), data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for UploadResponse.
func (m *UploadResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendVarint(b, 2, m.Size)
	return b, nil
}

// Unmarshal implements the wire format for UploadResponse.
func (m *UploadResponse) Unmarshal(data []byte) error {
	*m = UploadResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Size, data = v, data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for MarkUploadFinishedRequest.
func (m *MarkUploadFinishedRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.BuildId)
	b = appendString(b, 2, m.UploadId)
	b = appendVarint(b, 3, uint64(m.Type))
	return b, nil
}

// Unmarshal implements the wire format for MarkUploadFinishedRequest.
func (m *MarkUploadFinishedRequest) Unmarshal(data []byte) error {
	*m = MarkUploadFinishedRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.BuildId, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.UploadId, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type, data = DebuginfoType(v), data[n:]
		default:
			var err error
			if data, err = consumeField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal implements the wire format for MarkUploadFinishedResponse.
func (m *MarkUploadFinishedResponse) Marshal() ([]byte, error) {
	return nil, nil
}

// Unmarshal implements the wire format for MarkUploadFinishedResponse.
func (m *MarkUploadFinishedResponse) Unmarshal(data []byte) error {
	*m = MarkUploadFinishedResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		if data, err = consumeField(data, num, typ); err != nil {
			return err
		}
	}
	return nil
}
