/*
 * Copyright 2021-present The lwm2mcore-go Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//Package rhash provides the resumable hash engines of the package verification pipeline
package rhash

import (
	"crypto/sha1" // #nosec G505 package signatures are SHA-1 digests per the DWL format
	"encoding"
	"fmt"
	"hash"
	"hash/crc32"
)

// cSha1BlobVersion tags the serialized hash-engine state; a blob carrying a
// different version is rejected the same way the workspace record itself is
// rejected on version mismatch.
const cSha1BlobVersion uint8 = 1

// Sha1DigestLen is the length of a SHA-1 digest in bytes.
const Sha1DigestLen = 20

//ResumableSha1 is a streaming SHA-1 computation whose engine state can be
//serialized into an opaque versioned blob, allowing the computation to be
//suspended and resumed across process restarts
type ResumableSha1 struct {
	engine hash.Hash
}

//NewSha1 constructor returns a new instance of a ResumableSha1
func NewSha1() *ResumableSha1 {
	return &ResumableSha1{engine: sha1.New()} // #nosec G401 see package note
}

//Process feeds the next bytes of the stream into the computation
func (rs *ResumableSha1) Process(aData []byte) {
	// hash.Hash.Write never returns an error
	_, _ = rs.engine.Write(aData)
}

//End returns the digest over all processed bytes
func (rs *ResumableSha1) End() []byte {
	return rs.engine.Sum(nil)
}

//Save serializes the engine state into an opaque versioned blob
func (rs *ResumableSha1) Save() ([]byte, error) {
	marshaler, ok := rs.engine.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("sha1-engine-not-serializable")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sha1-engine-state-save: %s", err)
	}
	blob := make([]byte, 0, len(state)+1)
	blob = append(blob, cSha1BlobVersion)
	blob = append(blob, state...)
	return blob, nil
}

//Restore rebuilds the engine from a previously saved blob; an empty blob
//yields a fresh engine, a version mismatch is rejected
func (rs *ResumableSha1) Restore(aBlob []byte) error {
	if len(aBlob) == 0 {
		rs.engine = sha1.New() // #nosec G401 see package note
		return nil
	}
	if aBlob[0] != cSha1BlobVersion {
		return fmt.Errorf("sha1-blob-version-mismatch: got %d, support %d", aBlob[0], cSha1BlobVersion)
	}
	engine := sha1.New() // #nosec G401 see package note
	unmarshaler, ok := engine.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("sha1-engine-not-serializable")
	}
	if err := unmarshaler.UnmarshalBinary(aBlob[1:]); err != nil {
		return fmt.Errorf("sha1-engine-state-restore: %s", err)
	}
	rs.engine = engine
	return nil
}

//Cancel discards the running computation
func (rs *ResumableSha1) Cancel() {
	rs.engine = sha1.New() // #nosec G401 see package note
}

////////////////////////////////////////////////////////////////////////

//Crc32Update continues an incremental IEEE CRC32 computation over the next
//bytes; seed with 0 for a fresh computation
func Crc32Update(aCrc uint32, aData []byte) uint32 {
	return crc32.Update(aCrc, crc32.IEEETable, aData)
}
