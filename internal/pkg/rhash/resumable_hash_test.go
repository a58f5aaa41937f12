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

package rhash

import (
	"bytes"
	"crypto/sha1" // #nosec G505 reference digests for the resumable engine
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSha1SplitEqualsSinglePass(t *testing.T) {
	payload := bytes.Repeat([]byte("resumable-digest-payload"), 100)
	expected := sha1.Sum(payload) // #nosec G401

	first := NewSha1()
	first.Process(payload[:777])
	blob, err := first.Save()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	second := NewSha1()
	require.NoError(t, second.Restore(blob))
	second.Process(payload[777:])
	assert.Equal(t, expected[:], second.End())
}

func TestSha1RestoreEmptyBlobYieldsFreshEngine(t *testing.T) {
	payload := []byte("fresh-start")
	expected := sha1.Sum(payload) // #nosec G401

	engine := NewSha1()
	engine.Process([]byte("stale bytes that must not survive"))
	require.NoError(t, engine.Restore(nil))
	engine.Process(payload)
	assert.Equal(t, expected[:], engine.End())
}

func TestSha1RestoreRejectsVersionMismatch(t *testing.T) {
	engine := NewSha1()
	engine.Process([]byte("some data"))
	blob, err := engine.Save()
	require.NoError(t, err)

	blob[0] = cSha1BlobVersion + 1
	assert.Error(t, NewSha1().Restore(blob))
}

func TestSha1CancelDiscardsState(t *testing.T) {
	payload := []byte("after-cancel")
	expected := sha1.Sum(payload) // #nosec G401

	engine := NewSha1()
	engine.Process([]byte("discarded"))
	engine.Cancel()
	engine.Process(payload)
	assert.Equal(t, expected[:], engine.End())
}

func TestCrc32UpdateIncrementalEqualsOneShot(t *testing.T) {
	payload := bytes.Repeat([]byte{0xA5, 0x00, 0xFF, 0x12}, 1000)
	expected := crc32.ChecksumIEEE(payload)

	crc := uint32(0)
	for i := 0; i < len(payload); i += 333 {
		end := i + 333
		if end > len(payload) {
			end = len(payload)
		}
		crc = Crc32Update(crc, payload[i:end])
	}
	assert.Equal(t, expected, crc)
}
