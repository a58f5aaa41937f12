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

package dwl

import (
	"bytes"
	"context"
	"crypto/sha1" // #nosec G505 reference digests for the envelope signature
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

//memSink collects the binary payload handed over by the parser
type memSink struct {
	data []byte
}

func (ms *memSink) OpenForWrite(ctx context.Context, aType cmn.UpdateType, aResume bool) error {
	return nil
}

func (ms *memSink) WriteBinaryData(ctx context.Context, aData []byte) error {
	ms.data = append(ms.data, aData...)
	return nil
}

func (ms *memSink) CloseWrite(ctx context.Context, aComplete bool) error {
	return nil
}

//buildEnvelope assembles a package: prolog, comment, binary, padding and the
//SHA-1 signature over everything before the signature section
func buildEnvelope(comment, binaryData, padding []byte) []byte {
	prolog := make([]byte, 0, cPrologLen)
	prolog = append(prolog, cPrologMagic...)
	prolog = binary.LittleEndian.AppendUint32(prolog, crc32.ChecksumIEEE(binaryData))
	prolog = binary.LittleEndian.AppendUint32(prolog, uint32(len(comment)))
	prolog = binary.LittleEndian.AppendUint32(prolog, uint32(len(binaryData)))
	prolog = binary.LittleEndian.AppendUint32(prolog, uint32(len(padding)))
	prolog = binary.LittleEndian.AppendUint32(prolog, uint32(20))

	sha := sha1.New() // #nosec G401
	sha.Write(prolog)
	sha.Write(comment)
	sha.Write(binaryData)
	sha.Write(padding)

	pkg := append([]byte{}, prolog...)
	pkg = append(pkg, comment...)
	pkg = append(pkg, binaryData...)
	pkg = append(pkg, padding...)
	pkg = append(pkg, sha.Sum(nil)...)
	return pkg
}

func TestParserHappyPathSingleChunk(t *testing.T) {
	ctx := context.Background()
	comment := []byte("release notes")
	binaryData := bytes.Repeat([]byte{0x42}, 512)
	padding := []byte{0, 0, 0}
	pkg := buildEnvelope(comment, binaryData, padding)

	sink := &memSink{}
	parser := NewParser(sink)
	require.NoError(t, parser.Feed(ctx, pkg))
	require.True(t, parser.Done())
	require.NoError(t, parser.Finalize(ctx))

	assert.Equal(t, binaryData, sink.data)
	assert.Equal(t, uint32(0), parser.RemainingBinary())
	assert.Equal(t, crc32.ChecksumIEEE(binaryData), parser.ComputedCRC())
	assert.Equal(t, uint64(len(pkg)), parser.Offset())
}

func TestParserRegionAccountingAcrossOddChunks(t *testing.T) {
	ctx := context.Background()
	comment := []byte("c")
	binaryData := bytes.Repeat([]byte{7, 8, 9}, 100)
	padding := bytes.Repeat([]byte{0}, 13)
	pkg := buildEnvelope(comment, binaryData, padding)

	sink := &memSink{}
	parser := NewParser(sink)
	for i := 0; i < len(pkg); i += 7 {
		end := i + 7
		if end > len(pkg) {
			end = len(pkg)
		}
		require.NoError(t, parser.Feed(ctx, pkg[i:end]))
	}
	require.NoError(t, parser.Finalize(ctx))
	assert.Equal(t, binaryData, sink.data)
	assert.Equal(t, uint32(len(binaryData)), parser.BinarySize())
}

func TestParserEmptyCommentAndPaddingSections(t *testing.T) {
	ctx := context.Background()
	binaryData := []byte("just the payload")
	pkg := buildEnvelope(nil, binaryData, nil)

	sink := &memSink{}
	parser := NewParser(sink)
	require.NoError(t, parser.Feed(ctx, pkg))
	require.NoError(t, parser.Finalize(ctx))
	assert.Equal(t, binaryData, sink.data)
}

func TestParserRejectsBadMagic(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("payload"), nil)
	pkg[0] = 'X'

	parser := NewParser(&memSink{})
	err := parser.Feed(ctx, pkg)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestParserDetectsCRCMismatch(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("payload-with-wrong-crc"), nil)
	// corrupt the declared CRC in the prolog
	pkg[4] ^= 0xFF

	parser := NewParser(&memSink{})
	require.NoError(t, parser.Feed(ctx, pkg))
	assert.ErrorIs(t, parser.Finalize(ctx), ErrCRCMismatch)
}

func TestParserDetectsSignatureMismatch(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("payload-with-wrong-signature"), nil)
	// flip one signature byte
	pkg[len(pkg)-1] ^= 0xFF

	parser := NewParser(&memSink{})
	require.NoError(t, parser.Feed(ctx, pkg))
	assert.ErrorIs(t, parser.Finalize(ctx), ErrSignatureMismatch)
}

func TestParserDetectsTruncation(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("truncated-payload"), nil)

	parser := NewParser(&memSink{})
	require.NoError(t, parser.Feed(ctx, pkg[:len(pkg)-5]))
	assert.ErrorIs(t, parser.Finalize(ctx), ErrTruncated)
}

func TestParserRejectsTrailingData(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("payload"), nil)
	pkg = append(pkg, 0xAA)

	parser := NewParser(&memSink{})
	assert.ErrorIs(t, parser.Feed(ctx, pkg), ErrTrailingData)
}

func TestParserResumeMidBinaryMatchesUninterruptedPass(t *testing.T) {
	ctx := context.Background()
	comment := []byte("resumable")
	binaryData := bytes.Repeat([]byte("0123456789abcdef"), 64)
	pkg := buildEnvelope(comment, binaryData, nil)
	cut := cPrologLen + len(comment) + len(binaryData)/2

	sinkA := &memSink{}
	parserA := NewParser(sinkA)
	require.NoError(t, parserA.Feed(ctx, pkg[:cut]))

	ws := workspace.NewPkgDwlWorkspace()
	require.NoError(t, parserA.SaveTo(ws))
	assert.Equal(t, uint64(cut), ws.Offset)
	assert.Equal(t, SectionBinary, ws.Section)

	sinkB := &memSink{}
	parserB := NewParser(sinkB)
	require.NoError(t, parserB.RestoreFrom(ws))
	require.NoError(t, parserB.Feed(ctx, pkg[cut:]))
	require.NoError(t, parserB.Finalize(ctx))

	combined := append(append([]byte{}, sinkA.data...), sinkB.data...)
	assert.Equal(t, binaryData, combined)
	assert.Equal(t, crc32.ChecksumIEEE(binaryData), parserB.ComputedCRC())
}

func TestParserSaveInsideSignatureRollsBackToSectionStart(t *testing.T) {
	ctx := context.Background()
	binaryData := []byte("signature-rollback-payload")
	pkg := buildEnvelope(nil, binaryData, nil)
	sigStart := len(pkg) - 20

	parser := NewParser(&memSink{})
	require.NoError(t, parser.Feed(ctx, pkg[:sigStart+5]))

	ws := workspace.NewPkgDwlWorkspace()
	require.NoError(t, parser.SaveTo(ws))
	assert.Equal(t, uint64(sigStart), ws.Offset)
	assert.Equal(t, SectionSignature, ws.Section)
	assert.Equal(t, uint32(0), ws.Subsection)

	// resume re-fetches the whole signature
	resumed := NewParser(&memSink{})
	require.NoError(t, resumed.RestoreFrom(ws))
	require.NoError(t, resumed.Feed(ctx, pkg[sigStart:]))
	assert.NoError(t, resumed.Finalize(ctx))
}

func TestParserSaveInsidePrologRestartsFromScratch(t *testing.T) {
	ctx := context.Background()
	pkg := buildEnvelope(nil, []byte("prolog-restart"), nil)

	parser := NewParser(&memSink{})
	require.NoError(t, parser.Feed(ctx, pkg[:10]))

	ws := workspace.NewPkgDwlWorkspace()
	require.NoError(t, parser.SaveTo(ws))
	assert.Equal(t, uint64(0), ws.Offset)
	assert.Equal(t, SectionProlog, ws.Section)
	assert.Empty(t, ws.Sha1Ctx)

	resumed := NewParser(&memSink{})
	require.NoError(t, resumed.RestoreFrom(ws))
	require.NoError(t, resumed.Feed(ctx, pkg))
	assert.NoError(t, resumed.Finalize(ctx))
}

func TestParserRestoreRejectsSubsectionBeyondSectionSize(t *testing.T) {
	// a corrupted record claiming more consumed bytes than the section
	// holds must be refused, not fed into the region accounting
	ws := workspace.NewPkgDwlWorkspace()
	ws.Section = SectionBinary
	ws.BinarySize = 100
	ws.RemainingBinaryData = 100
	ws.Subsection = 200

	parser := NewParser(&memSink{})
	assert.ErrorIs(t, parser.RestoreFrom(ws), ErrMalformed)

	ws.Section = SectionComment
	ws.CommentSize = 8
	ws.Subsection = 9
	assert.ErrorIs(t, parser.RestoreFrom(ws), ErrMalformed)

	// at the exact bound the record is still usable
	ws.Subsection = 8
	assert.NoError(t, parser.RestoreFrom(ws))
}
