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

//Package dwl provides the package envelope parser of the download pipeline
package dwl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/rhash"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

// package envelope sections, persisted as the workspace section cursor
const (
	// SectionProlog - fixed-size header carrying the magic, the declared CRC
	// and the sizes of all following sections
	SectionProlog uint8 = iota
	// SectionComment - free-form descriptive bytes, hashed but discarded
	SectionComment
	// SectionBinary - the actual payload, forwarded to platform storage
	SectionBinary
	// SectionPadding - alignment filler, hashed but discarded
	SectionPadding
	// SectionSignature - SHA-1 digest over all preceding sections
	SectionSignature
	// SectionDone - envelope fully consumed
	SectionDone
)

// cPrologMagic opens every package envelope.
var cPrologMagic = []byte("DWL1")

// cPrologLen is the full prolog size: 4 magic bytes followed by five
// little-endian uint32 fields (packageCRC, commentSize, binarySize,
// paddingSize, signatureSize).
const cPrologLen = 24

// envelope errors; each maps onto a distinct terminal update result
var (
	// ErrBadMagic - stream does not open with the envelope magic
	ErrBadMagic = errors.New("package-bad-magic")
	// ErrMalformed - prolog fields are inconsistent
	ErrMalformed = errors.New("package-malformed")
	// ErrTrailingData - bytes received after the envelope was fully consumed
	ErrTrailingData = errors.New("package-trailing-data")
	// ErrTruncated - stream ended before the envelope was fully consumed
	ErrTruncated = errors.New("package-truncated")
	// ErrCRCMismatch - computed CRC differs from the declared one
	ErrCRCMismatch = errors.New("package-crc-mismatch")
	// ErrSignatureMismatch - computed digest differs from the signature section
	ErrSignatureMismatch = errors.New("package-signature-mismatch")
)

//Parser is the package envelope cursor. It walks the section boundaries of
//the byte stream, keeps the running CRC over the binary region and the
//running SHA-1 over everything before the signature, and forwards binary
//payload bytes to the storage sink. Its position and hash state round-trip
//through the persisted workspace so a transfer can resume mid-binary.
type Parser struct {
	sink cmn.PackageStorage

	section    uint8
	subsection uint32
	offset     uint64

	prologBuf []byte

	packageCRC    uint32
	commentSize   uint32
	binarySize    uint32
	paddingSize   uint32
	signatureSize uint32

	remainingBinary uint32
	computedCRC     uint32
	sha             *rhash.ResumableSha1
	signature       []byte
}

//NewParser constructor returns a new instance of a Parser writing binary
//payload bytes into the given sink
func NewParser(aSink cmn.PackageStorage) *Parser {
	return &Parser{
		sink:      aSink,
		section:   SectionProlog,
		prologBuf: make([]byte, 0, cPrologLen),
		sha:       rhash.NewSha1(),
	}
}

//Offset returns the number of package stream bytes consumed so far
func (p *Parser) Offset() uint64 {
	return p.offset
}

//ComputedCRC returns the running CRC over the binary region
func (p *Parser) ComputedCRC() uint32 {
	return p.computedCRC
}

//BinarySize returns the declared binary payload size; 0 until the prolog
//was parsed
func (p *Parser) BinarySize() uint32 {
	return p.binarySize
}

//RemainingBinary returns the binary payload bytes not yet consumed
func (p *Parser) RemainingBinary() uint32 {
	return p.remainingBinary
}

//Done reports whether the envelope was fully consumed
func (p *Parser) Done() bool {
	return p.section == SectionDone
}

//Feed consumes the next chunk of the package stream, walking section
//boundaries inside the chunk as needed
func (p *Parser) Feed(ctx context.Context, aChunk []byte) error {
	rest := aChunk
	for len(rest) > 0 {
		var err error
		switch p.section {
		case SectionProlog:
			rest, err = p.feedProlog(ctx, rest)
		case SectionComment:
			rest = p.feedSkipped(rest, p.commentSize)
		case SectionBinary:
			rest, err = p.feedBinary(ctx, rest)
		case SectionPadding:
			rest = p.feedSkipped(rest, p.paddingSize)
		case SectionSignature:
			rest = p.feedSignature(rest)
		case SectionDone:
			logger.Warnw(ctx, "bytes received after envelope end", log.Fields{"count": len(rest)})
			return ErrTrailingData
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//Finalize verifies the fully consumed envelope: the running CRC against the
//declared one and the computed digest against the signature section
func (p *Parser) Finalize(ctx context.Context) error {
	if p.section != SectionDone {
		logger.Warnw(ctx, "stream ended inside envelope", log.Fields{
			"section": p.section, "subsection": p.subsection})
		return ErrTruncated
	}
	if p.computedCRC != p.packageCRC {
		logger.Warnw(ctx, "package crc mismatch", log.Fields{
			"computed": p.computedCRC, "declared": p.packageCRC})
		return ErrCRCMismatch
	}
	if p.signatureSize > 0 {
		if !bytes.Equal(p.sha.End(), p.signature) {
			logger.Warn(ctx, "package signature mismatch")
			return ErrSignatureMismatch
		}
	}
	logger.Debugw(ctx, "package envelope verified", log.Fields{
		"binary-size": p.binarySize, "crc": p.computedCRC})
	return nil
}

//SaveTo stores the cursor position and hash state into the workspace record.
//The prolog and the signature section are not resumable: a save inside
//either rolls the offset back to the section start so a later resume
//re-fetches it whole.
func (p *Parser) SaveTo(aWorkspace *workspace.PkgDwlWorkspace) error {
	if aWorkspace == nil {
		return cmn.ErrInvalidArg
	}
	section := p.section
	subsection := p.subsection
	offset := p.offset
	shaState, err := p.sha.Save()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	switch section {
	case SectionProlog:
		// restart from scratch, partial prolog bytes are not persisted
		subsection = 0
		offset = 0
		shaState = nil
	case SectionSignature:
		// partial signature bytes are not persisted
		offset -= uint64(subsection)
		subsection = 0
	}
	aWorkspace.Section = section
	aWorkspace.Subsection = subsection
	aWorkspace.Offset = offset
	aWorkspace.PackageCRC = p.packageCRC
	aWorkspace.CommentSize = p.commentSize
	aWorkspace.BinarySize = p.binarySize
	aWorkspace.PaddingSize = p.paddingSize
	aWorkspace.SignatureSize = p.signatureSize
	aWorkspace.RemainingBinaryData = p.remainingBinary
	aWorkspace.ComputedCRC = p.computedCRC
	aWorkspace.Sha1Ctx = shaState
	return nil
}

//RestoreFrom rebuilds the cursor from a persisted workspace record so the
//stream can continue at the workspace offset
func (p *Parser) RestoreFrom(aWorkspace *workspace.PkgDwlWorkspace) error {
	if aWorkspace == nil {
		return cmn.ErrInvalidArg
	}
	if aWorkspace.Section > SectionDone {
		return fmt.Errorf("%w: unknown section %d", ErrMalformed, aWorkspace.Section)
	}
	var sectionSize uint32
	switch aWorkspace.Section {
	case SectionComment:
		sectionSize = aWorkspace.CommentSize
	case SectionBinary:
		sectionSize = aWorkspace.BinarySize
	case SectionPadding:
		sectionSize = aWorkspace.PaddingSize
	case SectionSignature:
		sectionSize = aWorkspace.SignatureSize
	}
	if aWorkspace.Subsection > sectionSize {
		return fmt.Errorf("%w: subsection %d beyond section bound %d",
			ErrMalformed, aWorkspace.Subsection, sectionSize)
	}
	sha := rhash.NewSha1()
	if err := sha.Restore(aWorkspace.Sha1Ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	p.section = aWorkspace.Section
	p.subsection = aWorkspace.Subsection
	p.offset = aWorkspace.Offset
	p.packageCRC = aWorkspace.PackageCRC
	p.commentSize = aWorkspace.CommentSize
	p.binarySize = aWorkspace.BinarySize
	p.paddingSize = aWorkspace.PaddingSize
	p.signatureSize = aWorkspace.SignatureSize
	p.remainingBinary = aWorkspace.RemainingBinaryData
	p.computedCRC = aWorkspace.ComputedCRC
	p.sha = sha
	p.prologBuf = p.prologBuf[:0]
	p.signature = p.signature[:0]
	return nil
}

///////////////////////////////////////////////////////////

func (p *Parser) feedProlog(ctx context.Context, aRest []byte) ([]byte, error) {
	missing := cPrologLen - len(p.prologBuf)
	take := missing
	if take > len(aRest) {
		take = len(aRest)
	}
	p.prologBuf = append(p.prologBuf, aRest[:take]...)
	p.consume(aRest[:take], true)
	if len(p.prologBuf) < cPrologLen {
		return nil, nil
	}
	if !bytes.Equal(p.prologBuf[:len(cPrologMagic)], cPrologMagic) {
		logger.Warnw(ctx, "package magic not recognized", log.Fields{
			"got": fmt.Sprintf("%x", p.prologBuf[:len(cPrologMagic)])})
		return nil, ErrBadMagic
	}
	p.packageCRC = binary.LittleEndian.Uint32(p.prologBuf[4:8])
	p.commentSize = binary.LittleEndian.Uint32(p.prologBuf[8:12])
	p.binarySize = binary.LittleEndian.Uint32(p.prologBuf[12:16])
	p.paddingSize = binary.LittleEndian.Uint32(p.prologBuf[16:20])
	p.signatureSize = binary.LittleEndian.Uint32(p.prologBuf[20:24])
	if p.signatureSize != 0 && p.signatureSize != rhash.Sha1DigestLen {
		logger.Warnw(ctx, "unexpected signature size", log.Fields{"size": p.signatureSize})
		return nil, fmt.Errorf("%w: signature size %d", ErrMalformed, p.signatureSize)
	}
	p.remainingBinary = p.binarySize
	p.signature = make([]byte, 0, p.signatureSize)
	logger.Debugw(ctx, "package prolog parsed", log.Fields{
		"crc": p.packageCRC, "comment-size": p.commentSize, "binary-size": p.binarySize,
		"padding-size": p.paddingSize, "signature-size": p.signatureSize})
	p.nextSection()
	return aRest[take:], nil
}

//feedSkipped consumes bytes of a hashed-but-discarded section (comment or
//padding) bounded by the section size
func (p *Parser) feedSkipped(aRest []byte, aSectionSize uint32) []byte {
	take := p.sectionTake(aRest, aSectionSize)
	p.consume(aRest[:take], true)
	if p.subsection == aSectionSize {
		p.nextSection()
	}
	return aRest[take:]
}

func (p *Parser) feedBinary(ctx context.Context, aRest []byte) ([]byte, error) {
	take := p.sectionTake(aRest, p.binarySize)
	data := aRest[:take]
	p.computedCRC = rhash.Crc32Update(p.computedCRC, data)
	p.consume(data, true)
	p.remainingBinary -= uint32(take)
	if p.sink != nil {
		if err := p.sink.WriteBinaryData(ctx, data); err != nil {
			logger.Errorw(ctx, "could not store binary payload", log.Fields{"error": err})
			return nil, err
		}
	}
	if p.subsection == p.binarySize {
		p.nextSection()
	}
	return aRest[take:], nil
}

func (p *Parser) feedSignature(aRest []byte) []byte {
	take := p.sectionTake(aRest, p.signatureSize)
	p.signature = append(p.signature, aRest[:take]...)
	// the signature itself is outside the digest scope
	p.consume(aRest[:take], false)
	if p.subsection == p.signatureSize {
		p.nextSection()
	}
	return aRest[take:]
}

//sectionTake bounds the bytes taken from the chunk to what the current
//section still expects
func (p *Parser) sectionTake(aRest []byte, aSectionSize uint32) int {
	missing := aSectionSize - p.subsection
	if uint64(len(aRest)) < uint64(missing) {
		return len(aRest)
	}
	return int(missing)
}

func (p *Parser) consume(aData []byte, aHashed bool) {
	if aHashed {
		p.sha.Process(aData)
	}
	p.subsection += uint32(len(aData))
	p.offset += uint64(len(aData))
}

//nextSection advances the cursor, skipping empty sections
func (p *Parser) nextSection() {
	p.subsection = 0
	for p.section < SectionDone {
		p.section++
		switch p.section {
		case SectionComment:
			if p.commentSize > 0 {
				return
			}
		case SectionBinary:
			if p.binarySize > 0 {
				return
			}
		case SectionPadding:
			if p.paddingSize > 0 {
				return
			}
		case SectionSignature:
			if p.signatureSize > 0 {
				return
			}
		default:
			return
		}
	}
}
