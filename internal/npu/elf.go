package npu

import (
	"bytes"
	"crypto/sha256"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// ELFObject is a minimal relocatable object wrapping a serialized command
// sequence as its text section, with an external-buffer patch table the
// device-context manager uses to bind launch-time DMA arguments.
//
// The standard library's debug/elf package only reads ELF; it has no
// writer, and no third-party ELF-encoding library appears anywhere in the
// retrieved example pack, so this minimal writer is hand-built against
// debug/elf's type definitions for section/symbol layout — see
// DESIGN.md's note on this being the one standard-library-only corner of
// this package.
type ELFObject struct {
	ContentHash [32]byte
	Bytes       []byte
	PatchTable  []PatchEntry
}

// PatchEntry records where in the text section an external buffer's
// device address must be written before launch (it mirrors an OpAddressPatch
// instruction's (BDID, ArgIndex) pair back to a byte offset in the text
// section, so the loader can resolve it without re-parsing commands).
type PatchEntry struct {
	ArgIndex   uint8
	ByteOffset uint32
}

const elfTextSectionName = ".flm.text"

// ToELF packages a serialized command stream as the text section of a
// relocatable ELF object, attaching an address-patch table derived from
// the sequence's OpAddressPatch instructions.
func (s *CommandSequence) ToELF() (*ELFObject, error) {
	words, err := s.Serialize()
	if err != nil {
		return nil, err
	}
	text := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(text[i*4:i*4+4], w)
	}

	var patches []PatchEntry
	offset := headerWordCount * 4
	for _, c := range s.Commands {
		if c.Op == OpAddressPatch {
			patches = append(patches, PatchEntry{
				ArgIndex:   c.AddressPatch.ArgIndex,
				ByteOffset: uint32(offset),
			})
		}
		offset += c.WordCount() * 4
	}

	obj, err := encodeRelocatableELF(text)
	if err != nil {
		return nil, err
	}
	return &ELFObject{
		ContentHash: sha256.Sum256(text),
		Bytes:       obj,
		PatchTable:  patches,
	}, nil
}

// encodeRelocatableELF builds a minimal little-endian 64-bit ET_REL ELF
// file whose only loadable section is the given text bytes, following
// debug/elf's FileHeader/SectionHeader layout (so this package's own
// parser, or any other debug/elf-based tool, can read it back).
func encodeRelocatableELF(text []byte) ([]byte, error) {
	const (
		ehsize     = 64 // elf64 file header size
		shsize     = 64 // elf64 section header size
		numSect    = 4  // null, .flm.text, .shstrtab, (reserved)
		shstrtab   = "\x00.flm.text\x00.shstrtab\x00"
		textOffset = ehsize
	)

	var buf bytes.Buffer

	ident := [elf.EI_NIDENT]byte{}
	copy(ident[:4], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	shstrtabOffset := textOffset + len(text)
	shoff := shstrtabOffset + len(shstrtab)

	hdr := struct {
		Ident     [elf.EI_NIDENT]byte
		Type      uint16
		Machine   uint16
		Version   uint32
		Entry     uint64
		Phoff     uint64
		Shoff     uint64
		Flags     uint32
		Ehsize    uint16
		Phentsize uint16
		Phnum     uint16
		Shentsize uint16
		Shnum     uint16
		Shstrndx  uint16
	}{
		Ident:     ident,
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_NONE),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     uint64(shoff),
		Ehsize:    ehsize,
		Shentsize: shsize,
		Shnum:     numSect,
		Shstrndx:  2,
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("npu: encode elf header: %w", err)
	}
	buf.Write(text)
	buf.WriteString(shstrtab)

	type sectHeader struct {
		Name      uint32
		Type      uint32
		Flags     uint64
		Addr      uint64
		Off       uint64
		Size      uint64
		Link      uint32
		Info      uint32
		Addralign uint64
		Entsize   uint64
	}
	sections := []sectHeader{
		{}, // SHN_UNDEF
		{
			Name: 1, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:   uint64(textOffset), Size: uint64(len(text)), Addralign: 4,
		},
		{
			Name: uint32(2 + len(elfTextSectionName)), Type: uint32(elf.SHT_STRTAB),
			Off: uint64(shstrtabOffset), Size: uint64(len(shstrtab)), Addralign: 1,
		},
		{},
	}
	for _, sh := range sections {
		if err := binary.Write(&buf, binary.LittleEndian, sh); err != nil {
			return nil, fmt.Errorf("npu: encode elf section header: %w", err)
		}
	}
	return buf.Bytes(), nil
}
