// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package riscv implements the pure, stateless instruction-classification
// step of the decoder (spec §4.2): given a raw opcode word it determines
// size, control-flow shape, registers and immediate, but never executes
// anything and never looks at program state.
package riscv

// InstType classifies an opcode for AddressWalker's next-PC computation.
// Most opcodes are simply InstOther; only control-flow-relevant shapes
// need their own case.
type InstType uint8

const (
	InstOther InstType = iota
	InstJAL
	InstJALR
	InstBranch // Bxx: BEQ/BNE/BLT/BGE/BLTU/BGEU
	InstCJAL   // C.JAL (RV32 only)
	InstCJ
	InstCJR
	InstCJALR
	InstCBEQZ
	InstCBNEZ
	InstEBreak
	InstECall
	InstXRet // MRET/SRET/URET
	InstVectArith
	InstVectLoad
	InstVectStore
	InstVectAmo
	InstVectAmoWW
	InstVectConfig
	InstUnknown
)

// Reg is a RISC-V integer register number, 0-31.
type Reg uint8

// RegNone marks an absent register operand (e.g. rs1 for JAL).
const RegNone Reg = 0xff

// IsLinkReg reports whether r is one of the registers the base ISA's
// call-convention hint (rd/rs1 == x1 or x5) treats as a link register
// for call/return classification. x5 (t0) is also used by convention
// (e.g. by PLT stubs); both are accepted, matching common objdump/gdb
// prediction logic for JALR-based calls and returns.
func IsLinkReg(r Reg) bool {
	return r == 1 || r == 5
}

// Decoded is the structural classification of one instruction.
type Decoded struct {
	Size      int // 2 or 4
	Type      InstType
	Rs1       Reg
	Rd        Reg
	Immediate int32 // sign-extended, pre-scaled for PC arithmetic (already in byte units)
	IsBranch  bool  // true for any instruction AddressWalker must treat as control flow
}

// sizeFromLowBits returns the instruction size from the RISC-V
// base-opcode length convention: the low 2 bits of the first halfword
// are 11 for a 32-bit (or longer) instruction, anything else is a
// 16-bit compressed instruction.
func sizeFromLowBits(low16 uint32) int {
	if low16&0x3 == 0x3 {
		return 4
	}
	return 2
}

// Decode classifies opcode, which must have its low 16 (if compressed)
// or low 32 (if not) bits already assembled from the instruction
// stream in the processor's native byte order. archSize is 32 or 64
// and selects between RV32/RV64-only compressed encodings (e.g.
// C.JAL only exists on RV32; RV64 reuses that encoding space for
// C.ADDIW).
func Decode(opcode uint32, archSize int) Decoded {
	size := sizeFromLowBits(opcode)
	if size == 2 {
		return decodeCompressed(uint16(opcode), archSize)
	}
	return decode32(opcode)
}

// DecodeSize reports only the instruction size, for callers (e.g. the
// executable reader) that need to advance a cursor without a full
// decode.
func DecodeSize(opcode uint32) int {
	return sizeFromLowBits(opcode)
}

func signExtend(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// decode32 classifies a 32-bit base-ISA instruction.
func decode32(inst uint32) Decoded {
	opcode := inst & 0x7f
	rd := Reg((inst >> 7) & 0x1f)
	rs1 := Reg((inst >> 15) & 0x1f)
	funct3 := (inst >> 12) & 0x7
	d := Decoded{Size: 4, Rd: rd, Rs1: rs1}

	switch opcode {
	case 0x6f: // JAL
		imm20 := (inst >> 31) & 0x1
		imm10_1 := (inst >> 21) & 0x3ff
		imm11 := (inst >> 20) & 0x1
		imm19_12 := (inst >> 12) & 0xff
		raw := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
		d.Type = InstJAL
		d.Immediate = signExtend(raw, 21)
		d.IsBranch = true
	case 0x67: // JALR
		if funct3 == 0 {
			raw := (inst >> 20) & 0xfff
			d.Type = InstJALR
			d.Immediate = signExtend(raw, 12)
			d.IsBranch = true
		}
	case 0x63: // Bxx (conditional branch)
		imm12 := (inst >> 31) & 0x1
		imm10_5 := (inst >> 25) & 0x3f
		imm4_1 := (inst >> 8) & 0xf
		imm11 := (inst >> 7) & 0x1
		raw := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
		d.Type = InstBranch
		d.Immediate = signExtend(raw, 13)
		d.IsBranch = true
	case 0x73: // SYSTEM: ECALL/EBREAK/xRET
		if funct3 == 0 {
			switch inst >> 20 {
			case 0x0:
				d.Type = InstECall
				d.IsBranch = true
			case 0x1:
				d.Type = InstEBreak
				d.IsBranch = true
			case 0x302, 0x102, 0x002: // MRET, SRET, URET
				d.Type = InstXRet
				d.IsBranch = true
			}
		}
	case 0x2f: // AMO, including vector-adjacent AMOWW in RVV-capable cores
		funct5 := (inst >> 27) & 0x1f
		d.Type = InstVectAmo
		if funct5 == 0b00001 || funct5 == 0b00000 {
			d.Type = InstVectAmoWW
		}
	case 0x57: // OP-V: vector arithmetic, or vsetvli/vsetvl/vsetivli config
		if funct3 == 0b111 {
			d.Type = InstVectConfig
		} else {
			d.Type = InstVectArith
		}
	case 0x07: // LOAD-FP / vector unit-stride & indexed loads
		d.Type = InstVectLoad
	case 0x27: // STORE-FP / vector unit-stride & indexed stores
		d.Type = InstVectStore
	}
	return d
}

// decodeCompressed classifies a 16-bit instruction from quadrant
// (inst[1:0]): Q0, Q1 or Q2. Only the control-flow-relevant encodings
// are distinguished; everything else is InstOther.
func decodeCompressed(inst uint16, archSize int) Decoded {
	d := Decoded{Size: 2}
	quadrant := inst & 0x3
	funct3 := (inst >> 13) & 0x7
	rd := Reg((inst >> 7) & 0x1f) // also rs1' field position for CR-format

	switch quadrant {
	case 0x1: // Q1
		switch funct3 {
		case 0x5: // C.J
			d.Type = InstCJ
			d.Immediate = decodeCJImm(inst)
			d.IsBranch = true
		case 0x1: // C.JAL (RV32 only); on RV64/RV128 this encoding is C.ADDIW
			if archSize == 32 {
				d.Type = InstCJAL
				d.Immediate = decodeCJImm(inst)
				d.IsBranch = true
				d.Rd = 1 // implicit link register x1
			}
		case 0x6: // C.BEQZ
			d.Type = InstCBEQZ
			d.Immediate = decodeCBImm(inst)
			d.Rs1 = Reg(8 + ((inst >> 7) & 0x7))
			d.IsBranch = true
		case 0x7: // C.BNEZ
			d.Type = InstCBNEZ
			d.Immediate = decodeCBImm(inst)
			d.Rs1 = Reg(8 + ((inst >> 7) & 0x7))
			d.IsBranch = true
		}
	case 0x2: // Q2
		if funct3 == 0x4 {
			bit12 := (inst >> 12) & 0x1
			rs2 := Reg((inst >> 2) & 0x1f)
			if bit12 == 0 && rs2 == 0 && rd != 0 {
				// C.JR
				d.Type = InstCJR
				d.Rs1 = rd
				d.IsBranch = true
			} else if bit12 == 1 && rs2 == 0 && rd != 0 {
				// C.JALR
				d.Type = InstCJALR
				d.Rs1 = rd
				d.Rd = 1
				d.IsBranch = true
			}
			// bit12==1, rs2==0, rd==0 is C.EBREAK; not separately
			// classified here since it is equivalent to EBREAK for
			// AddressWalker's purposes and is rare in compiled code.
		}
	}
	return d
}

// decodeCJImm decodes the 11-bit scattered immediate of C.J/C.JAL,
// already sign-extended and scaled to bytes.
func decodeCJImm(inst uint16) int32 {
	i := uint32(inst)
	b := func(bit uint32) uint32 { return (i >> bit) & 1 }
	raw := (b(12) << 11) | (b(11) << 4) | (b(10) << 9) | (b(9) << 8) |
		(b(8) << 10) | (b(7) << 6) | (b(6) << 7) | (b(5) << 3) |
		(b(4) << 2) | (b(3) << 1) | (b(2) << 5)
	return signExtend(raw, 12)
}

// decodeCBImm decodes the 8-bit scattered immediate of C.BEQZ/C.BNEZ,
// already sign-extended and scaled to bytes.
func decodeCBImm(inst uint16) int32 {
	i := uint32(inst)
	b := func(bit uint32) uint32 { return (i >> bit) & 1 }
	raw := (b(12) << 8) | (b(11) << 4) | (b(10) << 3) | (b(6) << 7) |
		(b(5) << 6) | (b(4) << 2) | (b(3) << 1) | (b(2) << 5)
	return signExtend(raw, 9)
}
