// Package bytecode parses compiled JVM class files: constant pool, method
// signatures, invocation sites with line numbers, exception tables, and
// declared thrown types. It feeds the call-graph and exception analyzers.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

const classMagic = 0xCAFEBABE

// Access flags used by the analyzers.
const (
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Invocation opcodes.
const (
	OpInvokeVirtual   = 0xB6
	OpInvokeSpecial   = 0xB7
	OpInvokeStatic    = 0xB8
	OpInvokeInterface = 0xB9
)

// Invocation is one call site inside a method body.
type Invocation struct {
	Owner      string // dotted class name
	Name       string
	Descriptor string
	Opcode     byte
	Line       int
}

// TryCatchBlock is one exception-table entry. CatchType is empty for
// finally handlers.
type TryCatchBlock struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string // dotted class name
}

// Method is one parsed method.
type Method struct {
	Name          string
	Descriptor    string
	AccessFlags   uint16
	LineNumber    int // first line, 0 if unknown
	Invocations   []Invocation
	ThrownTypes   []string // declared throws, dotted names
	TryCatchBlocks []TryCatchBlock
}

// IsSynthetic reports compiler-generated methods.
func (m *Method) IsSynthetic() bool { return m.AccessFlags&AccSynthetic != 0 }

// IsAbstract reports methods without a body.
func (m *Method) IsAbstract() bool { return m.AccessFlags&AccAbstract != 0 }

// CatchTypes returns the distinct handler types in declaration order.
func (m *Method) CatchTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tc := range m.TryCatchBlocks {
		if tc.CatchType == "" || seen[tc.CatchType] {
			continue
		}
		seen[tc.CatchType] = true
		out = append(out, tc.CatchType)
	}
	return out
}

// ClassFile is one parsed class.
type ClassFile struct {
	Name        string // dotted class name
	SuperName   string // dotted, empty for java.lang.Object
	Interfaces  []string
	AccessFlags uint16
	SourceFile  string
	Methods     []Method
}

// IsInterface reports interface types.
func (c *ClassFile) IsInterface() bool { return c.AccessFlags&AccInterface != 0 }

// IsAbstract reports abstract classes (interfaces included).
func (c *ClassFile) IsAbstract() bool { return c.AccessFlags&AccAbstract != 0 }

// constantPool resolves indices into the parsed pool.
type constantPool struct {
	utf8        map[uint16]string
	classNames  map[uint16]uint16    // Class -> name index
	nameAndType map[uint16][2]uint16 // NameAndType -> (name, descriptor)
	memberRefs  map[uint16][2]uint16 // Field/Method/InterfaceMethodref -> (class, nameAndType)
}

func (cp *constantPool) utf8At(idx uint16) (string, bool) {
	s, ok := cp.utf8[idx]
	return s, ok
}

func (cp *constantPool) classNameAt(idx uint16) (string, bool) {
	nameIdx, ok := cp.classNames[idx]
	if !ok {
		return "", false
	}
	name, ok := cp.utf8At(nameIdx)
	if !ok {
		return "", false
	}
	return internalToDotted(name), true
}

// methodRefAt resolves a Methodref/InterfaceMethodref to (owner, name,
// descriptor).
func (cp *constantPool) methodRefAt(idx uint16) (string, string, string, bool) {
	ref, ok := cp.memberRefs[idx]
	if !ok {
		return "", "", "", false
	}
	owner, ok := cp.classNameAt(ref[0])
	if !ok {
		return "", "", "", false
	}
	nt, ok := cp.nameAndType[ref[1]]
	if !ok {
		return "", "", "", false
	}
	name, ok := cp.utf8At(nt[0])
	if !ok {
		return "", "", "", false
	}
	desc, ok := cp.utf8At(nt[1])
	if !ok {
		return "", "", "", false
	}
	return owner, name, desc, true
}

// internalToDotted converts "com/example/Foo" to "com.example.Foo".
func internalToDotted(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) u1() (byte, error) {
	if r.remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u2() (uint16, error) {
	if r.remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || r.remaining() < n {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	cf, err := parse(data)
	if err != nil {
		return nil, lenserr.New(lenserr.ErrCodeMalformedBytecode, err.Error(), err)
	}
	return cf, nil
}

func parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, fmt.Errorf("bad magic 0x%08X", magic)
	}
	if err := r.skip(4); err != nil { // minor + major version
		return nil, err
	}

	cp, err := parseConstantPool(r)
	if err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}

	accessFlags, err := r.u2()
	if err != nil {
		return nil, err
	}
	thisClass, err := r.u2()
	if err != nil {
		return nil, err
	}
	superClass, err := r.u2()
	if err != nil {
		return nil, err
	}

	cf := &ClassFile{AccessFlags: accessFlags}
	name, ok := cp.classNameAt(thisClass)
	if !ok {
		return nil, fmt.Errorf("unresolvable this_class index %d", thisClass)
	}
	cf.Name = name
	if superClass != 0 {
		if super, ok := cp.classNameAt(superClass); ok {
			cf.SuperName = super
		}
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		if iface, ok := cp.classNameAt(idx); ok {
			cf.Interfaces = append(cf.Interfaces, iface)
		}
	}

	if err := skipFields(r); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(methodCount); i++ {
		m, err := parseMethod(r, cp)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cf.Methods = append(cf.Methods, *m)
	}

	// Class-level attributes: only SourceFile matters.
	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		nameIdx, length, err := attributeHeader(r)
		if err != nil {
			return nil, err
		}
		attrName, _ := cp.utf8At(nameIdx)
		if attrName == "SourceFile" && length == 2 {
			idx, err := r.u2()
			if err != nil {
				return nil, err
			}
			cf.SourceFile, _ = cp.utf8At(idx)
			continue
		}
		if err := r.skip(int(length)); err != nil {
			return nil, err
		}
	}

	return cf, nil
}

func parseConstantPool(r *reader) (*constantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}

	cp := &constantPool{
		utf8:        make(map[uint16]string),
		classNames:  make(map[uint16]uint16),
		nameAndType: make(map[uint16][2]uint16),
		memberRefs:  make(map[uint16][2]uint16),
	}

	for i := uint16(1); i < count; i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagUtf8:
			length, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			cp.utf8[i] = string(b)
		case tagInteger, tagFloat:
			if err := r.skip(4); err != nil {
				return nil, err
			}
		case tagLong, tagDouble:
			if err := r.skip(8); err != nil {
				return nil, err
			}
			i++ // long and double occupy two pool slots
		case tagClass:
			idx, err := r.u2()
			if err != nil {
				return nil, err
			}
			cp.classNames[i] = idx
		case tagString, tagMethodType, tagModule, tagPackage:
			if err := r.skip(2); err != nil {
				return nil, err
			}
		case tagFieldref, tagMethodref, tagInterfaceMethodref:
			classIdx, err := r.u2()
			if err != nil {
				return nil, err
			}
			ntIdx, err := r.u2()
			if err != nil {
				return nil, err
			}
			if tag != tagFieldref {
				cp.memberRefs[i] = [2]uint16{classIdx, ntIdx}
			}
		case tagNameAndType:
			nameIdx, err := r.u2()
			if err != nil {
				return nil, err
			}
			descIdx, err := r.u2()
			if err != nil {
				return nil, err
			}
			cp.nameAndType[i] = [2]uint16{nameIdx, descIdx}
		case tagMethodHandle:
			if err := r.skip(3); err != nil {
				return nil, err
			}
		case tagDynamic, tagInvokeDynamic:
			if err := r.skip(4); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}
	return cp, nil
}

func skipFields(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(6); err != nil { // access, name, descriptor
			return err
		}
		attrCount, err := r.u2()
		if err != nil {
			return err
		}
		for j := 0; j < int(attrCount); j++ {
			_, length, err := attributeHeader(r)
			if err != nil {
				return err
			}
			if err := r.skip(int(length)); err != nil {
				return err
			}
		}
	}
	return nil
}

func attributeHeader(r *reader) (uint16, uint32, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return 0, 0, err
	}
	length, err := r.u4()
	if err != nil {
		return 0, 0, err
	}
	return nameIdx, length, nil
}

func parseMethod(r *reader, cp *constantPool) (*Method, error) {
	accessFlags, err := r.u2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return nil, err
	}

	m := &Method{AccessFlags: accessFlags}
	m.Name, _ = cp.utf8At(nameIdx)
	m.Descriptor, _ = cp.utf8At(descIdx)

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		attrNameIdx, length, err := attributeHeader(r)
		if err != nil {
			return nil, err
		}
		attrName, _ := cp.utf8At(attrNameIdx)
		switch attrName {
		case "Code":
			body, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			if err := parseCode(body, cp, m); err != nil {
				return nil, fmt.Errorf("code attribute: %w", err)
			}
		case "Exceptions":
			body, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			if err := parseExceptions(body, cp, m); err != nil {
				return nil, fmt.Errorf("exceptions attribute: %w", err)
			}
		default:
			if err := r.skip(int(length)); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// parseExceptions reads the declared throws list.
func parseExceptions(body []byte, cp *constantPool, m *Method) error {
	r := &reader{data: body}
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return err
		}
		if name, ok := cp.classNameAt(idx); ok {
			m.ThrownTypes = append(m.ThrownTypes, name)
		}
	}
	return nil
}

// parseCode reads the bytecode, exception table, and line number table of
// one method.
func parseCode(body []byte, cp *constantPool, m *Method) error {
	r := &reader{data: body}
	if err := r.skip(4); err != nil { // max_stack, max_locals
		return err
	}
	codeLength, err := r.u4()
	if err != nil {
		return err
	}
	code, err := r.bytes(int(codeLength))
	if err != nil {
		return err
	}

	tableLength, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(tableLength); i++ {
		startPC, err := r.u2()
		if err != nil {
			return err
		}
		endPC, err := r.u2()
		if err != nil {
			return err
		}
		handlerPC, err := r.u2()
		if err != nil {
			return err
		}
		catchIdx, err := r.u2()
		if err != nil {
			return err
		}
		block := TryCatchBlock{StartPC: int(startPC), EndPC: int(endPC), HandlerPC: int(handlerPC)}
		if catchIdx != 0 {
			block.CatchType, _ = cp.classNameAt(catchIdx)
		}
		m.TryCatchBlocks = append(m.TryCatchBlocks, block)
	}

	var lines lineTable
	attrCount, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(attrCount); i++ {
		nameIdx, length, err := attributeHeader(r)
		if err != nil {
			return err
		}
		attrName, _ := cp.utf8At(nameIdx)
		if attrName != "LineNumberTable" {
			if err := r.skip(int(length)); err != nil {
				return err
			}
			continue
		}
		body, err := r.bytes(int(length))
		if err != nil {
			return err
		}
		if err := lines.parse(body); err != nil {
			return err
		}
	}

	if first := lines.first(); first > 0 {
		m.LineNumber = first
	}
	return scanInvocations(code, cp, &lines, m)
}

// lineTable maps bytecode offsets to source lines.
type lineTable struct {
	entries []lineEntry
}

type lineEntry struct {
	startPC uint16
	line    uint16
}

func (t *lineTable) parse(body []byte) error {
	r := &reader{data: body}
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		startPC, err := r.u2()
		if err != nil {
			return err
		}
		line, err := r.u2()
		if err != nil {
			return err
		}
		t.entries = append(t.entries, lineEntry{startPC, line})
	}
	return nil
}

// lineFor returns the source line covering pc, 0 when unknown.
func (t *lineTable) lineFor(pc int) int {
	best := 0
	bestPC := -1
	for _, e := range t.entries {
		if int(e.startPC) <= pc && int(e.startPC) > bestPC {
			bestPC = int(e.startPC)
			best = int(e.line)
		}
	}
	return best
}

func (t *lineTable) first() int {
	first := 0
	for _, e := range t.entries {
		if first == 0 || int(e.line) < first {
			first = int(e.line)
		}
	}
	return first
}

// scanInvocations walks the bytecode collecting invoke sites.
func scanInvocations(code []byte, cp *constantPool, lines *lineTable, m *Method) error {
	pc := 0
	for pc < len(code) {
		op := code[pc]
		switch op {
		case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
			if pc+2 >= len(code) {
				return fmt.Errorf("truncated invoke at pc %d", pc)
			}
			idx := binary.BigEndian.Uint16(code[pc+1:])
			if owner, name, desc, ok := cp.methodRefAt(idx); ok {
				m.Invocations = append(m.Invocations, Invocation{
					Owner:      owner,
					Name:       name,
					Descriptor: desc,
					Opcode:     op,
					Line:       lines.lineFor(pc),
				})
			}
		}
		size, err := instructionSize(code, pc)
		if err != nil {
			return err
		}
		pc += size
	}
	return nil
}

// instructionSize returns the total byte length of the instruction at pc,
// handling the variable-length tableswitch, lookupswitch, and wide forms.
func instructionSize(code []byte, pc int) (int, error) {
	op := code[pc]
	switch op {
	case 0xAA: // tableswitch
		base := pc + 1 + padding(pc+1)
		if base+12 > len(code) {
			return 0, fmt.Errorf("truncated tableswitch at pc %d", pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		if high < low {
			return 0, fmt.Errorf("invalid tableswitch bounds at pc %d", pc)
		}
		return base - pc + 12 + int(high-low+1)*4, nil
	case 0xAB: // lookupswitch
		base := pc + 1 + padding(pc+1)
		if base+8 > len(code) {
			return 0, fmt.Errorf("truncated lookupswitch at pc %d", pc)
		}
		npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if npairs < 0 {
			return 0, fmt.Errorf("invalid lookupswitch pairs at pc %d", pc)
		}
		return base - pc + 8 + int(npairs)*8, nil
	case 0xC4: // wide
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("truncated wide at pc %d", pc)
		}
		if code[pc+1] == 0x84 { // wide iinc
			return 6, nil
		}
		return 4, nil
	}
	operands, ok := operandBytes[op]
	if !ok {
		return 0, fmt.Errorf("unknown opcode 0x%02X at pc %d", op, pc)
	}
	return 1 + operands, nil
}

// padding returns bytes needed to align offset to 4.
func padding(offset int) int {
	return (4 - offset%4) % 4
}

// operandBytes maps opcode to fixed operand byte count.
var operandBytes = buildOperandTable()

func buildOperandTable() map[byte]int {
	t := make(map[byte]int, 202)
	// Default zero-operand range 0x00..0xC9, then override.
	for op := 0x00; op <= 0xC9; op++ {
		t[byte(op)] = 0
	}
	one := []byte{0x10, 0x12, 0x15, 0x16, 0x17, 0x18, 0x19, 0x36, 0x37, 0x38, 0x39, 0x3A, 0xA9, 0xBC}
	for _, op := range one {
		t[op] = 1
	}
	two := []byte{
		0x11, 0x13, 0x14, 0x84,
		0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, // ifeq..ifle
		0x9F, 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, // if_icmp*, if_acmp*
		0xA7, 0xA8, // goto, jsr
		0xB2, 0xB3, 0xB4, 0xB5, // get/put static/field
		0xB6, 0xB7, 0xB8, // invokevirtual/special/static
		0xBB, 0xBD, 0xC0, 0xC1, // new, anewarray, checkcast, instanceof
		0xC6, 0xC7, // ifnull, ifnonnull
	}
	for _, op := range two {
		t[op] = 2
	}
	t[0xB9] = 4 // invokeinterface: index + count + zero
	t[0xBA] = 4 // invokedynamic: index + two zero bytes
	t[0xC5] = 3 // multianewarray
	t[0xC8] = 4 // goto_w
	t[0xC9] = 4 // jsr_w
	return t
}
