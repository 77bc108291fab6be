package bytecode

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asm builds big-endian class file bytes.
type asm struct {
	bytes.Buffer
}

func (a *asm) u1(v byte)    { a.WriteByte(v) }
func (a *asm) u2(v uint16)  { _ = binary.Write(a, binary.BigEndian, v) }
func (a *asm) u4(v uint32)  { _ = binary.Write(a, binary.BigEndian, v) }
func (a *asm) raw(b []byte) { a.Write(b) }

func (a *asm) utf8(s string) {
	a.u1(tagUtf8)
	a.u2(uint16(len(s)))
	a.raw([]byte(s))
}

// Constant pool layout shared by the test classes:
//  1 Utf8 com/example/Foo    2 Class #1
//  3 Utf8 java/lang/Object   4 Class #3
//  5 Utf8 run                6 Utf8 ()V
//  7 Utf8 helper             8 Utf8 (I)V
//  9 NameAndType #7 #8      10 Methodref #2 #9
// 11 Utf8 Code              12 Utf8 LineNumberTable
// 13 Utf8 Exceptions        14 Utf8 java/io/IOException
// 15 Class #14              16 Utf8 SourceFile
// 17 Utf8 Foo.java          18 Utf8 java/lang/RuntimeException
// 19 Class #18
func writeTestPool(a *asm) {
	a.u2(20) // constant_pool_count
	a.utf8("com/example/Foo")
	a.u1(tagClass)
	a.u2(1)
	a.utf8("java/lang/Object")
	a.u1(tagClass)
	a.u2(3)
	a.utf8("run")
	a.utf8("()V")
	a.utf8("helper")
	a.utf8("(I)V")
	a.u1(tagNameAndType)
	a.u2(7)
	a.u2(8)
	a.u1(tagMethodref)
	a.u2(2)
	a.u2(9)
	a.utf8("Code")
	a.utf8("LineNumberTable")
	a.utf8("Exceptions")
	a.utf8("java/io/IOException")
	a.u1(tagClass)
	a.u2(14)
	a.utf8("SourceFile")
	a.utf8("Foo.java")
	a.utf8("java/lang/RuntimeException")
	a.u1(tagClass)
	a.u2(18)
}

// buildTestClass assembles com.example.Foo with one method "run" that
// invokes helper, declares throws IOException, catches RuntimeException,
// and carries a line number table.
func buildTestClass(code []byte, lineEntries [][2]uint16, withCatch bool) []byte {
	var codeAttr asm
	codeAttr.u2(2) // max_stack
	codeAttr.u2(2) // max_locals
	codeAttr.u4(uint32(len(code)))
	codeAttr.raw(code)
	if withCatch {
		codeAttr.u2(1)
		codeAttr.u2(0)                    // start_pc
		codeAttr.u2(uint16(len(code)))    // end_pc
		codeAttr.u2(uint16(len(code) - 1)) // handler_pc
		codeAttr.u2(19)                   // RuntimeException
	} else {
		codeAttr.u2(0)
	}
	if len(lineEntries) > 0 {
		codeAttr.u2(1)  // code attribute count
		codeAttr.u2(12) // LineNumberTable
		codeAttr.u4(uint32(2 + len(lineEntries)*4))
		codeAttr.u2(uint16(len(lineEntries)))
		for _, e := range lineEntries {
			codeAttr.u2(e[0])
			codeAttr.u2(e[1])
		}
	} else {
		codeAttr.u2(0)
	}

	var a asm
	a.u4(classMagic)
	a.u2(0)  // minor
	a.u2(52) // major
	writeTestPool(&a)
	a.u2(0x0021) // ACC_PUBLIC | ACC_SUPER
	a.u2(2)      // this_class
	a.u2(4)      // super_class
	a.u2(0)      // interfaces
	a.u2(0)      // fields

	a.u2(1)      // methods
	a.u2(0x0001) // ACC_PUBLIC
	a.u2(5)      // run
	a.u2(6)      // ()V
	a.u2(2)      // method attributes
	a.u2(11)     // Code
	a.u4(uint32(codeAttr.Len()))
	a.raw(codeAttr.Bytes())
	a.u2(13) // Exceptions
	a.u4(4)
	a.u2(1)
	a.u2(15) // IOException

	a.u2(1)  // class attributes
	a.u2(16) // SourceFile
	a.u4(2)
	a.u2(17)
	return a.Bytes()
}

// aload_0; invokevirtual #10; return
var simpleCode = []byte{0x2A, 0xB6, 0x00, 0x0A, 0xB1}

func TestParse_ClassStructure(t *testing.T) {
	cf, err := Parse(buildTestClass(simpleCode, [][2]uint16{{0, 10}, {4, 11}}, true))
	require.NoError(t, err)

	assert.Equal(t, "com.example.Foo", cf.Name)
	assert.Equal(t, "java.lang.Object", cf.SuperName)
	assert.Equal(t, "Foo.java", cf.SourceFile)
	assert.False(t, cf.IsInterface())
	require.Len(t, cf.Methods, 1)

	m := cf.Methods[0]
	assert.Equal(t, "run", m.Name)
	assert.Equal(t, "()V", m.Descriptor)
	assert.Equal(t, 10, m.LineNumber)
	assert.False(t, m.IsSynthetic())
	assert.False(t, m.IsAbstract())
}

func TestParse_InvocationsWithLines(t *testing.T) {
	cf, err := Parse(buildTestClass(simpleCode, [][2]uint16{{0, 10}, {4, 11}}, false))
	require.NoError(t, err)

	m := cf.Methods[0]
	require.Len(t, m.Invocations, 1)
	inv := m.Invocations[0]
	assert.Equal(t, "com.example.Foo", inv.Owner)
	assert.Equal(t, "helper", inv.Name)
	assert.Equal(t, "(I)V", inv.Descriptor)
	assert.Equal(t, byte(OpInvokeVirtual), inv.Opcode)
	// The invoke sits at pc 1, covered by the entry starting at pc 0.
	assert.Equal(t, 10, inv.Line)
}

func TestParse_ExceptionTableAndThrows(t *testing.T) {
	cf, err := Parse(buildTestClass(simpleCode, nil, true))
	require.NoError(t, err)

	m := cf.Methods[0]
	assert.Equal(t, []string{"java.io.IOException"}, m.ThrownTypes)
	require.Len(t, m.TryCatchBlocks, 1)
	assert.Equal(t, "java.lang.RuntimeException", m.TryCatchBlocks[0].CatchType)
	assert.Equal(t, []string{"java.lang.RuntimeException"}, m.CatchTypes())
}

func TestParse_TableswitchWalkedCorrectly(t *testing.T) {
	// iconst_0; tableswitch (1 entry); invokestatic #10; return
	var code asm
	code.u1(0x03)
	code.u1(0xAA)
	code.raw([]byte{0, 0})   // padding to 4-alignment
	code.u4(18)              // default offset
	code.u4(0)               // low
	code.u4(0)               // high
	code.u4(18)              // jump offset for case 0
	code.u1(0xB8)            // invokestatic
	code.u2(10)
	code.u1(0xB1)

	cf, err := Parse(buildTestClass(code.Bytes(), nil, false))
	require.NoError(t, err)

	m := cf.Methods[0]
	require.Len(t, m.Invocations, 1)
	assert.Equal(t, byte(OpInvokeStatic), m.Invocations[0].Opcode)
	assert.Equal(t, 0, m.Invocations[0].Line)
}

func TestParse_BadMagicRejected(t *testing.T) {
	_, err := Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52})
	assert.Error(t, err)
}

func TestParse_TruncatedRejected(t *testing.T) {
	full := buildTestClass(simpleCode, nil, false)
	_, err := Parse(full[:len(full)/2])
	assert.Error(t, err)
}

func TestScanner_ParsesMatchingClasses(t *testing.T) {
	dir := t.TempDir()
	classPath := filepath.Join(dir, "com", "example", "Foo.class")
	require.NoError(t, os.MkdirAll(filepath.Dir(classPath), 0o755))
	require.NoError(t, os.WriteFile(classPath, buildTestClass(simpleCode, nil, false), 0o644))
	// Garbage file is skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.class"), []byte("not a class"), 0o644))

	s := NewScanner([]string{dir}, "com.example", nil)
	classes, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "com.example.Foo", classes[0].Name)
}

func TestScanner_BasePackageFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Foo.class"), buildTestClass(simpleCode, nil, false), 0o644))

	s := NewScanner([]string{dir}, "org.other", nil)
	classes, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestScanner_MissingRootTolerated(t *testing.T) {
	s := NewScanner([]string{filepath.Join(t.TempDir(), "absent")}, "", nil)
	classes, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, classes)
}
