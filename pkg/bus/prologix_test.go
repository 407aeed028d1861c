package bus

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/gotmc/prologix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	in  io.Reader
	out bytes.Buffer
}

func (f *fakePort) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakePort) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakePort) Close() error                { return nil }

// newTestBus returns a bus addressed at addr whose port answers with in, one
// byte per read like a serial line. Controller setup traffic is discarded.
func newTestBus(t *testing.T, in string, addr int) (*Prologix, *fakePort) {
	t.Helper()

	port := &fakePort{in: iotest.OneByteReader(strings.NewReader(in))}
	ctrl, err := prologix.NewController(port, addr, false)
	require.NoError(t, err)
	port.out.Reset()

	return &Prologix{port: port, ctrl: ctrl, addr: addr}, port
}

func TestReadLineStopsAtTerminator(t *testing.T) {
	r := strings.NewReader("+1.00000000E+00\r\nNEXT\n")

	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "+1.00000000E+00", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "NEXT", line)

	_, err = readLine(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseStatusByte(t *testing.T) {
	b, err := parseStatusByte(" 144 ")
	require.NoError(t, err)
	assert.Equal(t, byte(0x90), b)

	_, err = parseStatusByte("300")
	assert.Error(t, err)

	_, err = parseStatusByte("busy")
	assert.Error(t, err)
}

func TestSerialPollReaddressesOnlyOnChange(t *testing.T) {
	p, port := newTestBus(t, "16\r\n16\n32\n", 22)

	sb, err := p.SerialPoll(22)
	require.NoError(t, err)
	assert.Equal(t, byte(16), sb)

	sb, err = p.SerialPoll(22)
	require.NoError(t, err)
	assert.Equal(t, byte(16), sb)

	sb, err = p.SerialPoll(9)
	require.NoError(t, err)
	assert.Equal(t, byte(32), sb)

	assert.Equal(t, "++spoll\n++spoll\n++addr 9\n++spoll\n", port.out.String())
}

func TestReadLineSendsReadDirective(t *testing.T) {
	p, port := newTestBus(t, "-1.25000012E+00\r\n", 9)

	line, err := p.ReadLine(22)
	require.NoError(t, err)
	assert.Equal(t, "-1.25000012E+00", line)
	assert.Equal(t, "++addr 22\n++read eoi\n", port.out.String())
}

func TestWriteSendsCommandVerbatim(t *testing.T) {
	p, port := newTestBus(t, "", 22)

	require.NoError(t, p.Write(9, "DISP 50%d"))
	require.NoError(t, p.Write(9, "APPLY DCV 1.000000"))

	assert.Equal(t, "++addr 9\nDISP 50%d\nAPPLY DCV 1.000000\n", port.out.String())
}

func TestSerialPollWithoutAnswer(t *testing.T) {
	p, _ := newTestBus(t, "", 22)

	_, err := p.SerialPoll(22)
	assert.Error(t, err)
}
