package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", in: PortOptions{}, want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "even long form", in: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even "}, want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}},
		{name: "odd", in: PortOptions{Parity: "o"}, want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func TestOpenSerial(t *testing.T) {
	orig := openPort
	t.Cleanup(func() { openPort = orig })

	var gotPath string
	var gotMode *serial.Mode
	boom := errors.New("no such device")
	openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
		gotPath, gotMode = path, mode
		return nil, boom
	}

	_, err := OpenSerial("/dev/ttyUSB0", PortOptions{BaudRate: 57600})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	require.NotNil(t, gotMode)
	assert.Equal(t, 57600, gotMode.BaudRate)

	_, err = OpenSerial("/dev/ttyUSB0", PortOptions{Parity: "X"})
	assert.Error(t, err)
}
