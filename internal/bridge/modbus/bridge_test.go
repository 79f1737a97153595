package modbusbridge

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
)

const testAddr = "127.0.0.1:15502"

func startTestServer(t *testing.T) *mbserver.Server {
	t.Helper()
	srv := mbserver.NewServer()
	require.NoError(t, srv.ListenTCP(testAddr))
	t.Cleanup(srv.Close)
	return srv
}

func newConnectedBridge(t *testing.T) *Bridge {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	b, err := New(Config{
		Addr:    testAddr,
		Timeout: 2 * time.Second,
		Sensors: map[string]RegisterMap{
			"sensor.living": {UnitID: 1, Input: 10},
		},
		Actuators: map[string]RegisterMap{
			"trv.living": {UnitID: 1, Input: 20, Holding: 30},
		},
	}, log)
	require.NoError(t, err)
	require.NoError(t, b.Connect())
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(Config{}, logrus.New())
	assert.Error(t, err)
}

func TestReadSensor(t *testing.T) {
	srv := startTestServer(t)
	srv.InputRegisters[10] = 1950 // 19.50 at the default x100 scale

	b := newConnectedBridge(t)
	sample := b.ReadSensor("sensor.living")
	require.True(t, sample.Available)
	assert.Equal(t, "19.50", sample.Value)
	assert.WithinDuration(t, time.Now(), sample.LastUpdated, time.Second)
}

func TestReadSensorNegativeValue(t *testing.T) {
	srv := startTestServer(t)
	srv.InputRegisters[10] = uint16(0xFFFF - 249) // int16 -250 = -2.50

	b := newConnectedBridge(t)
	sample := b.ReadSensor("sensor.living")
	require.True(t, sample.Available)
	assert.Equal(t, "-2.50", sample.Value)
}

func TestReadSensorUnknownID(t *testing.T) {
	startTestServer(t)
	b := newConnectedBridge(t)
	assert.False(t, b.ReadSensor("sensor.unknown").Available)
}

func TestInternalTemperature(t *testing.T) {
	srv := startTestServer(t)
	srv.InputRegisters[20] = 2125

	b := newConnectedBridge(t)
	v, ok := b.InternalTemperature("trv.living")
	require.True(t, ok)
	assert.InDelta(t, 21.25, v, 1e-9)

	_, ok = b.InternalTemperature("trv.unknown")
	assert.False(t, ok)
}

func TestCommandSetpoint(t *testing.T) {
	srv := startTestServer(t)
	b := newConnectedBridge(t)

	require.NoError(t, b.CommandSetpoint("trv.living", 21.5))
	assert.Equal(t, uint16(2150), srv.HoldingRegisters[30])

	assert.Error(t, b.CommandSetpoint("trv.unknown", 21.5))
}

func TestRegisterMapScaleDefault(t *testing.T) {
	assert.Equal(t, 100.0, RegisterMap{}.scale())
	assert.Equal(t, 10.0, RegisterMap{Scale: 10}.scale())
}
