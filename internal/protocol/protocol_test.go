package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		soil  float64
		light float64
		water float64
		pump  bool
		emerg bool
	}{
		{"canonical", "SOIL:20,LIGHT:500,WATER:80,PUMP:1", 20, 500, 80, true, false},
		{"reordered lowercase", "pump:0,water:12.5,light:300,soil:55", 55, 300, 12.5, false, false},
		{"long aliases", "SoilMoisture:33,LightLevel:1.5,WaterLevel:9,PumpStatus:true", 33, 1.5, 9, true, false},
		{"whitespace and emergency", " SOIL : 10 , LIGHT:1 ,WATER:2, PUMP:TRUE, EMERGENCY:1\r\n", 10, 1, 2, true, true},
		{"unknown keys ignored", "SOIL:1,FOO:bar,LIGHT:2,WATER:3,PUMP:0,NOISE", 1, 2, 3, false, false},
		{"pump other value is false", "SOIL:1,LIGHT:2,WATER:3,PUMP:yes", 1, 2, 3, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, FormatText, r.Format)
			assert.Equal(t, tt.soil, r.SoilMoisture)
			assert.Equal(t, tt.light, r.LightLevel)
			assert.Equal(t, tt.water, r.WaterLevel)
			assert.Equal(t, tt.pump, r.PumpStatus)
			assert.Equal(t, tt.emerg, r.EmergencyMode)
			assert.Nil(t, r.Temperature)
			assert.Nil(t, r.Humidity)
		})
	}
}

func TestDecodeTextOptionalSensors(t *testing.T) {
	r, err := Decode("SOIL:40,LIGHT:600,WATER:70,PUMP:0,TEMP:22.5,HUMID:61")
	require.NoError(t, err)
	require.NotNil(t, r.Temperature)
	require.NotNil(t, r.Humidity)
	assert.Equal(t, 22.5, *r.Temperature)
	assert.Equal(t, 61.0, *r.Humidity)
}

func TestDecodeTextMissingFields(t *testing.T) {
	lines := []string{
		"LIGHT:500,WATER:80,PUMP:1",
		"SOIL:20,WATER:80,PUMP:1",
		"SOIL:20,LIGHT:500,PUMP:1",
		"SOIL:20,LIGHT:500,WATER:80",
		"hello arduino",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			r, err := Decode(line)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, ErrMissingFields)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("   \r\n")
	assert.ErrorIs(t, err, ErrEmptyLine)

	_, err = Decode("SOIL:abc,LIGHT:1,WATER:2,PUMP:0")
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = Decode(`{"soil": 12,`)
	assert.ErrorIs(t, err, ErrMalformedJSON)

	_, err = Decode(`{"soil": [1,2]}`)
	assert.ErrorIs(t, err, ErrBadValue)
}

func TestDecodeNonFinite(t *testing.T) {
	t.Run("failed climate sensor reads are absent", func(t *testing.T) {
		lines := []string{
			"SOIL:20,LIGHT:500,WATER:80,PUMP:1,TEMP:nan,HUMID:nan",
			"SOIL:20,LIGHT:500,WATER:80,PUMP:1,TEMP:NaN,HUMID:inf",
			`{"soil":20,"light":500,"water":80,"pump":1,"temp":"nan","humid":"-Inf"}`,
		}
		for _, line := range lines {
			r, err := Decode(line)
			require.NoError(t, err, line)
			assert.Equal(t, 20.0, r.SoilMoisture)
			assert.Nil(t, r.Temperature, line)
			assert.Nil(t, r.Humidity, line)
		}
	})

	t.Run("required fields must be finite", func(t *testing.T) {
		lines := []string{
			"SOIL:nan,LIGHT:500,WATER:80,PUMP:1",
			"SOIL:20,LIGHT:Inf,WATER:80,PUMP:1",
			"SOIL:20,LIGHT:500,WATER:-inf,PUMP:1",
			`{"soil":20,"light":"+Inf","water":80,"pump":1}`,
		}
		for _, line := range lines {
			r, err := Decode(line)
			assert.Nil(t, r, line)
			assert.ErrorIs(t, err, ErrBadValue, line)
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Run("short keys", func(t *testing.T) {
		r, err := Decode(`{"soil":25,"light":410,"water":66,"pump":true,"emergency":0,"temp":21,"humid":70}`)
		require.NoError(t, err)
		assert.Equal(t, FormatJSON, r.Format)
		assert.Equal(t, 25.0, r.SoilMoisture)
		assert.Equal(t, 410.0, r.LightLevel)
		assert.Equal(t, 66.0, r.WaterLevel)
		assert.True(t, r.PumpStatus)
		assert.False(t, r.EmergencyMode)
		assert.Equal(t, 21.0, *r.Temperature)
		assert.Equal(t, 70.0, *r.Humidity)
	})

	t.Run("first alias wins", func(t *testing.T) {
		r, err := Decode(`{"soilMoisture":90,"soil":10,"pumpStatus":1}`)
		require.NoError(t, err)
		assert.Equal(t, 10.0, r.SoilMoisture)
		assert.True(t, r.PumpStatus)
	})

	t.Run("subset defaults", func(t *testing.T) {
		r, err := Decode(`{"light":5}`)
		require.NoError(t, err)
		assert.Equal(t, 5.0, r.LightLevel)
		assert.Zero(t, r.SoilMoisture)
		assert.False(t, r.PumpStatus)
		assert.Nil(t, r.Temperature)
	})

	t.Run("string values", func(t *testing.T) {
		r, err := Decode(`{"soil":"31.5","pump":"true","emergency":"1"}`)
		require.NoError(t, err)
		assert.Equal(t, 31.5, r.SoilMoisture)
		assert.True(t, r.PumpStatus)
		assert.True(t, r.EmergencyMode)
	})
}

func TestDecodeIsPure(t *testing.T) {
	line := "soil:12,LIGHT:7,Water:3,pump:1,temp:19"
	a, errA := Decode(line)
	b, errB := Decode(line)
	assert.Equal(t, errA, errB)
	assert.Equal(t, a, b)
}

func TestEncode(t *testing.T) {
	for _, cmd := range []Command{PumpOn, PumpOff, EmergencyStop, ClearEmergency} {
		s, err := Encode(cmd)
		require.NoError(t, err)
		assert.Equal(t, string(cmd)+"\n", s)
	}

	_, err := Encode("SELF_DESTRUCT")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(" pump_on ")
	require.NoError(t, err)
	assert.Equal(t, PumpOn, cmd)

	_, err = ParseCommand("reboot")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	assert.Equal(t, PumpOff, PumpCommand(false))
	assert.Equal(t, PumpOn, PumpCommand(true))
}
