package spc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	p, err := parsePage(strings.NewReader(`<html><body>
<a href="secure.htm?session=0x1A2B&amp;page=status_zones">Zones</a>
<table>
  <tr><th>Zone</th><th>Description</th><th>Input</th></tr>
  <tr><td> 1 </td><td>Front
      Door</td><td><b>Closed</b></td></tr>
</table>
</body></html>`))
	require.NoError(t, err)
	require.Equal(t, "0x1A2B", p.sessionID)
	require.False(t, p.loginForm)
	require.Equal(t, [][]string{
		{"Zone", "Description", "Input"},
		{"1", "Front Door", "Closed"},
	}, p.rows)
}

func TestParsePageLoginForm(t *testing.T) {
	p, err := parsePage(strings.NewReader(`<form action="login.htm?action=login">
<input name="userid"><input type="password" name="password"></form>`))
	require.NoError(t, err)
	require.True(t, p.loginForm)
	require.Empty(t, p.sessionID)
}

func TestParsePageSessionInScript(t *testing.T) {
	p, err := parsePage(strings.NewReader(`<script>location.href = "secure.htm?session=0xFF00&page=spc_home";</script>`))
	require.NoError(t, err)
	require.Equal(t, "0xFF00", p.sessionID)
}

func TestParseSummary(t *testing.T) {
	require.Equal(t, Summary{
		Site:         "Home",
		Model:        "SPC4320.320",
		SerialNumber: "12345678",
		Firmware:     "3.8.5",
	}, parseSummary([][]string{
		{"System Summary"},
		{"Site Name:", "Home"},
		{"Panel Type", "SPC4320.320"},
		{"Serial Number", "12345678"},
		{"Firmware Version", "3.8.5"},
		{"Uptime", "3 days"},
	}))
}

func TestParseAreas(t *testing.T) {
	areas, err := parseAreas([][]string{
		{"Area", "Name", "Mode"},
		{"1", "House", "Partset A"},
		{"2", "Garage", "fullset"},
		{"total"},
	})
	require.NoError(t, err)
	require.Equal(t, []Area{
		{Number: 1, Name: "House", Mode: ArmStatePartSetA},
		{Number: 2, Name: "Garage", Mode: ArmStateFullSet},
	}, areas)
	require.Equal(t, ArmStateFullSet, overallArmState(areas))
}

func TestParseAreasErrors(t *testing.T) {
	_, err := parseAreas([][]string{{"Zone", "Input"}})
	require.ErrorIs(t, err, ErrUnexpectedPage)

	_, err = parseAreas([][]string{{"Area", "Mode"}, {"one", "Unset"}})
	require.ErrorContains(t, err, "invalid area number")

	_, err = parseAreas([][]string{{"Area", "Mode"}, {"1", "Armed"}})
	require.EqualError(t, err, `invalid arm state: "Armed"`)
}

func TestOverallArmState(t *testing.T) {
	require.Equal(t, ArmStateUnset, overallArmState(nil))
	require.Equal(t, ArmStatePartSetB, overallArmState([]Area{
		{Number: 1, Mode: ArmStatePartSetB},
		{Number: 2, Mode: ArmStateUnset},
		{Number: 3, Mode: ArmStatePartSetA},
	}))
}

func TestParseZones(t *testing.T) {
	zones, err := parseZones([][]string{
		{"Zone", "Description", "Area", "Type", "Input", "Status"},
		{"1", "Front Door", "House", "Entry/Exit", "Closed", ""},
		{"2", "Hall PIR", "House", "Alarm", "PIR Masked", "Actuated"},
		{"3", "Garage", "Garage", "Alarm", "Sensor Missing", "Isolated"},
		{"4", "Window", "House", "Alarm", "weird", "weird"},
	})
	require.NoError(t, err)
	require.Equal(t, []Zone{
		{ID: 1, Name: "Front Door", Area: "House", Type: "Entry/Exit", Input: ZoneInputClosed, Status: ZoneStatusNormal},
		{ID: 2, Name: "Hall PIR", Area: "House", Type: "Alarm", Input: ZoneInputMasked, Status: ZoneStatusAlarm},
		{ID: 3, Name: "Garage", Area: "Garage", Type: "Alarm", Input: ZoneInputOffline, Status: ZoneStatusIsolated},
		{ID: 4, Name: "Window", Area: "House", Type: "Alarm", Input: ZoneInputUnknown, Status: ZoneStatusUnknown},
	}, zones)

	require.False(t, zones[0].IsOpen())
	require.True(t, zones[1].IsOpen())
	require.True(t, zones[1].IsTampered())
	require.True(t, zones[2].IsFaulted())
	require.True(t, zones[2].IsBypassed())
}

func TestParseZonesErrors(t *testing.T) {
	_, err := parseZones(nil)
	require.ErrorIs(t, err, ErrUnexpectedPage)

	_, err = parseZones([][]string{{"Zone", "Input"}, {"x", "Open"}})
	require.ErrorContains(t, err, "invalid zone id")
}
