//go:build test

package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/pot"
	"github.com/srg/potlink/internal/store"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type PairTestSuite struct {
	CommandTestSuite
}

func (suite *PairTestSuite) TestPairSavesRecord() {
	// GOAL: Verify pair syncs the settings and reports the saved record
	//
	// TEST SCENARIO: accepting pot → pair --name Kitchen --plant Basil → confirmation line → record persisted

	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())

	out, err := suite.ExecuteCommand("pair", TestPotID, "--name", "Kitchen", "--plant", "Basil")
	suite.Require().NoError(err, "pair MUST succeed")
	suite.Contains(out, "Pairing "+TestPotID+": connecting")
	suite.Contains(out, "Kitchen saved as "+testutils.DefaultIdentityString+" (Basil, metric)")

	records, err := suite.Paired().GetPairedDevices(context.Background())
	suite.Require().NoError(err)
	suite.Require().Contains(records, testutils.DefaultIdentityString)
	suite.Equal("Basil", records[testutils.DefaultIdentityString].Plant)

	writes := suite.Radio.Writes()
	suite.Require().Len(writes, 1)
	testutils.NewJSONAsserter(suite.T()).AssertValue(testutils.DecodeWrite(writes[0]),
		`{"deviceName": "Kitchen", "plant": "Basil", "mes_sys": 1}`)
}

func (suite *PairTestSuite) TestPairJSONOutput() {
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())

	out, err := suite.ExecuteCommand("pair", TestPotID, "--units", "imperial", "--format", "json")
	suite.Require().NoError(err)

	// progress lines precede the document
	start := strings.Index(out, "{")
	suite.Require().GreaterOrEqual(start, 0, "output MUST contain a JSON record")
	var rec store.PairedDeviceRecord
	suite.Require().NoError(json.Unmarshal([]byte(out[start:]), &rec))
	suite.Equal(plants.Imperial, rec.MeasurementSystem)
	suite.Equal("SMARTPot", rec.Name)
}

func (suite *PairTestSuite) TestPairRejectedByPot() {
	// GOAL: Verify a rejected sync fails the command and leaves nothing paired

	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).WithAck(false).Build())

	_, err := suite.ExecuteCommand("pair", TestPotID)
	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrDeviceRejectedConfig)
	suite.NotEmpty(FormatUserError(err))

	records, err := suite.Paired().GetPairedDevices(context.Background())
	suite.Require().NoError(err)
	suite.Empty(records, "rejected pot MUST NOT be saved")
}

func (suite *PairTestSuite) TestPairValidatesFlagsBeforeConnecting() {
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())

	_, err := suite.ExecuteCommand("pair", TestPotID, "--plant", "Triffid")
	suite.Error(err, "unknown plant MUST be rejected")

	_, err = suite.ExecuteCommand("pair", TestPotID, "--units", "kelvin")
	suite.Error(err, "unknown units MUST be rejected")

	_, err = suite.ExecuteCommand("pair", TestPotID, "--name", "a name that is far too long")
	suite.Error(err, "long name MUST be rejected")

	suite.Zero(suite.Radio.ConnectCount(TestPotID), "invalid flags MUST NOT reach the pot")
}

func (suite *PairTestSuite) TestSettingsRequiresPairedPot() {
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())

	_, err := suite.ExecuteCommand("settings", TestPotID, "missing-local-id")
	suite.ErrorIs(err, pot.ErrNotPaired)
	suite.Contains(FormatUserError(err), "potlink devices", "hint MUST point at the paired list")
	suite.Empty(suite.Radio.Writes())
}

func (suite *PairTestSuite) TestSettingsUpdatesRecord() {
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())
	_, err := suite.ExecuteCommand("pair", TestPotID, "--name", "Kitchen")
	suite.Require().NoError(err)

	out, err := suite.ExecuteCommand("settings", TestPotID, testutils.DefaultIdentityString, "--name", "Porch", "--plant", "Cactus")
	suite.Require().NoError(err)
	suite.Contains(out, "Porch saved as "+testutils.DefaultIdentityString+" (Cactus, metric)")
}

func (suite *PairTestSuite) TestRemoveForgetsPot() {
	// GOAL: Verify remove resets the pot and then drops its record
	//
	// TEST SCENARIO: pair → remove → confirmation → devices lists nothing

	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).Build())
	_, err := suite.ExecuteCommand("pair", TestPotID)
	suite.Require().NoError(err)

	out, err := suite.ExecuteCommand("remove", TestPotID, testutils.DefaultIdentityString)
	suite.Require().NoError(err)
	suite.Contains(out, testutils.DefaultIdentityString+" reset and removed")

	out, err = suite.ExecuteCommand("devices")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "No paired pots")
}

func TestPairTestSuite(t *testing.T) {
	suite.Run(t, new(PairTestSuite))
}
