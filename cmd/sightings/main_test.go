package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryCSV = `License Number,Name,Expiration Date,Vehicle License Number,Active,DMV License Plate Number,Vehicle VIN Number,Vehicle Year,Base Name,Base Type
5801234,JOHN DOE,2025-01-01,5801234,YES,T123456C,VCF1ABC1234567890,2023,UBER USA LLC,BLACK-CAR
5805678,JANE ROE,2025-01-01,5805678,YES,T654321C,1HGCM82633A004352,2019,LYFT,BLACK-CAR
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "sightings.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage:\n  path: "+filepath.Join(dir, "db")+"\n"), 0o600))
	return cfg
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sightings version "))
}

func TestRegistryImportLookupSearch(t *testing.T) {
	cfg := setupConfig(t)
	csvPath := filepath.Join(t.TempDir(), "tlc.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(registryCSV), 0o600))

	out, err := run(t, "--config", cfg, "--env-file", "", "registry", "import", csvPath, "--fisker-only")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 2 records")

	out, err = run(t, "--config", cfg, "--env-file", "", "registry", "lookup", "t123456c")
	require.NoError(t, err)
	assert.Contains(t, out, "T123456C")
	assert.Contains(t, out, "VCF1ABC1234567890")

	_, err = run(t, "--config", cfg, "--env-file", "", "registry", "lookup", "T654321C")
	assert.Error(t, err)

	out, err = run(t, "--config", cfg, "--env-file", "", "registry", "search", "T1234*6C")
	require.NoError(t, err)
	assert.Contains(t, out, "WILDCARD")

	out, err = run(t, "--config", cfg, "--env-file", "", "registry", "search", "123456")
	require.NoError(t, err)
	assert.Contains(t, out, "EXACT")
}

func TestSightingsListEmpty(t *testing.T) {
	cfg := setupConfig(t)
	out, err := run(t, "--config", cfg, "--env-file", "", "sightings", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sightings recorded")
}
