package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

const sampleCSV = `time,value,field,robot_id,run_uuid,sensor_type
2022-11-23T20:40:00.007Z,-0.5,x,1,8910,encoder
2022-11-23T20:40:00.008Z,,fx,2,8910,load_cell
2022-11-23 20:40:00.010+00:00,NaN,y,1,8910,encoder
1669236000.5,12.25,z,2,7582,encoder
`

func TestReadCSV(t *testing.T) {
	ms, err := readCSV(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, ms, 4)

	assert.Equal(t, telemetry.Measurement{
		RunID:      "8910",
		Time:       time.Date(2022, 11, 23, 20, 40, 0, 7_000_000, time.UTC),
		Robot:      "1",
		Field:      "x",
		Value:      telemetry.Some(-0.5),
		SensorType: "encoder",
	}, ms[0])

	assert.False(t, ms[1].Value.Valid)
	assert.False(t, ms[2].Value.Valid)
	assert.Equal(t, time.Date(2022, 11, 23, 20, 40, 0, 10_000_000, time.UTC), ms[2].Time)

	assert.Equal(t, "7582", ms[3].RunID)
	assert.Equal(t, time.Unix(1669236000, 500_000_000).UTC(), ms[3].Time)
	assert.Equal(t, telemetry.Some(12.25), ms[3].Value)
}

func TestReadCSV_HeaderAliases(t *testing.T) {
	in := "run_id,timestamp,robot,field_name,value\nr1,0,1,x,1\n"

	ms, err := readCSV(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "r1", ms[0].RunID)
	assert.Equal(t, "", ms[0].SensorType)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "empty input",
			input:   "",
			wantErr: "empty input",
		},
		{
			name:    "missing value column",
			input:   "time,field,robot_id,run_uuid\n",
			wantErr: "missing required column: value",
		},
		{
			name:    "bad time",
			input:   "time,value,field,robot_id,run_uuid\nyesterday,1,x,1,r\n",
			wantErr: `line 2: invalid time "yesterday"`,
		},
		{
			name:    "bad value",
			input:   "time,value,field,robot_id,run_uuid\n0,1,x,1,r\n1,abc,x,1,r\n",
			wantErr: `line 3: invalid value "abc"`,
		},
		{
			name:    "epoch overflow",
			input:   "time,value,field,robot_id,run_uuid\n1e30,1,x,1,r\n",
			wantErr: `line 2: time "1e30" out of range`,
		},
		{
			name:    "date beyond nanosecond range",
			input:   "time,value,field,robot_id,run_uuid\n9999-01-01T00:00:00Z,1,x,1,r\n",
			wantErr: `line 2: time "9999-01-01T00:00:00Z" out of range`,
		},
		{
			name:    "infinite value",
			input:   "time,value,field,robot_id,run_uuid\n0,1,x,1,r\n1,-Inf,x,1,r\n",
			wantErr: `line 3: non-finite value "-Inf"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readCSV(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseValue(t *testing.T) {
	for _, s := range []string{"", "nan", "NaN", "null", "None", "NA"} {
		v, err := ParseValue(s)
		require.NoError(t, err, s)
		assert.False(t, v.Valid, s)
	}

	v, err := ParseValue("1e3")
	require.NoError(t, err)
	assert.Equal(t, telemetry.Some(1000), v)
}

func TestNewReader_Format(t *testing.T) {
	log := logrus.New()

	r, err := NewReader(log, &Config{Path: "data/sample.CSV"})
	require.NoError(t, err)
	assert.IsType(t, &csvReader{}, r)

	r, err = NewReader(log, &Config{Path: "data/sample.bin", Format: "xlsx"})
	require.NoError(t, err)
	assert.IsType(t, &xlsxReader{}, r)

	r, err = NewReader(log, &Config{Path: "data/sample.parquet"})
	require.NoError(t, err)
	assert.IsType(t, &parquetReader{}, r)

	_, err = NewReader(log, &Config{Path: "data/sample.json"})
	assert.Error(t, err)
}

func TestCSVReader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	r, err := NewReader(logrus.New(), &Config{Path: path})
	require.NoError(t, err)

	ms, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, ms, 4)
}

func TestXLSXReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")

	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]any{"run_uuid", "time", "robot_id", "field", "value"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]any{"r1", "2024-01-01T00:00:00Z", "1", "x", "1.5"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A3", &[]any{"r1", "2024-01-01T00:00:01Z", "2", "fx", ""}))
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	r, err := NewReader(logrus.New(), &Config{Path: path})
	require.NoError(t, err)

	ms, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 2)

	assert.Equal(t, "r1", ms[0].RunID)
	assert.Equal(t, telemetry.Some(1.5), ms[0].Value)
	assert.Equal(t, telemetry.RobotID("2"), ms[1].Robot)
	assert.False(t, ms[1].Value.Valid)
}

func TestParseRows_SkipsBlankRows(t *testing.T) {
	rows := [][]string{
		{"run_uuid", "time", "robot_id", "field", "value"},
		{},
		{"r", "0", "1", "x", "2"},
	}

	ms, err := parseRows(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, ms, 1)
}

func TestCheckMemory_SmallFileDoesNotWarn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	log, hook := test.NewNullLogger()

	require.NoError(t, CheckMemory(context.Background(), log, path))

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestCheckMemory_MissingFile(t *testing.T) {
	log, _ := test.NewNullLogger()

	assert.Error(t, CheckMemory(context.Background(), log, filepath.Join(t.TempDir(), "nope")))
}

func TestExceedsMemory(t *testing.T) {
	assert.False(t, exceedsMemory(1<<20, 1<<30))
	assert.True(t, exceedsMemory(1<<30, 1<<30))
}
