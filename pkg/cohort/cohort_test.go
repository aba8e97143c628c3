package cohort

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/tabular"
)

type births map[string]time.Time

func (b births) DateOfBirth(internal string) (time.Time, bool) {
	t, ok := b[internal]
	return t, ok
}

func testTransform() *dates.Transform {
	return dates.NewTransform(births{
		"012345678901": time.Date(1997, time.March, 1, 0, 0, 0, 0, time.UTC),
	}, dates.DefaultFloor)
}

var smallColumns = []Column{
	{Field: fieldSubject, Name: "PSC2", Required: true},
	{Field: fieldGender, Name: "Sex", Required: true},
	{Field: fieldSessionStart, Required: true},
	{Field: "CGT Risk taking", Required: true},
	{Field: "NART", Required: false},
}

func readSheet(t *testing.T, content string) Sheet {
	t.Helper()
	sheet, err := ReadSheet(strings.NewReader(content), "datasheet_012345678901.csv")
	require.NoError(t, err)
	return sheet
}

func TestCleanDatasheet(t *testing.T) {
	sheet := readSheet(t, "Subject ID,Gender,Session start time,CGT Risk taking,Warning Flag\n"+
		"012345678901FU3,Female,01-Feb-2015 12:34:56,\"1,25\",x\n")

	record, diags := CleanDatasheet("012345678901", sheet, smallColumns, testTransform())
	require.NotNil(t, record)
	assert.Empty(t, diags)
	assert.Equal(t, "012345678901", record[fieldSubject])
	assert.Equal(t, "F", record[fieldGender])
	assert.Equal(t, "6546", record[fieldSessionStart])
	assert.Equal(t, "1.25", record["CGT Risk taking"])
	assert.NotContains(t, record, "Warning Flag")
}

func TestCleanDatasheetSemicolonDialect(t *testing.T) {
	sheet := readSheet(t, "Subject ID;Gender;Session start time;CGT Risk taking\n"+
		"012345678901;Male;01.02.2015 12:34:56;-0,5\n")

	record, diags := CleanDatasheet("012345678901", sheet, smallColumns, testTransform())
	require.NotNil(t, record)
	assert.Empty(t, diags)
	assert.Equal(t, "M", record[fieldGender])
	assert.Equal(t, "6546", record[fieldSessionStart])
	assert.Equal(t, "-0.5", record["CGT Risk taking"])
}

func TestCleanDatasheetRejects(t *testing.T) {
	transform := testTransform()

	t.Run("mismatch", func(t *testing.T) {
		sheet := readSheet(t, "Subject ID,Gender,CGT Risk taking\n023456789012,Male,1\n")
		record, diags := CleanDatasheet("012345678901", sheet, smallColumns, transform)
		assert.Nil(t, record)
		require.NotEmpty(t, diags)
		assert.Equal(t, models.KindIdentifierMismatch, diags[len(diags)-1].Kind)
	})

	t.Run("multiple rows", func(t *testing.T) {
		sheet := readSheet(t, "Subject ID,Gender,CGT Risk taking\n012345678901,Male,1\n012345678901,Male,2\n")
		record, diags := CleanDatasheet("012345678901", sheet, smallColumns, transform)
		assert.Nil(t, record)
		require.Len(t, diags, 1)
		assert.Equal(t, "Multiple data rows in datasheet", diags[0].Message)
	})

	t.Run("no rows", func(t *testing.T) {
		sheet := readSheet(t, "Subject ID,Gender,CGT Risk taking\n")
		record, diags := CleanDatasheet("012345678901", sheet, smallColumns, transform)
		assert.Nil(t, record)
		require.Len(t, diags, 1)
		assert.Equal(t, models.KindMissingRequiredField, diags[0].Kind)
	})

	t.Run("collapsed dialect", func(t *testing.T) {
		sheet := readSheet(t, "Subject ID\n012345678901\n")
		record, diags := CleanDatasheet("012345678901", sheet, smallColumns, transform)
		assert.Nil(t, record)
		require.Len(t, diags, 1)
		assert.Equal(t, models.KindUnexpectedStructure, diags[0].Kind)
	})
}

func TestCleanDatasheetRecoverableProblems(t *testing.T) {
	sheet := readSheet(t, "Subject ID,Gender,Session start time\n012345678901,Other,01-Feb-2005 12:34:56\n")

	record, diags := CleanDatasheet("012345678901", sheet, smallColumns, testTransform())
	require.NotNil(t, record)
	assert.Equal(t, "", record[fieldGender])
	assert.Equal(t, "", record[fieldSessionStart])

	counts := models.CountByKind(diags)
	assert.Equal(t, 1, counts[models.KindMissingRequiredField])
	assert.Equal(t, 1, counts[models.KindMalformedIdentifier])
	assert.Equal(t, 1, counts[models.KindImplausibleDate])
}

func TestRepairSeparator(t *testing.T) {
	assert.Equal(t, "0.75", repairSeparator(`0;"75"`))
	assert.Equal(t, `0;"75`, repairSeparator(`0;"75`))
	assert.Equal(t, "12", repairSeparator("12"))
}

func TestNormalizeNumber(t *testing.T) {
	assert.Equal(t, "3.5", normalizeNumber("3,5"))
	assert.Equal(t, "a,b", normalizeNumber("a,b"))
	assert.Equal(t, "", normalizeNumber(""))
}

func TestTableWriteTo(t *testing.T) {
	table := NewTable(smallColumns)
	assert.True(t, table.Add("099999999999", tabular.Record{fieldSubject: "012345678901", fieldGender: "M", "CGT Risk taking": "2"}))
	assert.True(t, table.Add("087654321099", tabular.Record{fieldSubject: "023456789012", fieldGender: "F"}))
	assert.False(t, table.Add("087654321099", tabular.Record{fieldSubject: "023456789012", fieldGender: "M"}))

	require.Len(t, table.Diagnostics(), 1)
	assert.Equal(t, models.KindDuplicateIdentifier, table.Diagnostics()[0].Kind)
	assert.Equal(t, 2, table.Len())

	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t,
		"PSC2,Sex,Session start time,CGT Risk taking,NART\n"+
			"087654321099,F,,,\n"+
			"099999999999,M,,2,\n",
		buf.String())
}

func TestColumns(t *testing.T) {
	for _, tp := range []string{"BL", "FU2", "FU3", "sb"} {
		set, ok := Columns(tp)
		require.True(t, ok, tp)
		assert.Equal(t, "PSC2", set[0].Header())
		assert.Equal(t, "Sex", set[3].Header())
	}
	_, ok := Columns("FU1")
	assert.False(t, ok)
}

func TestIsDatasheet(t *testing.T) {
	assert.True(t, IsDatasheet("012345678901/BehaviouralData/datasheet_012345678901.csv"))
	assert.True(t, IsDatasheet("Datasheet_012345678901FU2.CSV"))
	assert.False(t, IsDatasheet("detailed_datasheet_012345678901.csv"))
	assert.False(t, IsDatasheet("datasheet_012345678901.xml"))
}
