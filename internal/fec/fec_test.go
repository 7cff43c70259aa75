package fec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleOutput = "Voici les écritures comptables au format FEC :\n\n```csv\n" +
	"JournalCode;JournalLib;EcritureNum;EcritureDate;CompteNum;CompteLib;CompAuxNum;CompAuxLib;PieceRef;PieceDate;EcritureLib;Debit;Credit;EcritureLet;DateLet;ValidDate;Montantdevise;Idevise\n" +
	"AC;Journal d'achat;1;20240115;607000;Achats de marchandises;;;FA-2024-001;20240115;Facture Dupont SARL;1000,00;0,00;;;;;\n" +
	"AC;Journal d'achat;1;20240115;445660;TVA déductible sur ABS;;;FA-2024-001;20240115;Facture Dupont SARL;200,00;0,00;;;;;\n" +
	"AC;Journal d'achat;1;20240115;401000;Fournisseurs;401DUP;Dupont SARL;FA-2024-001;20240115;Facture Dupont SARL;0,00;1200,00;;;;;\n" +
	"```\n\nRemarques : adaptez les comptes à votre plan comptable."

func TestFieldsOrder(t *testing.T) {
	names := ColumnNames()
	require.Len(t, names, 18)
	assert.Equal(t, "JournalCode", names[0])
	assert.Equal(t, "Debit", names[11])
	assert.Equal(t, "Credit", names[12])
	assert.Equal(t, "Idevise", names[17])

	optional := 0
	for _, f := range Fields {
		assert.NotEmpty(t, f.Description, f.Name)
		if f.Optional {
			optional++
		}
	}
	assert.Equal(t, 7, optional)
	assert.Len(t, Remarks, 3)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"", 0},
		{"0,00", 0},
		{"1000,00", 100000},
		{"1000.5", 100050},
		{"1 234,56", 123456},
		{"1.234,56", 123456},
		{"1,234.56", 123456},
		{"1.234.567", 123456700},
		{"-12,3", -1230},
		{"99,999", 10000},
		{"42 €", 4200},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAmount("douze")
	assert.Error(t, err)
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0,00", Amount(0).String())
	assert.Equal(t, "1234,56", Amount(123456).String())
	assert.Equal(t, "-0,05", Amount(-5).String())
	assert.InDelta(t, 12.34, Amount(1234).Float(), 0.0001)
}

func TestClean(t *testing.T) {
	cleaned := Clean(sampleOutput)
	lines := strings.Split(cleaned, "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "JournalCode;"))
	assert.NotContains(t, cleaned, "```")
	assert.NotContains(t, cleaned, "Remarques")

	assert.Empty(t, Clean("Je ne peux pas lire cette facture."))
}

func TestCleanMarkdownTable(t *testing.T) {
	raw := "| JournalCode | JournalLib | EcritureNum | EcritureDate | CompteNum |\n" +
		"|---|---|---|---|---|\n" +
		"| AC | Achats | 1 | 20240115 | 607000 |\n"
	cleaned := Clean(raw)
	lines := strings.Split(cleaned, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "AC | Achats | 1 | 20240115 | 607000", lines[1])
}

func TestParse(t *testing.T) {
	doc, err := Parse(sampleOutput)
	require.NoError(t, err)

	assert.Equal(t, ';', doc.Delimiter)
	assert.True(t, doc.HasHeader)
	require.Len(t, doc.Entries, 3)
	assert.Empty(t, doc.Warnings)

	first := doc.Entries[0]
	assert.Equal(t, 2, first.Row)
	assert.Equal(t, "AC", first.JournalCode)
	assert.Equal(t, "Journal d'achat", first.JournalLib)
	assert.Equal(t, "607000", first.CompteNum)
	assert.Equal(t, Amount(100000), first.Debit)
	assert.Equal(t, "401DUP", doc.Entries[2].CompAuxNum)

	debit, credit := doc.Totals()
	assert.Equal(t, Amount(120000), debit)
	assert.Equal(t, credit, debit)
}

func TestParseTabWithoutHeader(t *testing.T) {
	raw := strings.Join([]string{
		"AC\tAchats\t7\t20240301\t606300\tFournitures\t\t\tF12\t20240301\tBureau Vallée\t50.00\t\t\t\t\t\t",
		"AC\tAchats\t7\t20240301\t401000\tFournisseurs\t\t\tF12\t20240301\tBureau Vallée\t\t50.00\t\t\t\t\t",
	}, "\n")
	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, '\t', doc.Delimiter)
	assert.False(t, doc.HasHeader)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, Amount(5000), doc.Entries[1].Credit)
	assert.True(t, Balanced(doc))
}

func TestParseHeaderByName(t *testing.T) {
	raw := "Debit;Credit;compte_num;Ecriture Num;JournalCode\n" +
		"10,00;;512000;3;BQ\n" +
		"abc;;411000;3;BQ\n" +
		";10,00;411000;3;BQ\n"
	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, "512000", doc.Entries[0].CompteNum)
	assert.Equal(t, "3", doc.Entries[0].EcritureNum)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "ligne 3")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("Désolé, je ne peux pas traiter ce document.")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse("JournalCode;JournalLib;EcritureNum;EcritureDate;CompteNum\n")
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestValidate(t *testing.T) {
	doc, err := Parse(sampleOutput)
	require.NoError(t, err)
	assert.Empty(t, Validate(doc))
	assert.True(t, Balanced(doc))

	doc.Entries[0].EcritureDate = "15/01/2024"
	doc.Entries[1].Credit = 200
	doc.Entries[2].CompteLib = ""
	doc.Entries[2].Credit = 100000

	issues := Validate(doc)
	fields := map[string]bool{}
	var group *Issue
	for i, is := range issues {
		fields[is.Field] = true
		if is.Row == 0 {
			group = &issues[i]
		}
	}
	assert.True(t, fields["EcritureDate"])
	assert.True(t, fields["CompteLib"])
	assert.True(t, fields["Debit"])
	require.NotNil(t, group)
	assert.Equal(t, "1", group.EcritureNum)
	assert.Contains(t, group.String(), "déséquilibrée")
	assert.False(t, Balanced(doc))

	assert.Nil(t, Validate(nil))
	assert.False(t, Balanced(&Document{}))
}

func TestWriteFEC(t *testing.T) {
	doc, err := Parse(sampleOutput)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFEC(&buf, doc))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(ColumnNames(), "\t"), lines[0])
	cols := strings.Split(lines[1], "\t")
	require.Len(t, cols, 18)
	assert.Equal(t, "1000,00", cols[11])
	assert.Equal(t, "0,00", cols[12])
}

func TestWriteCSVRoundTrip(t *testing.T) {
	doc, err := Parse(sampleOutput)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, doc, ';'))

	again, err := Parse(buf.String())
	require.NoError(t, err)
	assert.Equal(t, doc.Entries, again.Entries)
}

func TestWriteXLSX(t *testing.T) {
	doc, err := Parse(sampleOutput)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, doc))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "JournalCode", rows[0][0])
	assert.Equal(t, "607000", rows[1][4])

	v, err := f.GetCellValue(sheetName, "M4")
	require.NoError(t, err)
	assert.Equal(t, "1200", v)
}
