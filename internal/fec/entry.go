package fec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Amount is a monetary value in cents.
type Amount int64

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseAmount reads an amount written with either a comma or a dot as the
// decimal mark. Spaces, thousand separators and a trailing currency sign are
// ignored. An empty string is zero.
func ParseAmount(s string) (Amount, error) {
	orig := s
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "€", "", "EUR", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s[:lastComma], ".", "") + "." + s[lastComma+1:]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid amount %q", orig)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", orig, err)
	}
	cents := Amount(math.Round(v * 100))
	if neg {
		cents = -cents
	}
	return cents, nil
}

// String formats the amount the FEC way: comma decimal mark, two decimals.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d,%02d", sign, v/100, v%100)
}

// Float returns the amount in currency units.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// Entry is one line of a FEC file.
type Entry struct {
	Row int `json:"row"`

	JournalCode   string `json:"journal_code"`
	JournalLib    string `json:"journal_lib"`
	EcritureNum   string `json:"ecriture_num"`
	EcritureDate  string `json:"ecriture_date"`
	CompteNum     string `json:"compte_num"`
	CompteLib     string `json:"compte_lib"`
	CompAuxNum    string `json:"comp_aux_num,omitempty"`
	CompAuxLib    string `json:"comp_aux_lib,omitempty"`
	PieceRef      string `json:"piece_ref"`
	PieceDate     string `json:"piece_date"`
	EcritureLib   string `json:"ecriture_lib"`
	Debit         Amount `json:"debit"`
	Credit        Amount `json:"credit"`
	EcritureLet   string `json:"ecriture_let,omitempty"`
	DateLet       string `json:"date_let,omitempty"`
	ValidDate     string `json:"valid_date,omitempty"`
	MontantDevise string `json:"montant_devise,omitempty"`
	Idevise       string `json:"idevise,omitempty"`
}

// Values returns the entry's columns in FEC order.
func (e Entry) Values() []string {
	return []string{
		e.JournalCode, e.JournalLib, e.EcritureNum, e.EcritureDate,
		e.CompteNum, e.CompteLib, e.CompAuxNum, e.CompAuxLib,
		e.PieceRef, e.PieceDate, e.EcritureLib,
		e.Debit.String(), e.Credit.String(),
		e.EcritureLet, e.DateLet, e.ValidDate, e.MontantDevise, e.Idevise,
	}
}

// set assigns a text column by its FEC name. Debit and Credit are handled by
// the parser.
func (e *Entry) set(column, value string) {
	switch column {
	case "JournalCode":
		e.JournalCode = value
	case "JournalLib":
		e.JournalLib = value
	case "EcritureNum":
		e.EcritureNum = value
	case "EcritureDate":
		e.EcritureDate = value
	case "CompteNum":
		e.CompteNum = value
	case "CompteLib":
		e.CompteLib = value
	case "CompAuxNum":
		e.CompAuxNum = value
	case "CompAuxLib":
		e.CompAuxLib = value
	case "PieceRef":
		e.PieceRef = value
	case "PieceDate":
		e.PieceDate = value
	case "EcritureLib":
		e.EcritureLib = value
	case "EcritureLet":
		e.EcritureLet = value
	case "DateLet":
		e.DateLet = value
	case "ValidDate":
		e.ValidDate = value
	case "Montantdevise":
		e.MontantDevise = value
	case "Idevise":
		e.Idevise = value
	}
}

// Document is a parsed FEC table.
type Document struct {
	Delimiter rune     `json:"-"`
	HasHeader bool     `json:"has_header"`
	Entries   []Entry  `json:"entries"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Totals returns the sum of debits and credits across all entries.
func (d *Document) Totals() (debit, credit Amount) {
	for _, e := range d.Entries {
		debit += e.Debit
		credit += e.Credit
	}
	return debit, credit
}
