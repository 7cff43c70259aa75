package fec

import (
	"fmt"
	"time"
)

// Issue is a validation finding. Row is 0 for findings that concern a whole
// EcritureNum group rather than a single line.
type Issue struct {
	Row         int    `json:"row"`
	EcritureNum string `json:"ecriture_num,omitempty"`
	Field       string `json:"field,omitempty"`
	Message     string `json:"message"`
}

func (i Issue) String() string {
	if i.Row == 0 {
		return fmt.Sprintf("écriture %s: %s", i.EcritureNum, i.Message)
	}
	return fmt.Sprintf("ligne %d (%s): %s", i.Row, i.Field, i.Message)
}

const dateLayout = "20060102"

// Validate checks required columns, dates, the debit/credit rule and the
// balance of every EcritureNum group.
func Validate(doc *Document) []Issue {
	if doc == nil {
		return nil
	}
	var issues []Issue

	type group struct{ debit, credit Amount }
	groups := make(map[string]*group)
	var order []string

	for _, e := range doc.Entries {
		add := func(field, msg string) {
			issues = append(issues, Issue{Row: e.Row, EcritureNum: e.EcritureNum, Field: field, Message: msg})
		}

		required := map[string]string{
			"JournalCode": e.JournalCode,
			"JournalLib":  e.JournalLib,
			"EcritureNum": e.EcritureNum,
			"CompteNum":   e.CompteNum,
			"CompteLib":   e.CompteLib,
			"PieceRef":    e.PieceRef,
			"EcritureLib": e.EcritureLib,
		}
		for _, f := range Fields {
			if v, ok := required[f.Name]; ok && v == "" {
				add(f.Name, "champ obligatoire vide")
			}
		}

		for _, d := range []struct {
			field, value string
			optional     bool
		}{
			{"EcritureDate", e.EcritureDate, false},
			{"PieceDate", e.PieceDate, false},
			{"DateLet", e.DateLet, true},
			{"ValidDate", e.ValidDate, true},
		} {
			if d.value == "" {
				if !d.optional {
					add(d.field, "date manquante")
				}
				continue
			}
			if !validDate(d.value) {
				add(d.field, fmt.Sprintf("date %q invalide, format attendu AAAAMMJJ", d.value))
			}
		}

		switch {
		case e.Debit != 0 && e.Credit != 0:
			add("Debit", "débit et crédit renseignés sur la même ligne")
		case e.Debit == 0 && e.Credit == 0:
			add("Debit", "ni débit ni crédit")
		case e.Debit < 0 || e.Credit < 0:
			add("Debit", "montant négatif")
		}

		g, ok := groups[e.EcritureNum]
		if !ok {
			g = &group{}
			groups[e.EcritureNum] = g
			order = append(order, e.EcritureNum)
		}
		g.debit += e.Debit
		g.credit += e.Credit
	}

	for _, num := range order {
		g := groups[num]
		if g.debit != g.credit {
			issues = append(issues, Issue{
				EcritureNum: num,
				Message:     fmt.Sprintf("écriture déséquilibrée: débit %s, crédit %s", g.debit, g.credit),
			})
		}
	}
	return issues
}

// Balanced reports whether the document has entries and every EcritureNum
// group has equal debit and credit totals.
func Balanced(doc *Document) bool {
	if doc == nil || len(doc.Entries) == 0 {
		return false
	}
	sums := make(map[string]Amount)
	for _, e := range doc.Entries {
		sums[e.EcritureNum] += e.Debit - e.Credit
	}
	for _, s := range sums {
		if s != 0 {
			return false
		}
	}
	return true
}

func validDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
