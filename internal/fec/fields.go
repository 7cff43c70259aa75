package fec

// Field describes one FEC column as shown to the user next to a conversion.
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
}

// Fields lists the 18 FEC columns in file order.
var Fields = []Field{
	{Name: "JournalCode", Description: `Code du journal (ici, "AC" pour Journal d'achat).`},
	{Name: "JournalLib", Description: `Libellé du journal (ici, "Journal d'achat").`},
	{Name: "EcritureNum", Description: "Numéro de l'écriture."},
	{Name: "EcritureDate", Description: "Date de l'écriture (format AAAAMMJJ)."},
	{Name: "CompteNum", Description: "Numéro du compte."},
	{Name: "CompteLib", Description: "Libellé du compte."},
	{Name: "CompAuxNum", Description: "Numéro du compte auxiliaire (optionnel).", Optional: true},
	{Name: "CompAuxLib", Description: "Libellé du compte auxiliaire (optionnel).", Optional: true},
	{Name: "PieceRef", Description: "Référence de la pièce justificative (ici, le numéro de la facture)."},
	{Name: "PieceDate", Description: "Date de la pièce justificative (format AAAAMMJJ)."},
	{Name: "EcritureLib", Description: "Libellé de l'écriture."},
	{Name: "Debit", Description: "Montant débité."},
	{Name: "Credit", Description: "Montant crédité."},
	{Name: "EcritureLet", Description: "Lettre de l'écriture (optionnel).", Optional: true},
	{Name: "DateLet", Description: "Date de la lettre de l'écriture (optionnel).", Optional: true},
	{Name: "ValidDate", Description: "Date de validation (optionnel).", Optional: true},
	{Name: "Montantdevise", Description: "Montant en devise (optionnel).", Optional: true},
	{Name: "Idevise", Description: "Code de la devise (optionnel).", Optional: true},
}

// Remarks are the closing notes displayed under the field list.
var Remarks = []string{
	"Assurez-vous que les comptes utilisés correspondent bien à votre plan comptable.",
	"Si la TVA est applicable, il faudra ajouter une ligne supplémentaire pour enregistrer la TVA déductible.",
	"Le format FEC peut varier légèrement en fonction des logiciels comptables, mais les champs principaux restent généralement les mêmes.",
}

// Conclusion closes the explanatory block.
const Conclusion = "Ces écritures comptables permettent de refléter correctement la facture dans votre comptabilité."

// ColumnNames returns the FEC header in file order.
func ColumnNames() []string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = f.Name
	}
	return names
}
