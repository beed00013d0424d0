package transfer

import "strings"

// Motives are the BCRA transfer purpose codes.
var Motives = map[string]string{
	"ALQ": "Alquileres",
	"APC": "Aportes de capital",
	"CUO": "Cuotas",
	"EXP": "Expensas",
	"FAC": "Facturas",
	"HAB": "Haberes",
	"HON": "Honorarios",
	"PRE": "Prestamos",
	"SEG": "Seguros",
	"VAR": "Varios",
}

// NormalizeMotive returns the canonical code and whether it is known.
func NormalizeMotive(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	_, ok := Motives[code]
	return code, ok
}
