// Package postgres embebe las migraciones SQL del subsistema MFA.
package postgres

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir es el directorio raíz dentro del FS embebido.
const Dir = "."
