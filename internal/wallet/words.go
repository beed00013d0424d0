package wallet

// aliasWords feed generated aliases. Every word has at most six letters so a
// generated alias never exceeds the 20 character cap.
var aliasWords = []string{
	"agua", "arbol", "arena", "barco", "bosque", "brisa", "campo", "cielo",
	"coral", "duna", "fuego", "flor", "gato", "hoja", "isla", "lago",
	"lince", "luna", "mar", "monte", "nieve", "nube", "oliva", "palma",
	"perla", "piedra", "playa", "puma", "rio", "roble", "sol", "tigre",
	"trigo", "valle", "viento", "zorro",
}
