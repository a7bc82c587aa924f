package api

import (
	"embed"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemas embed.FS

func mustLoadSchema(name string) gojsonschema.JSONLoader {
	schemaBytes, err := schemas.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	return gojsonschema.NewBytesLoader(schemaBytes)
}
