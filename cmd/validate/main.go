package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gnemet/mssqlgrid"
	"github.com/xeipuuv/gojsonschema"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mssqlgrid-validate <message.json> [message2.json] ...")
		os.Exit(1)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(mssqlgrid.MessageSchema()))
	if err != nil {
		fmt.Printf("❌ Message schema does not load: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	for _, arg := range os.Args[1:] {
		path, err := filepath.Abs(arg)
		if err != nil {
			fmt.Printf("❌ Invalid message path: %s\n", arg)
			allValid = false
			continue
		}

		result, err := schema.Validate(gojsonschema.NewReferenceLoader("file://" + path))
		if err != nil {
			fmt.Printf("❌ Error validating %s: %v\n", filepath.Base(path), err)
			allValid = false
			continue
		}

		if result.Valid() {
			fmt.Printf("✅ %s is valid.\n", filepath.Base(path))
		} else {
			fmt.Printf("❌ %s is invalid!\n", filepath.Base(path))
			for _, desc := range result.Errors() {
				fmt.Printf("   - %s\n", desc)
			}
			allValid = false
		}
	}

	if !allValid {
		os.Exit(1)
	}
}
