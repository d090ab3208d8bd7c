package main

import (
	"flag"
	"log"
	"os"

	"movefeed/internal/typegen"
)

func main() {
	schemaPath := flag.String("schema", "", "Path to the gateway schema metadata JSON")
	outPath := flag.String("out", "", "Output Go file (default stdout)")
	pkg := flag.String("package", "events", "Package name for the generated file")

	flag.Parse()

	logger := log.New(os.Stderr, "[typegen] ", log.LstdFlags)

	if *schemaPath == "" {
		logger.Fatal("--schema is required")
	}

	schemaJSON, err := os.ReadFile(*schemaPath)
	if err != nil {
		logger.Fatalf("Read schema: %v", err)
	}

	src, err := typegen.Generate(schemaJSON, *pkg)
	if err != nil {
		logger.Fatalf("Generate: %v", err)
	}

	if *outPath == "" {
		os.Stdout.Write(src)
		return
	}
	if err := os.WriteFile(*outPath, src, 0o644); err != nil {
		logger.Fatalf("Write output: %v", err)
	}
	logger.Printf("Wrote %s", *outPath)
}
